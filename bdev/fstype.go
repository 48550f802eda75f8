package bdev

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// candidateFSTypes implements spec.md §4.3 step 2: read /etc/filesystems
// first, then /proc/filesystems, skipping "nodev" lines, collecting
// whitespace-trimmed tokens as candidate filesystem types.
func candidateFSTypes() []string {
	var out []string
	seen := make(map[string]bool)
	for _, path := range []string{"/etc/filesystems", "/proc/filesystems"} {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			if fields[0] == "nodev" {
				continue
			}
			t := fields[len(fields)-1]
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
		f.Close()
	}
	return out
}

// ProbeFSType implements the namespace-isolated, throwaway probe that
// original_source bdev.c calls detect_fs: it is for callers that only need
// to learn a source's filesystem type and do not want the probe mount to
// persist (e.g. loop.clone_paths determining the original's fstype before
// formatting a new backing file). Do not use this for a mount that must
// remain mounted — see MountUnknownFS for that; the real loop/rbd/nbd/lvm
// mount call sites are wired to MountUnknownFS, not this function.
//
// Unlike the original's fork-based implementation, namespace isolation is
// achieved in-process by locking the calling goroutine to its OS thread
// and unsharing a private mount namespace — the same idiom
// canonical-lxd/lxd-migrate/main_migrate.go uses
// (LockOSThread+Unshare(CLONE_NEWNS)+Mount(MS_REC|MS_PRIVATE)) instead of
// a literal fork(), since Go cannot fork mid-process. UnlockOSThread runs
// once the probe mount's fstype has been read back; the private namespace,
// and the throwaway mount inside it, disappear with it, so nothing from
// this probe persists outside the call.
func ProbeFSType(ctx context.Context, source, dest string, opts MountOptions) (string, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return "", Wrapf(ErrSyscall, "unshare mount namespace: %v", err)
	}

	// Best-effort: mark / rslave (whether or not the host root is
	// shared), so mounts performed here do not propagate out (spec.md
	// §4.3 step 1).
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_SLAVE, ""); err != nil {
		log.WithError(err).Warn("fstype probe: could not mark / rslave, continuing")
	}

	for _, fstype := range candidateFSTypes() {
		err := unix.Mount(source, dest, fstype, opts.Flags, opts.Data)
		if err != nil {
			continue
		}
		actual, err := resolvedFSType(dest, source)
		unix.Unmount(dest, unix.MNT_DETACH)
		if err != nil {
			return "", err
		}
		return actual, nil
	}
	return "", Wrapf(ErrNotFound, "no candidate filesystem type mounted %q at %q", source, dest)
}

// MountUnknownFS implements mount_unknown_fs from original_source bdev.c:
// the direct, persistent mount used by the real loop/rbd/nbd/lvm mount
// call sites (spec.md §4.2's loop.mount/rbd.mount/nbd.mount/lvm.mount all
// "probe for an fstype" as part of the real, lasting mount, not a
// throwaway check). It iterates candidateFSTypes(), trying each with a
// plain unix.Mount in the caller's actual mount namespace — no
// LockOSThread/Unshare — so the result is visible in /proc/self/mounts
// and survives after this call returns, satisfying spec.md §8's round-trip
// invariant that a subsequent umount finds something to tear down.
func MountUnknownFS(ctx context.Context, source, dest string, opts MountOptions) (string, error) {
	for _, fstype := range candidateFSTypes() {
		err := unix.Mount(source, dest, fstype, opts.Flags, opts.Data)
		if err != nil {
			continue
		}
		actual, err := resolvedFSType(dest, source)
		if err != nil {
			unix.Unmount(dest, unix.MNT_DETACH)
			return "", err
		}
		return actual, nil
	}
	return "", Wrapf(ErrNotFound, "no candidate filesystem type mounted %q at %q", source, dest)
}

// resolvedFSType implements spec.md §4.3 step 4: after a successful
// mount, consult /proc/self/mounts to read back the actual fstype
// reported for the resolved (symlink-dereferenced) source.
func resolvedFSType(dest, source string) (string, error) {
	resolved, err := filepath.EvalSymlinks(source)
	if err != nil {
		resolved = source
	}

	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		return "", Wrapf(ErrSyscall, "open /proc/self/mounts: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mSource, mDest, mType := fields[0], fields[1], fields[2]
		if mDest != dest {
			continue
		}
		mResolved, err := filepath.EvalSymlinks(mSource)
		if err != nil {
			mResolved = mSource
		}
		if mResolved == resolved || mSource == source {
			return mType, nil
		}
	}
	return "", Wrapf(ErrNotFound, "no /proc/self/mounts entry for %q", dest)
}

// WaitForPartitionNode polls for up to 5 seconds for path to appear,
// matching spec.md §4.2 nbd.mount's partition wait and original_source
// bdev.c wait_for_partition.
func WaitForPartitionNode(ctx context.Context, path string) error {
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return Wrapf(ErrTimeout, "partition device %q did not appear", path)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
