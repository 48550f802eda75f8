package drivers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/lxc/lxc-bdev/bdev"
)

const (
	loopControlPath = "/dev/loop-control"
	loFlagsAutoclear = 4 // LO_FLAGS_AUTOCLEAR, uapi/linux/loop.h
)

// Loop is the loopback-image back-end (spec.md §4.2 "loop").
type Loop struct{}

func NewLoop() *Loop { return &Loop{} }

func (Loop) Type() bdev.TypeName { return bdev.TypeLoop }

func (Loop) Detect(source string) bool {
	return strings.HasPrefix(source, "loop:")
}

// Create writes a sparse backing file of specs.FSSize bytes (by seeking
// and writing a single byte, preserving the hole) and runs mkfs, per
// spec.md §4.2. Loopback cloning/creation does not preserve holes when
// copying an existing image elsewhere (spec.md §9 open question); this is
// the initial sparse-allocation path, which is unaffected by that
// limitation.
func (l *Loop) Create(ctx context.Context, h *bdev.Handle, dest, name string, specs bdev.Specs) error {
	if dest == "" {
		return bdev.Wrapf(bdev.ErrBadArgument, "loop create: no destination given")
	}
	backing := backingFilePath(dest, name)
	if err := os.MkdirAll(parentDir(backing), 0755); err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "mkdir %q: %v", parentDir(backing), err)
	}
	if err := createSparseFile(backing, specs.FSSize); err != nil {
		return err
	}

	fstype := specs.FSType
	if fstype == "" {
		fstype = "ext3"
	}
	if err := bdev.RunChild(ctx, "mkfs", "-t", fstype, backing); err != nil {
		return bdev.Wrapf(err, "mkfs -t %s %s", fstype, backing)
	}

	h.Source = "loop:" + backing
	h.Destination = dest
	return nil
}

func backingFilePath(dest, name string) string {
	// Canonical location per spec.md §6: <lxcpath>/<name>/rootdev.
	// dest is typically <lxcpath>/<name>/rootfs; sibling rootdev.
	dir := parentDir(dest)
	return dir + "/rootdev"
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func createSparseFile(path string, size uint64) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "create %q: %v", path, err)
	}
	defer f.Close()
	if size == 0 {
		return nil
	}
	if _, err := f.Seek(int64(size)-1, 0); err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "seek %q: %v", path, err)
	}
	if _, err := f.Write([]byte{0}); err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "write sentinel byte %q: %v", path, err)
	}
	return nil
}

// Mount implements spec.md §4.2's loop.mount: acquire a free loop device
// (LOOP_CTL_GET_FREE, falling back to scanning /dev/loop* probing
// LOOP_GET_STATUS64 for ENXIO), open the backing file, bind it with
// LOOP_SET_FD, set LO_FLAGS_AUTOCLEAR, then mount it trying candidate
// fstypes (MountUnknownFS) directly in the real mount namespace so the
// mount persists. On any error the loop fd is closed and h.LoopFD remains
// -1.
func (l *Loop) Mount(ctx context.Context, h *bdev.Handle) error {
	if h.Source == "" || h.Destination == "" {
		return bdev.Wrapf(bdev.ErrBadArgument, "loop mount: missing source or destination")
	}
	backing := strings.TrimPrefix(h.Source, "loop:")

	loopPath, loopFd, err := attachLoop(backing)
	if err != nil {
		return err
	}

	_, err = bdev.MountUnknownFS(ctx, loopPath, h.Destination, h.MountOpts)
	if err != nil {
		unix.IoctlSetInt(loopFd, unix.LOOP_CLR_FD, 0)
		unix.Close(loopFd)
		return bdev.Wrapf(err, "mount fstype for %s", loopPath)
	}

	h.LoopFD = loopFd
	return nil
}

// attachLoop implements find_free_loopdev / find_free_loopdev_no_control
// plus do_loop_create from original_source bdev.c: it returns the chosen
// /dev/loopN path and an open fd bound (via LOOP_SET_FD) to backing.
func attachLoop(backing string) (devPath string, loopFd int, err error) {
	backingFd, err := unix.Open(backing, unix.O_RDWR, 0)
	if err != nil {
		return "", -1, bdev.Wrapf(bdev.ErrSyscall, "open backing file %q: %v", backing, err)
	}
	defer unix.Close(backingFd)

	devPath, ctlErr := findFreeLoopdevViaControl()
	if ctlErr != nil {
		devPath, ctlErr = findFreeLoopdevScan()
		if ctlErr != nil {
			return "", -1, bdev.Wrapf(bdev.ErrNotFound, "no free loop device: %v", ctlErr)
		}
	}

	fd, err := unix.Open(devPath, unix.O_RDWR, 0)
	if err != nil {
		return "", -1, bdev.Wrapf(bdev.ErrSyscall, "open %q: %v", devPath, err)
	}

	if err := unix.IoctlSetInt(fd, unix.LOOP_SET_FD, backingFd); err != nil {
		unix.Close(fd)
		return "", -1, bdev.Wrapf(bdev.ErrSyscall, "LOOP_SET_FD on %q: %v", devPath, err)
	}

	info, err := unix.IoctlLoopGetStatus64(fd)
	if err != nil {
		unix.IoctlSetInt(fd, unix.LOOP_CLR_FD, 0)
		unix.Close(fd)
		return "", -1, bdev.Wrapf(bdev.ErrSyscall, "LOOP_GET_STATUS64 on %q: %v", devPath, err)
	}
	info.Flags |= loFlagsAutoclear
	if err := unix.IoctlLoopSetStatus64(fd, info); err != nil {
		unix.IoctlSetInt(fd, unix.LOOP_CLR_FD, 0)
		unix.Close(fd)
		return "", -1, bdev.Wrapf(bdev.ErrSyscall, "LOOP_SET_STATUS64 on %q: %v", devPath, err)
	}

	return devPath, fd, nil
}

// findFreeLoopdevViaControl implements the /dev/loop-control
// LOOP_CTL_GET_FREE fast path.
func findFreeLoopdevViaControl() (string, error) {
	ctlFd, err := unix.Open(loopControlPath, unix.O_RDWR, 0)
	if err != nil {
		return "", bdev.Wrapf(bdev.ErrSyscall, "open %q: %v", loopControlPath, err)
	}
	defer unix.Close(ctlFd)

	minor, err := unix.IoctlRetInt(ctlFd, unix.LOOP_CTL_GET_FREE)
	if err != nil {
		return "", bdev.Wrapf(bdev.ErrSyscall, "LOOP_CTL_GET_FREE: %v", err)
	}
	return fmt.Sprintf("/dev/loop%d", minor), nil
}

// findFreeLoopdevScan implements the fallback: iterate /dev/loop*,
// probing LOOP_GET_STATUS64 for ENXIO to detect an unused slot
// (spec.md §8 boundary behavior, §4.2).
func findFreeLoopdevScan() (string, error) {
	for i := 0; i < 256; i++ {
		path := fmt.Sprintf("/dev/loop%d", i)
		fd, err := unix.Open(path, unix.O_RDWR, 0)
		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			continue
		}
		_, statErr := unix.IoctlLoopGetStatus64(fd)
		unix.Close(fd)
		if statErr == unix.ENXIO {
			return path, nil
		}
	}
	return "", bdev.Wrapf(bdev.ErrNotFound, "no free loop device found by scan")
}

func (l *Loop) Umount(ctx context.Context, h *bdev.Handle) error {
	if h.Destination != "" {
		if err := unix.Unmount(h.Destination, 0); err != nil {
			return bdev.Wrapf(bdev.ErrSyscall, "unmount %q: %v", h.Destination, err)
		}
	}
	// LoopFD is owned by the handle and released on Destroy, not here,
	// per the Ownership design note (spec.md §9) — LO_FLAGS_AUTOCLEAR
	// already tears the binding down once the last open fd closes and
	// the device is no longer in use, but we keep the fd open until
	// Destroy to avoid a second handle racing onto the same minor.
	return nil
}

// ClonePaths refuses snapshots; for block-backed originals it queries the
// size via BLKGETSIZE64 unless newsize is given, then formats the new
// backing file with the original's fstype (falling back to the default),
// matching original_source bdev.c's do_loop_create, which always formats
// the new device rather than leaving it bare (spec.md §4.2).
func (l *Loop) ClonePaths(ctx context.Context, orig *bdev.Handle, newH *bdev.Handle, p bdev.CloneParams) error {
	if p.Snapshot {
		return bdev.Wrapf(bdev.ErrUnsupported, "loop cannot snapshot")
	}
	newDest := bdev.RootfsPath(p.NewPath, p.NewName)
	newBacking := backingFilePath(newDest, p.NewName)
	newH.Source = "loop:" + newBacking
	newH.Destination = newDest

	origBacking := strings.TrimPrefix(orig.Source, "loop:")
	size := p.NewSize
	if size == 0 {
		if s, err := blockDeviceSize(origBacking); err == nil {
			size = s
		} else {
			size = 1 << 30 // default fssize (1 GiB) for non-block originals
		}
	}
	if err := os.MkdirAll(parentDir(newBacking), 0755); err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "mkdir %q: %v", parentDir(newBacking), err)
	}
	if err := createSparseFile(newBacking, size); err != nil {
		return err
	}

	fstype := p.Specs.FSType
	if fstype == "" {
		fstype = probeOriginalFSType(ctx, origBacking)
	}
	if err := bdev.RunChild(ctx, "mkfs", "-t", fstype, newBacking); err != nil {
		return bdev.Wrapf(err, "mkfs -t %s %s", fstype, newBacking)
	}
	return nil
}

// probeOriginalFSType attaches origBacking to a loop device just long
// enough to read back its fstype via the throwaway-probe helper
// (bdev.ProbeFSType), then detaches it. Falls back to the loop back-end's
// default fstype if the original cannot be probed (e.g. it has no
// recognized filesystem yet).
func probeOriginalFSType(ctx context.Context, origBacking string) string {
	const defaultFSType = "ext3"

	devPath, loopFd, err := attachLoop(origBacking)
	if err != nil {
		return defaultFSType
	}
	defer func() {
		unix.IoctlSetInt(loopFd, unix.LOOP_CLR_FD, 0)
		unix.Close(loopFd)
	}()

	probeDest, err := os.MkdirTemp("", "lxc-bdev-fstype-probe-")
	if err != nil {
		return defaultFSType
	}
	defer os.Remove(probeDest)

	fstype, err := bdev.ProbeFSType(ctx, devPath, probeDest, bdev.MountOptions{})
	if err != nil {
		return defaultFSType
	}
	return fstype
}

// blockDeviceSize implements blk_getsize (original_source bdev.c:256) via
// BLKGETSIZE64 — a supplemented feature per SPEC_FULL.md §4: when no
// explicit new size is given during clone, the original block device's
// byte size is queried directly. ClonePaths uses the 1 GiB default only
// when this query fails (e.g. the original is a regular image file).
func blockDeviceSize(path string) (uint64, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return 0, bdev.Wrapf(bdev.ErrSyscall, "open %q: %v", path, err)
	}
	defer unix.Close(fd)

	size, err := unix.IoctlGetUint64(fd, unix.BLKGETSIZE64)
	if err != nil {
		return 0, bdev.Wrapf(bdev.ErrSyscall, "BLKGETSIZE64 %q: %v", path, err)
	}
	return size, nil
}

func (l *Loop) Destroy(ctx context.Context, h *bdev.Handle) error {
	if h.LoopFD >= 0 {
		unix.IoctlSetInt(h.LoopFD, unix.LOOP_CLR_FD, 0)
		unix.Close(h.LoopFD)
		h.LoopFD = -1
	}
	backing := strings.TrimPrefix(h.Source, "loop:")
	if backing == "" {
		return nil
	}
	if err := os.Remove(backing); err != nil && !os.IsNotExist(err) {
		return bdev.Wrapf(bdev.ErrSyscall, "remove %q: %v", backing, err)
	}
	return nil
}
