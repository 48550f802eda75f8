// Package drivers holds the nine per-backend implementations of
// bdev.Driver (spec.md §4.2).
package drivers

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/lxc/lxc-bdev/bdev"
)

var log = logrus.WithField("subsystem", "lxc.bdev")

// Dir is the plain-directory back-end (spec.md §4.2 "dir").
type Dir struct{}

func NewDir() *Dir { return &Dir{} }

func (Dir) Type() bdev.TypeName { return bdev.TypeDir }

// Detect accepts the "dir:" prefix verbatim, or any existing directory
// path (spec.md §4.2). Being last among the kernel-probe back-ends in
// the registry order, the directory fallback only fires once zfs, lvm,
// rbd and btrfs have all declined.
func (Dir) Detect(source string) bool {
	if strings.HasPrefix(source, "dir:") {
		return true
	}
	fi, err := os.Stat(source)
	return err == nil && fi.IsDir()
}

func stripPrefix(source, prefix string) string {
	return strings.TrimPrefix(source, prefix)
}

// Create provisions the destination directory itself as the storage
// artifact: there is nothing to allocate beyond mkdir.
func (d *Dir) Create(ctx context.Context, h *bdev.Handle, dest, name string, specs bdev.Specs) error {
	path := dest
	if specs.Dir != "" {
		path = specs.Dir
	}
	if path == "" {
		return bdev.Wrapf(bdev.ErrBadArgument, "dir create: no destination given")
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "mkdir %q: %v", path, err)
	}
	h.Source = path
	h.Destination = path
	return nil
}

// Mount is a bind mount with MS_BIND|MS_REC plus the parsed mount-option
// flags (spec.md §4.2).
func (Dir) Mount(ctx context.Context, h *bdev.Handle) error {
	if h.Source == "" || h.Destination == "" {
		return bdev.Wrapf(bdev.ErrBadArgument, "dir mount: missing source or destination")
	}
	source := stripPrefix(h.Source, "dir:")
	flags := uintptr(unix.MS_BIND | unix.MS_REC)
	flags |= h.MountOpts.Flags
	if err := unix.Mount(source, h.Destination, "", flags, h.MountOpts.Data); err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "bind mount %q -> %q: %v", source, h.Destination, err)
	}
	return nil
}

func (Dir) Umount(ctx context.Context, h *bdev.Handle) error {
	if h.Destination == "" {
		return bdev.Wrapf(bdev.ErrBadArgument, "dir umount: missing destination")
	}
	if err := unix.Unmount(h.Destination, 0); err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "unmount %q: %v", h.Destination, err)
	}
	return nil
}

// ClonePaths refuses snap=true; it rewrites the destination to
// <lxcpath>/<newname>/rootfs and copies the source likewise (spec.md
// §4.2). The actual byte copy happens in the orchestrator's generic copy
// path (bdev/copy.go); ClonePaths only derives paths and ensures the
// target directory exists, per the "must not touch the filesystem [beyond
// path derivation] when it returns failure" contract (spec.md §4.7).
func (Dir) ClonePaths(ctx context.Context, orig *bdev.Handle, newH *bdev.Handle, p bdev.CloneParams) error {
	if p.Snapshot {
		return bdev.Wrapf(bdev.ErrUnsupported, "dir cannot snapshot")
	}
	newH.Source = bdev.RootfsPath(p.NewPath, p.NewName)
	newH.Destination = newH.Source
	if err := os.MkdirAll(newH.Destination, 0755); err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "mkdir %q: %v", newH.Destination, err)
	}
	return nil
}

func (Dir) Destroy(ctx context.Context, h *bdev.Handle) error {
	if h.Destination == "" {
		return nil
	}
	if err := os.RemoveAll(h.Destination); err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "remove %q: %v", h.Destination, err)
	}
	return nil
}

