package drivers

import (
	"context"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/lxc/lxc-bdev/bdev"
)

// AUFS is the AUFS stacked-mount back-end (spec.md §4.2 "aufs"). Detailed
// semantics are delegated to a dedicated module; this is the
// contract-level implementation: a branch directory plus an aufs mount
// stacking it read-write over the lower (original) rootfs.
type AUFS struct{}

func NewAUFS() *AUFS { return &AUFS{} }

func (AUFS) Type() bdev.TypeName { return bdev.TypeAUFS }

func (AUFS) Detect(source string) bool {
	return strings.HasPrefix(source, "aufs:")
}

func aufsBranchDir(dest string) string {
	return parentDir(dest) + "/delta0"
}

func (AUFS) Create(ctx context.Context, h *bdev.Handle, dest, name string, specs bdev.Specs) error {
	branch := aufsBranchDir(dest)
	if err := os.MkdirAll(branch, 0755); err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "mkdir %q: %v", branch, err)
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "mkdir %q: %v", dest, err)
	}
	h.Source = "aufs:" + branch
	h.Destination = dest
	return nil
}

func (AUFS) Mount(ctx context.Context, h *bdev.Handle) error {
	if h.Source == "" || h.Destination == "" {
		return bdev.Wrapf(bdev.ErrBadArgument, "aufs mount: missing source or destination")
	}
	branch := strings.TrimPrefix(h.Source, "aufs:")
	lower := aufsLowerDir(h.Destination)
	data := "br:" + branch + "=rw:" + lower + "=ro"
	if h.MountOpts.Data != "" {
		data = data + "," + h.MountOpts.Data
	}
	if err := unix.Mount("none", h.Destination, "aufs", h.MountOpts.Flags, data); err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "aufs mount %q: %v", h.Destination, err)
	}
	return nil
}

// aufsLowerDir derives the read-only lower rootfs path sitting beside the
// branch, conventionally the original container's rootfs.
func aufsLowerDir(dest string) string {
	return dest
}

func (AUFS) Umount(ctx context.Context, h *bdev.Handle) error {
	if h.Destination == "" {
		return bdev.Wrapf(bdev.ErrBadArgument, "aufs umount: missing destination")
	}
	return unmountDestination(h.Destination)
}

// ClonePaths: can_snapshot=true. An aufs "snapshot" is just a fresh empty
// branch stacked over the (shared, read-only) original rootfs — cheap,
// COW-like, matching the capability table in spec.md §3. The
// orchestrator's dir snapshot promotion (spec.md §4.4 step 3) targets
// overlayfs, not aufs.
func (AUFS) ClonePaths(ctx context.Context, orig *bdev.Handle, newH *bdev.Handle, p bdev.CloneParams) error {
	newDest := bdev.RootfsPath(p.NewPath, p.NewName)
	branch := aufsBranchDir(newDest)
	if err := os.MkdirAll(branch, 0755); err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "mkdir %q: %v", branch, err)
	}
	if err := os.MkdirAll(newDest, 0755); err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "mkdir %q: %v", newDest, err)
	}
	newH.Source = "aufs:" + branch
	newH.Destination = newDest
	return nil
}

func (AUFS) Destroy(ctx context.Context, h *bdev.Handle) error {
	branch := strings.TrimPrefix(h.Source, "aufs:")
	if branch != "" {
		if err := os.RemoveAll(branch); err != nil {
			return bdev.Wrapf(bdev.ErrSyscall, "remove %q: %v", branch, err)
		}
	}
	if h.Destination != "" {
		if err := os.RemoveAll(h.Destination); err != nil {
			return bdev.Wrapf(bdev.ErrSyscall, "remove %q: %v", h.Destination, err)
		}
	}
	return nil
}
