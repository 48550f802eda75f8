package drivers

import (
	"context"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/lxc/lxc-bdev/bdev"
)

// OverlayFS is the OverlayFS stacked-mount back-end (spec.md §4.2
// "overlayfs"). Delegated in detail to a dedicated module; this is the
// contract-level implementation. It is the target the copy orchestrator
// promotes a dir snapshot request to (spec.md §4.4 step 3).
type OverlayFS struct{}

func NewOverlayFS() *OverlayFS { return &OverlayFS{} }

func (OverlayFS) Type() bdev.TypeName { return bdev.TypeOverlayFS }

func (OverlayFS) Detect(source string) bool {
	return strings.HasPrefix(source, "overlayfs:")
}

func overlayDirs(dest string) (upper, work string) {
	base := parentDir(dest)
	return base + "/delta0", base + "/work"
}

func (OverlayFS) Create(ctx context.Context, h *bdev.Handle, dest, name string, specs bdev.Specs) error {
	upper, work := overlayDirs(dest)
	for _, d := range []string{upper, work, dest} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return bdev.Wrapf(bdev.ErrSyscall, "mkdir %q: %v", d, err)
		}
	}
	h.Source = "overlayfs:" + upper
	h.Destination = dest
	return nil
}

func (OverlayFS) Mount(ctx context.Context, h *bdev.Handle) error {
	if h.Source == "" || h.Destination == "" {
		return bdev.Wrapf(bdev.ErrBadArgument, "overlayfs mount: missing source or destination")
	}
	upper := strings.TrimPrefix(h.Source, "overlayfs:")
	_, work := overlayDirs(h.Destination)
	lower := h.Destination
	data := "lowerdir=" + lower + ",upperdir=" + upper + ",workdir=" + work
	if h.MountOpts.Data != "" {
		data = data + "," + h.MountOpts.Data
	}
	if err := unix.Mount("overlay", h.Destination, "overlay", h.MountOpts.Flags, data); err != nil {
		return bdev.Wrapf(bdev.ErrSyscall, "overlay mount %q: %v", h.Destination, err)
	}
	return nil
}

func (OverlayFS) Umount(ctx context.Context, h *bdev.Handle) error {
	if h.Destination == "" {
		return bdev.Wrapf(bdev.ErrBadArgument, "overlayfs umount: missing destination")
	}
	return unmountDestination(h.Destination)
}

// ClonePaths: can_snapshot=true, cheap COW via a fresh empty upperdir
// stacked over the shared lower rootfs, matching spec.md §3's capability
// table and the dir->overlayfs promotion of spec.md §4.4 step 3.
func (OverlayFS) ClonePaths(ctx context.Context, orig *bdev.Handle, newH *bdev.Handle, p bdev.CloneParams) error {
	newDest := bdev.RootfsPath(p.NewPath, p.NewName)
	upper, work := overlayDirs(newDest)
	for _, d := range []string{upper, work, newDest} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return bdev.Wrapf(bdev.ErrSyscall, "mkdir %q: %v", d, err)
		}
	}
	newH.Source = "overlayfs:" + upper
	newH.Destination = newDest
	return nil
}

func (OverlayFS) Destroy(ctx context.Context, h *bdev.Handle) error {
	upper := strings.TrimPrefix(h.Source, "overlayfs:")
	if upper != "" {
		if err := os.RemoveAll(upper); err != nil {
			return bdev.Wrapf(bdev.ErrSyscall, "remove %q: %v", upper, err)
		}
		_, work := overlayDirs(h.Destination)
		os.RemoveAll(work)
	}
	if h.Destination != "" {
		if err := os.RemoveAll(h.Destination); err != nil {
			return bdev.Wrapf(bdev.ErrSyscall, "remove %q: %v", h.Destination, err)
		}
	}
	return nil
}
