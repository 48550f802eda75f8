package bdev

import (
	"context"
	"os"
	"strings"
)

// Manager bundles a Registry with the container-facing helpers that
// original_source bdev.c exposes alongside the core vtable dispatch:
// rootfs_is_blockdev, bdev_is_dir, and the privilege-drop destroy wrapper
// (see SPEC_FULL.md §4 "Supplemented features").
type Manager struct {
	Registry *Registry
}

// NewManager wraps a Registry.
func NewManager(r *Registry) *Manager {
	return &Manager{Registry: r}
}

// IsDir implements bdev_is_dir (original_source bdev.c:1489): true iff
// path exists and is a directory.
func (m *Manager) IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// RootfsIsBlockDevice implements rootfs_is_blockdev (original_source
// bdev.c:1766): true iff the configured rootfs resolves to a back-end
// that is block-backed per isBlockBacked (lvm), or to nbd or loop, i.e.
// a back-end whose rootfs is a block device or needs an attach step
// (e.g. nbdsup.AttachIfRequired) before it can be mounted.
func (m *Manager) RootfsIsBlockDevice(source string) bool {
	h, err := m.Registry.Query(source)
	if err != nil {
		return false
	}
	return isBlockBacked(h.Type) || h.Type == TypeNBD || h.Type == TypeLoop
}

// PrivilegeDropper performs whatever setuid/setgid/capability transition
// is required before destroying storage on behalf of an unprivileged
// container. The mechanics of that transition are an external
// collaborator (spec.md §1 excludes user-namespace id-mapping); Manager
// only guarantees the drop happens before Destroy runs and that Destroy
// still runs even if the caller supplies a no-op dropper.
type PrivilegeDropper func() error

// DestroyAsRoot implements bdev_destroy_wrapper (original_source
// bdev.c:1805): run drop (if non-nil) then destroy h via its backend.
// Errors from drop abort before any storage is touched.
func (m *Manager) DestroyAsRoot(ctx context.Context, h *Handle, drop PrivilegeDropper) error {
	if drop != nil {
		if err := drop(); err != nil {
			return Wrapf(err, "drop privileges before destroying %s", h)
		}
	}
	d, err := m.Registry.driverFor(h.Type)
	if err != nil {
		return err
	}
	return d.Destroy(ctx, h)
}

// dirNewPath implements dir_new_path (original_source bdev.c): every
// substring oldname appearing in src after the oldpath prefix is replaced
// by newname. Idempotent when oldname == newname (spec.md §8 round-trip
// law).
func dirNewPath(src, oldname, newname, oldpath, newpath string) string {
	rest := src
	hadPrefix := false
	if oldpath != "" && strings.HasPrefix(src, oldpath) {
		rest = strings.TrimPrefix(src, oldpath)
		hadPrefix = true
	}
	if oldname != "" {
		rest = strings.ReplaceAll(rest, oldname, newname)
	}
	if hadPrefix {
		return newpath + rest
	}
	return rest
}
