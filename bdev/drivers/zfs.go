package drivers

import (
	"context"
	"strings"

	"github.com/lxc/lxc-bdev/bdev"
)

// ZFS is the ZFS dataset back-end (spec.md §4.2 "zfs"). Per spec.md §4.2
// its detailed semantics are delegated to a dedicated module external to
// this spec; this is the contract-level implementation, shelling out to
// the zfs/zpool CLI (a thinner approach than moby's cgo libzfs bindings —
// see DESIGN.md).
type ZFS struct{}

func NewZFS() *ZFS { return &ZFS{} }

func (ZFS) Type() bdev.TypeName { return bdev.TypeZFS }

// Detect reports whether source names an existing ZFS dataset.
func (ZFS) Detect(source string) bool {
	if source == "" || strings.HasPrefix(source, "/") {
		return false
	}
	out, err := bdev.RunChildCaptured(context.Background(), "zfs", "list", "-H", "-o", "name", source)
	return err == nil && strings.TrimSpace(out) == source
}

func (ZFS) Create(ctx context.Context, h *bdev.Handle, dest, name string, specs bdev.Specs) error {
	zfsroot := specs.ZFSRoot
	if zfsroot == "" {
		zfsroot = "tank/lxc"
	}
	dataset := zfsroot + "/" + name
	if err := bdev.RunChild(ctx, "zfs", "create", "-o", "mountpoint="+dest, dataset); err != nil {
		return bdev.Wrapf(err, "zfs create %s", dataset)
	}
	h.Source = dataset
	h.Destination = dest
	return nil
}

func (ZFS) Mount(ctx context.Context, h *bdev.Handle) error {
	if h.Source == "" || h.Destination == "" {
		return bdev.Wrapf(bdev.ErrBadArgument, "zfs mount: missing source or destination")
	}
	if err := bdev.RunChild(ctx, "zfs", "set", "mountpoint="+h.Destination, h.Source); err != nil {
		return bdev.Wrapf(err, "zfs set mountpoint %s", h.Source)
	}
	return bdev.RunChild(ctx, "zfs", "mount", h.Source)
}

func (ZFS) Umount(ctx context.Context, h *bdev.Handle) error {
	if h.Source == "" {
		return bdev.Wrapf(bdev.ErrBadArgument, "zfs umount: missing source")
	}
	return bdev.RunChild(ctx, "zfs", "unmount", h.Source)
}

// ClonePaths: can_snapshot=true. Uses zfs snapshot+clone for the
// snapshot case; derives plain dataset paths otherwise.
func (ZFS) ClonePaths(ctx context.Context, orig *bdev.Handle, newH *bdev.Handle, p bdev.CloneParams) error {
	newDest := bdev.RootfsPath(p.NewPath, p.NewName)
	zfsroot := p.Specs.ZFSRoot
	if zfsroot == "" {
		zfsroot = "tank/lxc"
	}
	newDataset := zfsroot + "/" + p.NewName
	newH.Source = newDataset
	newH.Destination = newDest

	if !p.Snapshot {
		return nil
	}

	snapName := orig.Source + "@" + p.NewName
	if err := bdev.RunChild(ctx, "zfs", "snapshot", snapName); err != nil {
		return bdev.Wrapf(err, "zfs snapshot %s", snapName)
	}
	if err := bdev.RunChild(ctx, "zfs", "clone", "-o", "mountpoint="+newDest, snapName, newDataset); err != nil {
		return bdev.Wrapf(err, "zfs clone %s -> %s", snapName, newDataset)
	}
	return nil
}

func (ZFS) Destroy(ctx context.Context, h *bdev.Handle) error {
	if h.Source == "" {
		return nil
	}
	if err := bdev.RunChild(ctx, "zfs", "destroy", "-r", h.Source); err != nil {
		return bdev.Wrapf(err, "zfs destroy %s", h.Source)
	}
	return nil
}
