package drivers

import (
	"context"
	"fmt"
	"strings"

	"github.com/lxc/lxc-bdev/bdev"
)

// LVM is the LVM logical-volume back-end (spec.md §4.2 "lvm"). Delegated
// in detail to a dedicated module per spec.md; this implementation shells
// out to lvcreate/lvremove/lvs rather than linking liblvm2.
type LVM struct{}

func NewLVM() *LVM { return &LVM{} }

func (LVM) Type() bdev.TypeName { return bdev.TypeLVM }

// Detect matches the LVM device-mapper path convention /dev/<vg>/<lv>.
func (LVM) Detect(source string) bool {
	if !strings.HasPrefix(source, "/dev/") {
		return false
	}
	rest := strings.TrimPrefix(source, "/dev/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return false
	}
	out, err := bdev.RunChildCaptured(context.Background(), "lvs", "--noheadings", "-o", "lv_path", source)
	return err == nil && strings.TrimSpace(out) == source
}

func (LVM) Create(ctx context.Context, h *bdev.Handle, dest, name string, specs bdev.Specs) error {
	vg := specs.VG
	if vg == "" {
		vg = "lxc"
	}
	lv := specs.LV
	if lv == "" {
		lv = name
	}
	sizeMB := specs.FSSize / (1 << 20)
	if sizeMB == 0 {
		sizeMB = 1024
	}

	args := []string{"-L", fmt.Sprintf("%dM", sizeMB), "-n", lv}
	if specs.ThinPool != "" {
		args = append(args, "-T", vg+"/"+specs.ThinPool)
	} else {
		args = append(args, vg)
	}
	if err := bdev.RunChild(ctx, "lvcreate", args...); err != nil {
		return bdev.Wrapf(err, "lvcreate %s/%s", vg, lv)
	}

	devPath := fmt.Sprintf("/dev/%s/%s", vg, lv)
	fstype := specs.FSType
	if fstype == "" {
		fstype = "ext3"
	}
	if err := bdev.RunChild(ctx, "mkfs", "-t", fstype, devPath); err != nil {
		return bdev.Wrapf(err, "mkfs -t %s %s", fstype, devPath)
	}

	h.Source = devPath
	h.Destination = dest
	return nil
}

func (LVM) Mount(ctx context.Context, h *bdev.Handle) error {
	if h.Source == "" || h.Destination == "" {
		return bdev.Wrapf(bdev.ErrBadArgument, "lvm mount: missing source or destination")
	}
	_, err := bdev.MountUnknownFS(ctx, h.Source, h.Destination, h.MountOpts)
	return err
}

func (LVM) Umount(ctx context.Context, h *bdev.Handle) error {
	if h.Destination == "" {
		return bdev.Wrapf(bdev.ErrBadArgument, "lvm umount: missing destination")
	}
	return unmountDestination(h.Destination)
}

// ClonePaths: can_snapshot=true, via lvcreate --snapshot when p.Snapshot
// is set; otherwise it only derives paths. needs_rdep is set by the orchestrator for the
// non-thin snapshot case per spec.md §4.4 step 5.
func (LVM) ClonePaths(ctx context.Context, orig *bdev.Handle, newH *bdev.Handle, p bdev.CloneParams) error {
	vg := p.Specs.VG
	if vg == "" {
		vg = "lxc"
	}
	lv := p.Specs.LV
	if lv == "" {
		lv = p.NewName
	}
	newDest := bdev.RootfsPath(p.NewPath, p.NewName)
	newDevPath := fmt.Sprintf("/dev/%s/%s", vg, lv)
	newH.Source = newDevPath
	newH.Destination = newDest

	if !p.Snapshot {
		return nil
	}

	sizeArg := "100%ORIGIN"
	if p.NewSize > 0 {
		sizeArg = fmt.Sprintf("%dM", p.NewSize/(1<<20))
	}
	if err := bdev.RunChild(ctx, "lvcreate", "-s", "-L", sizeArg, "-n", lv, orig.Source); err != nil {
		return bdev.Wrapf(err, "lvcreate --snapshot %s -> %s", orig.Source, lv)
	}
	return nil
}

func (LVM) Destroy(ctx context.Context, h *bdev.Handle) error {
	if h.Source == "" {
		return nil
	}
	if err := bdev.RunChild(ctx, "lvremove", "-f", h.Source); err != nil {
		return bdev.Wrapf(err, "lvremove %s", h.Source)
	}
	return nil
}
