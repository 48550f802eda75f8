package drivers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lxc/lxc-bdev/bdev"
)

// NBD is the QEMU NBD block-image back-end (spec.md §4.2 "nbd"). Create,
// ClonePaths and Destroy are not implemented in the original and must
// surface Unsupported rather than silently succeeding (spec.md §9 open
// questions). The supervisor lifecycle itself lives in package nbdsup and
// is driven by the caller through nbdsup.AttachIfRequired and
// nbdsup.Detach, not by this driver's Mount.
type NBD struct{}

func NewNBD() *NBD { return &NBD{} }

func (NBD) Type() bdev.TypeName { return bdev.TypeNBD }

func (NBD) Detect(source string) bool {
	return strings.HasPrefix(source, "nbd:")
}

func (NBD) Create(ctx context.Context, h *bdev.Handle, dest, name string, specs bdev.Specs) error {
	return bdev.Wrapf(bdev.ErrUnsupported, "nbd create is not implemented")
}

// parseNBDSource splits "nbd:<path>[:<partition>]" into the image path and
// an optional partition number (1..9), per spec.md §6 and §8's boundary
// behavior (rejects 0, non-digits, and 10).
func parseNBDSource(source string) (image string, partition int, err error) {
	rest := strings.TrimPrefix(source, "nbd:")
	idx := strings.LastIndex(rest, ":")
	if idx < 0 {
		return rest, 0, nil
	}
	image = rest[:idx]
	suffix := rest[idx+1:]
	if len(suffix) != 1 || suffix[0] < '1' || suffix[0] > '9' {
		return "", 0, bdev.Wrapf(bdev.ErrBadArgument, "nbd partition suffix %q must be a single digit 1-9", suffix)
	}
	n, convErr := strconv.Atoi(suffix)
	if convErr != nil {
		return "", 0, bdev.Wrapf(bdev.ErrBadArgument, "nbd partition suffix %q: %v", suffix, convErr)
	}
	return image, n, nil
}

// Mount derives /dev/nbd<idx> or /dev/nbd<idx>p<part> from h.NBDIndex and
// an optional trailing partition identifier. When a partition is
// requested it waits up to 5 seconds for the device node to appear before
// mounting via the direct fstype mount helper (spec.md §4.2).
func (NBD) Mount(ctx context.Context, h *bdev.Handle) error {
	if h.NBDIndex < 0 {
		return bdev.Wrapf(bdev.ErrBadArgument, "nbd mount: no nbd index reserved on this handle")
	}
	if h.Destination == "" {
		return bdev.Wrapf(bdev.ErrBadArgument, "nbd mount: missing destination")
	}

	_, partition, err := parseNBDSource(h.Source)
	if err != nil {
		return err
	}

	devPath := fmt.Sprintf("/dev/nbd%d", h.NBDIndex)
	if partition > 0 {
		devPath = fmt.Sprintf("/dev/nbd%dp%d", h.NBDIndex, partition)
		if err := bdev.WaitForPartitionNode(ctx, devPath); err != nil {
			return err
		}
	}

	_, err = bdev.MountUnknownFS(ctx, devPath, h.Destination, h.MountOpts)
	return err
}

func (NBD) Umount(ctx context.Context, h *bdev.Handle) error {
	if h.Destination == "" {
		return bdev.Wrapf(bdev.ErrBadArgument, "nbd umount: missing destination")
	}
	return unmountDestination(h.Destination)
}

func (NBD) ClonePaths(ctx context.Context, orig *bdev.Handle, newH *bdev.Handle, p bdev.CloneParams) error {
	return bdev.Wrapf(bdev.ErrUnsupported, "nbd clone_paths is not implemented")
}

func (NBD) Destroy(ctx context.Context, h *bdev.Handle) error {
	return bdev.Wrapf(bdev.ErrUnsupported, "nbd destroy is not implemented")
}
