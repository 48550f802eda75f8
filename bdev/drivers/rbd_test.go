package drivers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lxc/lxc-bdev/bdev"
)

func TestRBD_Detect(t *testing.T) {
	r := RBD{}
	assert.True(t, r.Detect("/dev/rbd/rbd/c1"))
	assert.False(t, r.Detect("/dev/sda1"))
}

func TestRBD_DevicePath(t *testing.T) {
	assert.Equal(t, "/dev/rbd/rbd/c1", rbdDevicePath("rbd", "c1"))
}

func TestSplitRBDPath(t *testing.T) {
	pool, image, err := splitRBDPath("/dev/rbd/rbd/c1")
	assert.NoError(t, err)
	assert.Equal(t, "rbd", pool)
	assert.Equal(t, "c1", image)

	_, _, err = splitRBDPath("/dev/sda1")
	assert.Error(t, err)
}

func TestRBD_ClonePaths_AlwaysUnsupported(t *testing.T) {
	r := RBD{}
	orig := bdev.NewHandle(bdev.TypeRBD)
	newH := bdev.NewHandle(bdev.TypeRBD)
	err := r.ClonePaths(context.Background(), orig, newH, bdev.CloneParams{})
	assert.ErrorIs(t, err, bdev.ErrUnsupported)

	caps, ok := bdev.CapsFor(bdev.TypeRBD)
	assert.True(t, ok)
	assert.False(t, caps.CanSnapshot)
}

func TestRBD_Mount_MissingDeviceFails(t *testing.T) {
	r := RBD{}
	h := bdev.NewHandle(bdev.TypeRBD)
	h.Source = "/dev/rbd/rbd/does-not-exist"
	h.Destination = t.TempDir()
	err := r.Mount(context.Background(), h)
	assert.ErrorIs(t, err, bdev.ErrNotFound)
}
