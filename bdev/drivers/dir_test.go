package drivers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lxc/lxc-bdev/bdev"
)

func TestDir_CreateMakesDestination(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "c1", "rootfs")

	d := Dir{}
	h := bdev.NewHandle(bdev.TypeDir)
	require.NoError(t, d.Create(context.Background(), h, dest, "c1", bdev.Specs{}))

	fi, err := os.Stat(dest)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
	assert.Equal(t, os.FileMode(0755), fi.Mode().Perm())
	assert.Equal(t, dest, h.Destination)
	assert.Equal(t, dest, h.Source)
}

func TestDir_Detect(t *testing.T) {
	dir := t.TempDir()
	d := Dir{}
	assert.True(t, d.Detect(dir))
	assert.False(t, d.Detect(filepath.Join(dir, "does-not-exist")))
	assert.False(t, d.Detect("zfs:tank/lxc/c1"))
}

func TestDir_ClonePaths_RefusesSnapshot(t *testing.T) {
	d := Dir{}
	orig := bdev.NewHandle(bdev.TypeDir)
	orig.Destination = filepath.Join(t.TempDir(), "c1", "rootfs")
	newH := bdev.NewHandle(bdev.TypeDir)

	err := d.ClonePaths(context.Background(), orig, newH, bdev.CloneParams{
		NewName:  "c2",
		NewPath:  t.TempDir(),
		Snapshot: true,
	})
	assert.ErrorIs(t, err, bdev.ErrUnsupported)

	caps, ok := bdev.CapsFor(bdev.TypeDir)
	require.True(t, ok)
	assert.False(t, caps.CanSnapshot, "capsTable must agree with ClonePaths' refusal")
}

func TestDir_ClonePaths_PlainCopyMakesDestination(t *testing.T) {
	d := Dir{}
	orig := bdev.NewHandle(bdev.TypeDir)
	orig.Destination = filepath.Join(t.TempDir(), "c1", "rootfs")
	newH := bdev.NewHandle(bdev.TypeDir)
	newLXCPath := t.TempDir()

	require.NoError(t, d.ClonePaths(context.Background(), orig, newH, bdev.CloneParams{
		NewName: "c2",
		NewPath: newLXCPath,
	}))

	fi, err := os.Stat(newH.Destination)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
	assert.Equal(t, newH.Destination, newH.Source)
}
