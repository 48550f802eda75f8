package drivers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lxc/lxc-bdev/bdev"
)

func TestParseNBDSource(t *testing.T) {
	image, partition, err := parseNBDSource("nbd:/var/lib/lxc/c1/rootdev")
	assert.NoError(t, err)
	assert.Equal(t, "/var/lib/lxc/c1/rootdev", image)
	assert.Equal(t, 0, partition)
}

func TestParseNBDSource_PartitionBoundaries(t *testing.T) {
	for p := '1'; p <= '9'; p++ {
		image, partition, err := parseNBDSource("nbd:/img:" + string(p))
		assert.NoError(t, err, "partition %c", p)
		assert.Equal(t, "/img", image)
		assert.Equal(t, int(p-'0'), partition)
	}
}

func TestParseNBDSource_RejectsOutOfRange(t *testing.T) {
	for _, bad := range []string{"0", "A", "10"} {
		_, _, err := parseNBDSource("nbd:/img:" + bad)
		assert.Error(t, err, "partition %q", bad)
	}
}

func TestNBD_Detect(t *testing.T) {
	n := NBD{}
	assert.True(t, n.Detect("nbd:/img"))
	assert.False(t, n.Detect("/img"))
}

// NBD.ClonePaths is unconditionally unsupported per spec.md §4.2, even
// though the §3 capability table marks nbd can_snapshot=yes — see
// DESIGN.md's Open Question decision on this conflict.
func TestNBD_ClonePaths_AlwaysUnsupported(t *testing.T) {
	n := NBD{}
	orig := bdev.NewHandle(bdev.TypeNBD)
	newH := bdev.NewHandle(bdev.TypeNBD)

	err := n.ClonePaths(context.Background(), orig, newH, bdev.CloneParams{Snapshot: false})
	assert.ErrorIs(t, err, bdev.ErrUnsupported)

	err = n.ClonePaths(context.Background(), orig, newH, bdev.CloneParams{Snapshot: true})
	assert.ErrorIs(t, err, bdev.ErrUnsupported)
}

func TestNBD_CreateAndDestroy_Unsupported(t *testing.T) {
	n := NBD{}
	assert.ErrorIs(t, n.Create(context.Background(), bdev.NewHandle(bdev.TypeNBD), "/dest", "c1", bdev.Specs{}), bdev.ErrUnsupported)
	assert.ErrorIs(t, n.Destroy(context.Background(), bdev.NewHandle(bdev.TypeNBD)), bdev.ErrUnsupported)
}
