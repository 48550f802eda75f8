package bdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapsFor_MatchesAuthoritativeTable(t *testing.T) {
	cases := []struct {
		typ         TypeName
		canSnapshot bool
		canBackup   bool
	}{
		{TypeDir, false, true},
		{TypeLoop, false, true},
		{TypeLVM, true, false},
		{TypeBtrfs, true, true},
		{TypeZFS, true, true},
		{TypeAUFS, true, true},
		{TypeOverlayFS, true, true},
		{TypeRBD, false, false},
		{TypeNBD, true, false},
	}
	for _, c := range cases {
		got, ok := CapsFor(c.typ)
		assert.True(t, ok, "type %s", c.typ)
		assert.Equal(t, c.canSnapshot, got.CanSnapshot, "type %s can_snapshot", c.typ)
		assert.Equal(t, c.canBackup, got.CanBackup, "type %s can_backup", c.typ)
	}
}

func TestCapsFor_Unknown(t *testing.T) {
	_, ok := CapsFor(TypeName("bogus"))
	assert.False(t, ok)
}

func TestSpecs_WithDefaults(t *testing.T) {
	s := Specs{}.WithDefaults("c1")
	assert.Equal(t, "ext3", s.FSType)
	assert.Equal(t, uint64(1<<30), s.FSSize)
	assert.Equal(t, "lxc", s.VG)
	assert.Equal(t, "c1", s.LV)
	assert.Equal(t, "tank/lxc", s.ZFSRoot)
}

func TestSpecs_WithDefaults_PreservesSetFields(t *testing.T) {
	s := Specs{FSType: "ext4", VG: "myvg"}.WithDefaults("c1")
	assert.Equal(t, "ext4", s.FSType)
	assert.Equal(t, "myvg", s.VG)
}

func TestNewHandle_UnownedSentinels(t *testing.T) {
	h := NewHandle(TypeDir)
	assert.Equal(t, -1, h.LoopFD)
	assert.Equal(t, -1, h.NBDIndex)
}
