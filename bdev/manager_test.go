package bdev

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirNewPath(t *testing.T) {
	got := dirNewPath("/var/lib/lxc/c1/rootfs", "c1", "c2", "/var/lib/lxc", "/var/lib/lxc")
	assert.Equal(t, "/var/lib/lxc/c2/rootfs", got)
}

func TestDirNewPath_Idempotent(t *testing.T) {
	src := "/var/lib/lxc/c1/rootfs"
	got := dirNewPath(src, "c1", "c1", "/var/lib/lxc", "/var/lib/lxc")
	assert.Equal(t, src, got)
}

func TestDirNewPath_DifferentLXCPath(t *testing.T) {
	got := dirNewPath("/old/c1/rootfs", "c1", "c2", "/old", "/new")
	assert.Equal(t, "/new/c2/rootfs", got)
}

func TestManager_IsDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	m := NewManager(nil)
	assert.True(t, m.IsDir(dir))
	assert.False(t, m.IsDir(file))
	assert.False(t, m.IsDir(filepath.Join(dir, "missing")))
}
