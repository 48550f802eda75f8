package idshift

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChown_WalksTree(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("requires root to chown")
	}

	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	file := filepath.Join(sub, "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	require.NoError(t, Chown(dir, 1000, 1000))

	fi, err := os.Stat(file)
	require.NoError(t, err)
	st := fi.Sys().(*syscall.Stat_t)
	assert.Equal(t, uint32(1000), st.Uid)
	assert.Equal(t, uint32(1000), st.Gid)
}

func TestChown_MissingPathReturnsError(t *testing.T) {
	err := Chown(filepath.Join(t.TempDir(), "missing"), 0, 0)
	assert.Error(t, err)
}
