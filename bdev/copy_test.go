package bdev

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, drivers ...Driver) *Manager {
	t.Helper()
	reg, err := NewRegistry(drivers...)
	require.NoError(t, err)
	return NewManager(reg)
}

func allFakeDriversDetecting(typ TypeName, match func(string) bool) []Driver {
	var out []Driver
	for _, t := range defaultOrder {
		tt := t
		if tt == typ {
			out = append(out, &fakeDriver{t: tt, detectFn: match})
			continue
		}
		out = append(out, &fakeDriver{t: tt})
	}
	return out
}

func TestCopy_DirSnapshotPromotesToOverlayfs(t *testing.T) {
	m := newTestManager(t, allFakeDriversDetecting(TypeDir, func(s string) bool { return true })...)

	req := CopyRequest{
		Source: Container{
			Name:         "c1",
			LXCPath:      "/var/lib/lxc",
			RootfsSource: "/var/lib/lxc/c1/rootfs",
		},
		NewName:    "c2",
		NewLXCPath: "/var/lib/lxc",
		Flags:      FlagSnapshot,
	}

	res, err := m.Copy(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, TypeOverlayFS, res.Handle.Type)
	assert.Contains(t, res.Handle.Destination, "c2")
	assert.NotContains(t, res.Handle.Destination, "c1")
	assert.True(t, res.NeedsRootfsDep, "dir -> overlayfs promotion must set the rootfs-dep flag")
}

func TestCopy_ContainmentCheckFails(t *testing.T) {
	m := newTestManager(t, allFakeDriversDetecting(TypeDir, func(s string) bool { return true })...)

	req := CopyRequest{
		Source: Container{
			Name:         "c1",
			LXCPath:      "/var/lib/lxc",
			RootfsSource: "/var/lib/lxc/other/rootfs",
		},
		NewName: "c2",
	}

	_, err := m.Copy(context.Background(), req)
	assert.ErrorIs(t, err, ErrBadArgument)
}

func TestCopy_UnprivilegedLVMSnapshotRejected(t *testing.T) {
	m := newTestManager(t, allFakeDriversDetecting(TypeLVM, func(s string) bool { return true })...)

	req := CopyRequest{
		Source: Container{
			Name:         "c1",
			LXCPath:      "/var/lib/lxc",
			RootfsSource: "/dev/lxc/c1",
			Unprivileged: true,
		},
		NewName: "c2",
		NewType: TypeLVM,
		Flags:   FlagSnapshot,
	}

	_, err := m.Copy(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestCopy_ClonePathsIdempotentRenaming(t *testing.T) {
	got := dirNewPath("/var/lib/lxc/c1/rootfs", "c1", "c2", "/var/lib/lxc", "/var/lib/lxc")
	assert.Equal(t, "/var/lib/lxc/c2/rootfs", got)
}
