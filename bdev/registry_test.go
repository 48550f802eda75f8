package bdev

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver is a minimal Driver used to exercise the registry without
// touching real storage back-ends.
type fakeDriver struct {
	t          TypeName
	detectFn   func(string) bool
	createErr  error
}

func (f *fakeDriver) Type() TypeName { return f.t }
func (f *fakeDriver) Detect(source string) bool {
	if f.detectFn != nil {
		return f.detectFn(source)
	}
	return false
}
func (f *fakeDriver) Create(ctx context.Context, h *Handle, dest, name string, specs Specs) error {
	if f.createErr != nil {
		return f.createErr
	}
	h.Source = dest
	h.Destination = dest
	return nil
}
func (f *fakeDriver) Mount(ctx context.Context, h *Handle) error  { return nil }
func (f *fakeDriver) Umount(ctx context.Context, h *Handle) error { return nil }
func (f *fakeDriver) ClonePaths(ctx context.Context, orig, newH *Handle, p CloneParams) error {
	newH.Source = RootfsPath(p.NewPath, p.NewName)
	newH.Destination = newH.Source
	return nil
}
func (f *fakeDriver) Destroy(ctx context.Context, h *Handle) error { return nil }

func allFakeDrivers() []Driver {
	var out []Driver
	for _, t := range defaultOrder {
		typ := t
		out = append(out, &fakeDriver{
			t: typ,
			detectFn: func(source string) bool {
				return strings.HasPrefix(source, string(typ)+":")
			},
		})
	}
	return out
}

func TestRegistry_QueryOrder(t *testing.T) {
	reg, err := NewRegistry(allFakeDrivers()...)
	require.NoError(t, err)

	for _, typ := range defaultOrder {
		h, err := reg.Query(string(typ) + ":something")
		require.NoError(t, err, "type %s", typ)
		assert.Equal(t, typ, h.Type)
	}
}

func TestRegistry_QueryNoMatch(t *testing.T) {
	reg, err := NewRegistry(allFakeDrivers()...)
	require.NoError(t, err)

	_, err = reg.Query("unmatched-source")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_Get(t *testing.T) {
	reg, err := NewRegistry(allFakeDrivers()...)
	require.NoError(t, err)

	h, err := reg.Get(TypeDir)
	require.NoError(t, err)
	assert.Equal(t, TypeDir, h.Type)
	assert.Equal(t, -1, h.LoopFD)
	assert.Equal(t, -1, h.NBDIndex)

	_, err = reg.Get(TypeName("bogus"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_CreateDefaultsToDir(t *testing.T) {
	reg, err := NewRegistry(allFakeDrivers()...)
	require.NoError(t, err)

	h, err := reg.Create(context.Background(), "/var/lib/lxc/c1/rootfs", "", "c1", Specs{})
	require.NoError(t, err)
	assert.Equal(t, TypeDir, h.Type)
}

func TestRegistry_CreateCommaList(t *testing.T) {
	drivers := []Driver{
		&fakeDriver{t: TypeBtrfs, createErr: ErrChildFailed},
		&fakeDriver{t: TypeZFS},
		&fakeDriver{t: TypeLVM},
		&fakeDriver{t: TypeDir},
		&fakeDriver{t: TypeRBD},
		&fakeDriver{t: TypeAUFS},
		&fakeDriver{t: TypeOverlayFS},
		&fakeDriver{t: TypeLoop},
		&fakeDriver{t: TypeNBD},
	}
	reg, err := NewRegistry(drivers...)
	require.NoError(t, err)

	h, err := reg.Create(context.Background(), "/dest", "btrfs,zfs", "c1", Specs{})
	require.NoError(t, err)
	assert.Equal(t, TypeZFS, h.Type)
}

func TestRegistry_CreateBestOrder(t *testing.T) {
	drivers := []Driver{
		&fakeDriver{t: TypeBtrfs, createErr: ErrChildFailed},
		&fakeDriver{t: TypeZFS, createErr: ErrChildFailed},
		&fakeDriver{t: TypeLVM},
		&fakeDriver{t: TypeDir},
		&fakeDriver{t: TypeRBD},
		&fakeDriver{t: TypeAUFS},
		&fakeDriver{t: TypeOverlayFS},
		&fakeDriver{t: TypeLoop},
		&fakeDriver{t: TypeNBD},
	}
	reg, err := NewRegistry(drivers...)
	require.NoError(t, err)

	h, err := reg.Create(context.Background(), "/dest", "best", "c1", Specs{})
	require.NoError(t, err)
	assert.Equal(t, TypeLVM, h.Type)
}

func TestRegistry_MissingDriverRejected(t *testing.T) {
	_, err := NewRegistry(&fakeDriver{t: TypeDir})
	assert.Error(t, err)
}
