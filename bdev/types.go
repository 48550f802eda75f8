package bdev

import "fmt"

// TypeName identifies a storage back-end. The zero value is invalid.
type TypeName string

const (
	TypeDir       TypeName = "dir"
	TypeLoop      TypeName = "loop"
	TypeLVM       TypeName = "lvm"
	TypeBtrfs     TypeName = "btrfs"
	TypeZFS       TypeName = "zfs"
	TypeAUFS      TypeName = "aufs"
	TypeOverlayFS TypeName = "overlayfs"
	TypeRBD       TypeName = "rbd"
	TypeNBD       TypeName = "nbd"
)

// Caps carries the two capability flags from spec.md §3's authoritative
// table. They are fixed per back-end, never per handle.
type Caps struct {
	CanSnapshot bool
	CanBackup   bool
}

// capsTable is the authoritative table from spec.md §3.
var capsTable = map[TypeName]Caps{
	TypeDir:       {CanSnapshot: false, CanBackup: true},
	TypeLoop:      {CanSnapshot: false, CanBackup: true},
	TypeLVM:       {CanSnapshot: true, CanBackup: false},
	TypeBtrfs:     {CanSnapshot: true, CanBackup: true},
	TypeZFS:       {CanSnapshot: true, CanBackup: true},
	TypeAUFS:      {CanSnapshot: true, CanBackup: true},
	TypeOverlayFS: {CanSnapshot: true, CanBackup: true},
	TypeRBD:       {CanSnapshot: false, CanBackup: false},
	TypeNBD:       {CanSnapshot: true, CanBackup: false},
}

// isBlockBacked reports whether type is treated as a raw block device for
// sizing/fstype-probing purposes during clone. Per original_source bdev.c
// is_blktype, only lvm qualifies today.
func isBlockBacked(t TypeName) bool {
	return t == TypeLVM
}

// unprivilegedAllowed is the set of back-ends the copy orchestrator may
// target when running unprivileged (spec.md §4.4 step 4).
var unprivilegedAllowed = map[TypeName]bool{
	TypeDir:       true,
	TypeAUFS:      true,
	TypeOverlayFS: true,
	TypeBtrfs:     true,
	TypeLoop:      true,
}

// Specs is the creation parameter record (spec.md §3 Backend-specs). Only
// the fields relevant to the selected back-end are consulted; zero values
// mean "use the default".
type Specs struct {
	// dir
	Dir string

	// loop / dir-backed filesystem creation
	FSType string
	FSSize uint64

	// lvm
	VG       string
	LV       string
	ThinPool string

	// zfs
	ZFSRoot string

	// rbd
	RBDPool string
	RBDName string
}

// WithDefaults returns a copy of s with spec.md §3's documented defaults
// applied to any zero fields.
func (s Specs) WithDefaults(containerName string) Specs {
	out := s
	if out.FSType == "" {
		out.FSType = "ext3"
	}
	if out.FSSize == 0 {
		out.FSSize = 1 << 30 // 1 GiB
	}
	if out.VG == "" {
		out.VG = "lxc"
	}
	if out.LV == "" {
		out.LV = containerName
	}
	if out.ZFSRoot == "" {
		out.ZFSRoot = "tank/lxc"
	}
	return out
}

// MountOptions is the parsed comma-separated option string (spec.md §6).
type MountOptions struct {
	Flags uintptr
	Data  string
}

// Handle is the backend handle (spec.md §3): the semantic tuple
// { type_name, source, destination, mount_options, loop_fd, nbd_index }.
// loop_fd/nbd_index are owned exclusively by the handle that opened them
// per the Ownership design note (spec.md §9). loop_fd is released by
// Destroy, not by Umount; the nbd slot is detached through nbdsup.Detach.
type Handle struct {
	Type        TypeName
	Source      string
	Destination string
	MountOpts   MountOptions

	LoopFD   int // >= 0 iff a loop device is attached by this handle
	NBDIndex int // >= 0 iff an NBD slot is reserved by this handle
}

// NewHandle returns a zero-initialized handle bound to t, with LoopFD and
// NBDIndex set to their "unowned" sentinel of -1.
func NewHandle(t TypeName) *Handle {
	return &Handle{Type: t, LoopFD: -1, NBDIndex: -1}
}

func (h *Handle) String() string {
	return fmt.Sprintf("%s(source=%q destination=%q)", h.Type, h.Source, h.Destination)
}

// CapsFor returns the fixed capability flags for t. The second return
// value is false for an unknown type.
func CapsFor(t TypeName) (Caps, bool) {
	c, ok := capsTable[t]
	return c, ok
}

// CloneFlag is a bitmask of the copy orchestrator's clone-behavior flags
// (spec.md §4.4 step 3).
type CloneFlag uint

const (
	FlagSnapshot      CloneFlag = 1 << iota // SNAPSHOT
	FlagMaybeSnapshot                       // MAYBE_SNAPSHOT
	FlagKeepBdevType                        // KEEP_BDEVTYPE
)

func (f CloneFlag) has(bit CloneFlag) bool { return f&bit != 0 }
