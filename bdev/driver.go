package bdev

import "context"

// CloneParams bundles clone_paths's parameters (spec.md §4.2).
type CloneParams struct {
	OldName  string
	NewName  string
	OldPath  string // old lxcpath
	NewPath  string // new lxcpath
	Snapshot bool
	NewSize  uint64 // 0 means "inherit from original"
	Specs    Specs
}

// Driver is the polymorphic contract every back-end implements, replacing
// the vtable-of-function-pointers idiom of the original C implementation
// (spec.md §9 Design Notes: "Polymorphism"). The registry holds one Driver
// plus its fixed Caps per TypeName; no dynamic registration is needed.
type Driver interface {
	// Type returns the back-end's name. Immutable.
	Type() TypeName

	// Detect is a pure predicate over the source string or, for back-ends
	// that require it, filesystem/kernel state (spec.md §4.1, §4.2).
	Detect(source string) bool

	// Create provisions fresh storage described by specs, and populates
	// h.Source / h.Destination on success.
	Create(ctx context.Context, h *Handle, dest, name string, specs Specs) error

	// Mount attaches h's source at h.Destination using h.MountOpts.
	Mount(ctx context.Context, h *Handle) error

	// Umount tears down the mount and releases back-end-owned resources
	// other than LoopFD, which is released by Destroy per the Ownership
	// design note.
	Umount(ctx context.Context, h *Handle) error

	// ClonePaths derives the new handle's Source/Destination from orig,
	// honoring p.Snapshot (and failing with ErrUnsupported if the
	// back-end cannot snapshot).
	ClonePaths(ctx context.Context, orig *Handle, newH *Handle, p CloneParams) error

	// Destroy removes the storage artifact and releases an owned LoopFD
	// exactly once. The NBD slot behind NBDIndex is not released here:
	// nbd's Destroy is unsupported, and the slot is detached through
	// nbdsup.Detach.
	Destroy(ctx context.Context, h *Handle) error
}

// Capability flags are not part of the Driver interface: they are fixed
// per TypeName and looked up centrally via CapsFor (see types.go), so
// individual drivers do not need to report them.
