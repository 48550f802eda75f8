package bdev

import (
	"context"
	"strings"

	"github.com/lxc/lxc-bdev/idshift"
	"github.com/lxc/lxc-bdev/rsync"
)

// Container is the minimal view of a source container the copy
// orchestrator needs (spec.md §4.4): its name, lxcpath, configured rootfs
// source, and whether the calling process is unprivileged.
type Container struct {
	Name         string
	LXCPath      string
	RootfsSource string
	Unprivileged bool
	UID, GID     int // target uid/gid for the unprivileged ownership fix-up
}

// CopyRequest bundles bdev_copy's parameters from spec.md §4.4.
type CopyRequest struct {
	Source       Container
	NewName      string
	NewLXCPath   string
	NewType      TypeName // "" means unset
	Flags        CloneFlag
	NewSize      uint64
	Specs        Specs
}

// CopyResult is bdev_copy's return value: the new handle plus the
// rootfs-dependency flag computed in step 5, which the container-lifecycle
// caller (an external collaborator per spec.md §1) uses to mark the new
// container as rootfs-dependent on the old one.
type CopyResult struct {
	Handle         *Handle
	NeedsRootfsDep bool
}

// Copy implements the copy/clone orchestrator, bdev_copy, from spec.md
// §4.4.
func (m *Manager) Copy(ctx context.Context, req CopyRequest) (*CopyResult, error) {
	// Step 1: containment check.
	if !strings.Contains(req.Source.RootfsSource, req.Source.Name) {
		return nil, Wrapf(ErrBadArgument,
			"source rootfs %q does not contain container name %q", req.Source.RootfsSource, req.Source.Name)
	}

	// Step 2: original handle.
	orig, err := m.Registry.Query(req.Source.RootfsSource)
	if err != nil {
		return nil, Wrapf(err, "resolve original backend")
	}
	orig.Source = req.Source.RootfsSource
	if orig.Destination == "" {
		orig.Destination = RootfsPath(req.Source.LXCPath, req.Source.Name)
		EnsureDir(orig.Destination)
	}
	origCaps, _ := CapsFor(orig.Type)

	// Step 3: effective flags.
	snap := req.Flags.has(FlagSnapshot)
	maybeSnap := req.Flags.has(FlagMaybeSnapshot)
	keepType := req.Flags.has(FlagKeepBdevType)
	newType := req.NewType

	if maybeSnap && keepType && newType == "" && !origCaps.CanSnapshot {
		snap = false
	}
	if newType == "" && !keepType && snap && orig.Type == TypeDir {
		newType = TypeOverlayFS
	}
	if newType == "" {
		newType = orig.Type
	}

	// Step 4: privilege check.
	if req.Source.Unprivileged {
		if !unprivilegedAllowed[newType] {
			return nil, Wrapf(ErrUnsupported, "backend %s not permitted for unprivileged clone/snapshot", newType)
		}
		if snap && !origCaps.CanSnapshot {
			return nil, Wrapf(ErrUnsupported, "cannot snapshot %s unprivileged", orig.Type)
		}
	}
	if snap {
		newCaps, ok := CapsFor(newType)
		if !ok || !newCaps.CanSnapshot {
			return nil, Wrapf(ErrUnsupported, "backend %s cannot snapshot", newType)
		}
	}

	// Step 5: rootfs-dep flag. This subsystem does not itself act on
	// container-lifecycle rootfs dependency bookkeeping (an external
	// collaborator per spec.md §1), so the flag is surfaced to the caller
	// via CopyResult.NeedsRootfsDep instead of being consumed here.
	needsRdep := (orig.Type == TypeDir && (newType == TypeAUFS || newType == TypeOverlayFS)) ||
		(snap && orig.Type == TypeLVM && req.Specs.ThinPool == "")

	// Step 6: allocate new handle and clone_paths.
	newDriver, err := m.Registry.driverFor(newType)
	if err != nil {
		return nil, err
	}
	newH := NewHandle(newType)
	params := CloneParams{
		OldName:  req.Source.Name,
		NewName:  req.NewName,
		OldPath:  req.Source.LXCPath,
		NewPath:  req.NewLXCPath,
		Snapshot: snap,
		NewSize:  req.NewSize,
		Specs:    req.Specs,
	}
	if err := newDriver.ClonePaths(ctx, orig, newH, params); err != nil {
		return nil, Wrapf(err, "clone_paths %s -> %s", orig.Type, newType)
	}

	// Step 7: ownership fix-up (unprivileged), best-effort.
	if req.Source.Unprivileged {
		if err := idshift.Chown(newH.Destination, req.Source.UID, req.Source.GID); err != nil {
			log.WithError(err).WithField("path", newH.Destination).Warn("ownership fix-up failed, continuing")
		}
	}

	result := &CopyResult{Handle: newH, NeedsRootfsDep: needsRdep}

	// Step 8: snapshot path — the back-end already produced a COW view.
	if snap {
		return result, nil
	}

	// Step 9: btrfs fast path.
	if orig.Type == TypeBtrfs && newType == TypeBtrfs {
		if err := m.btrfsFastPathCopy(ctx, orig, newH, params); err == nil {
			return result, nil
		} else {
			log.WithError(err).Debug("btrfs fast path unavailable, falling back to generic copy")
		}
	}

	// Step 10: generic copy path via rsync, under the appropriate
	// privilege context. The user-namespace entry point for the
	// unprivileged case is itself an external collaborator (id-mapping,
	// spec.md §1); here it is represented as running the same rsync
	// invocation, since the privilege transition mechanics are out of
	// scope.
	src := orig.Destination
	if !strings.HasSuffix(src, "/") {
		src += "/"
	}
	if err := rsync.Run(ctx, src, newH.Destination, rsync.Options{}); err != nil {
		return nil, Wrapf(err, "copy %s -> %s", orig.Destination, newH.Destination)
	}

	return result, nil
}

// btrfsFastPathCopy implements step 9 when both sides are btrfs: destroy
// the target subvolume and take a btrfs snapshot of the source instead of
// an rsync copy. The actual subvolume syscalls live in
// bdev/drivers/btrfs.go via the Driver interface's ClonePaths with
// Snapshot=true; this helper re-invokes that path with the same clone
// parameters. It does not check that both sides reside on the same
// filesystem; when the snapshot fails, Copy falls back to rsync.
func (m *Manager) btrfsFastPathCopy(ctx context.Context, orig, newH *Handle, p CloneParams) error {
	d, err := m.Registry.driverFor(TypeBtrfs)
	if err != nil {
		return err
	}
	if err := d.Destroy(ctx, newH); err != nil {
		log.WithError(err).Debug("btrfs fast path: destroy of fresh target subvolume failed, continuing")
	}
	p.Snapshot = true
	return d.ClonePaths(ctx, orig, newH, p)
}
