package bdev

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("subsystem", "lxc.bdev")

// entry holds a registered driver; its position lives in Registry.order.
// The registry is immutable after NewRegistry returns (spec.md §3
// invariant).
type entry struct {
	driver Driver
}

// Registry is the ordered sequence of back-ends (spec.md §4.1). Detection
// order matters: URI-prefixed back-ends and kernel-definitive probes must
// run before dir's directory fallback.
type Registry struct {
	order   []TypeName
	entries map[TypeName]entry
}

// defaultOrder is the canonical detection order from spec.md §4.1.
var defaultOrder = []TypeName{
	TypeZFS, TypeLVM, TypeRBD, TypeBtrfs, TypeDir,
	TypeAUFS, TypeOverlayFS, TypeLoop, TypeNBD,
}

// NewRegistry builds a Registry from the given drivers, ordered per
// defaultOrder. Drivers not present in defaultOrder are rejected; any
// TypeName in defaultOrder missing a driver is rejected too, since the
// registry is meant to be exhaustive over the nine back-ends.
func NewRegistry(drivers ...Driver) (*Registry, error) {
	r := &Registry{entries: make(map[TypeName]entry, len(drivers))}
	for _, d := range drivers {
		if _, exists := r.entries[d.Type()]; exists {
			return nil, Wrapf(ErrBadArgument, "duplicate driver registered for %s", d.Type())
		}
		r.entries[d.Type()] = entry{driver: d}
	}
	for _, t := range defaultOrder {
		if _, ok := r.entries[t]; !ok {
			return nil, Wrapf(ErrBadArgument, "missing driver for %s", t)
		}
		r.order = append(r.order, t)
	}
	return r, nil
}

// Get implements bdev_get(type_name): returns a zero-initialized handle
// bound to the named back-end, or ErrNotFound if unknown. Mutates nothing
// external.
func (r *Registry) Get(t TypeName) (*Handle, error) {
	if _, ok := r.entries[t]; !ok {
		return nil, Wrapf(ErrNotFound, "no such backend %q", t)
	}
	return NewHandle(t), nil
}

// driverFor returns the Driver bound to t.
func (r *Registry) driverFor(t TypeName) (Driver, error) {
	e, ok := r.entries[t]
	if !ok {
		return nil, Wrapf(ErrNotFound, "no such backend %q", t)
	}
	return e.driver, nil
}

// Query implements bdev_query(source): scans the registry in table order,
// invoking each Detect until one claims it (spec.md §4.1).
func (r *Registry) Query(source string) (*Handle, error) {
	for _, t := range r.order {
		d := r.entries[t].driver
		if d.Detect(source) {
			h := NewHandle(t)
			h.Source = source
			return h, nil
		}
	}
	return nil, Wrapf(ErrNotFound, "no backend claims source %q", source)
}

// ContainerConfig is the subset of container configuration bdev_init
// needs: the configured rootfs source, and — for nbd — the previously
// stored NBD index (spec.md §4.1, §4.6).
type ContainerConfig struct {
	RootfsSource string
	NBDIndex     int // -1 if none stored
}

// Init implements bdev_init(conf, source?, dest?, mntopts?): defaults
// source to conf.RootfsSource, runs Query, and on success populates the
// handle's fields, copying conf.NBDIndex in for nbd handles.
func (r *Registry) Init(conf ContainerConfig, source, dest string, mntopts MountOptions) (*Handle, error) {
	if source == "" {
		source = conf.RootfsSource
	}
	if source == "" {
		return nil, Wrapf(ErrBadArgument, "bdev init: no source and no configured rootfs")
	}
	h, err := r.Query(source)
	if err != nil {
		return nil, err
	}
	h.Source = source
	if dest != "" {
		h.Destination = dest
	}
	h.MountOpts = mntopts
	if h.Type == TypeNBD {
		h.NBDIndex = conf.NBDIndex
	}
	return h, nil
}

// bestOrder is the attempt order for bdev_create(type="best") per
// spec.md §4.4.
var bestOrder = []TypeName{TypeBtrfs, TypeZFS, TypeLVM, TypeDir, TypeRBD}

// Create implements the creation entry point bdev_create(dest, type, name,
// specs) from spec.md §4.4:
//   - type == "" => dir
//   - type == "best" => attempt in bestOrder, first success wins
//   - type containing commas => split, attempt each token in order
//   - otherwise a single attempt
func (r *Registry) Create(ctx context.Context, dest, typ, name string, specs Specs) (*Handle, error) {
	switch {
	case typ == "":
		return r.createOne(ctx, TypeDir, dest, name, specs)
	case typ == "best":
		var lastErr error
		for _, t := range bestOrder {
			h, err := r.createOne(ctx, t, dest, name, specs)
			if err == nil {
				return h, nil
			}
			lastErr = err
			log.WithField("type", t).WithError(err).Debug("bdev create: best-effort attempt failed")
		}
		return nil, Wrapf(lastErr, "bdev create: no backend in %v succeeded", bestOrder)
	case strings.Contains(typ, ","):
		var lastErr error
		for _, tok := range strings.Split(typ, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			h, err := r.createOne(ctx, TypeName(tok), dest, name, specs)
			if err == nil {
				return h, nil
			}
			lastErr = err
		}
		return nil, Wrapf(lastErr, "bdev create: no backend in %q succeeded", typ)
	default:
		return r.createOne(ctx, TypeName(typ), dest, name, specs)
	}
}

func (r *Registry) createOne(ctx context.Context, t TypeName, dest, name string, specs Specs) (*Handle, error) {
	d, err := r.driverFor(t)
	if err != nil {
		return nil, err
	}
	h := NewHandle(t)
	if err := d.Create(ctx, h, dest, name, specs.WithDefaults(name)); err != nil {
		return nil, Wrapf(err, "create %s backend", t)
	}
	return h, nil
}

// RootfsPath returns the canonical rootfs path for a container, per
// spec.md §6 ("<lxcpath>/<name>/rootfs").
func RootfsPath(lxcpath, name string) string {
	return filepath.Join(lxcpath, name, "rootfs")
}

// EnsureDir best-effort creates dir with mode 0755, logging and
// continuing on failure per spec.md §7's side-effect policy.
func EnsureDir(dir string) {
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.WithField("dir", dir).WithError(err).Warn("could not pre-create directory")
	}
}
