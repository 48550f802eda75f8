// Package lock implements the cross-process lock manager from spec.md
// §4.5: either an in-process counting semaphore or a flock-based file
// lock keyed by container name, gated by a process-wide mutex. Grounded
// on original_source/src/lxc/lxclock.c (lxc_newlock/lxclock/lxcunlock)
// and canonical-lxd/lxd/locking/lock_test.go's map-based locking shape.
package lock

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("subsystem", "lxc.lock")

// Code mirrors the original's numeric return convention, which spec.md
// §4.5 and the CLI exit-code contract (§6) still depend on: 0 success, -1
// operation failure, -2 misconfiguration.
type Code int

const (
	OK             Code = 0
	ErrFailed      Code = -1
	ErrMisconfig   Code = -2
)

// globalMu is the single process-wide mutex serializing every lock
// object's lifecycle operation (create, acquire, release, destroy). It is
// never held across a blocking wait itself (spec.md §9 Design Notes,
// "Lock manager") — only around descriptor allocation and state updates
// surrounding the blocking primitive.
var globalMu sync.Mutex

// Lock is the tagged variant from spec.md §3: either an anonymous
// semaphore or a named file lock. Construct with New.
type Lock struct {
	name    string
	lxcpath string

	// anonymous semaphore variant
	sem chan struct{}

	// file lock variant
	fl       *flock.Flock
	path     string
	acquired bool
}

// New implements new_lock(lxcpath?, name?). name == "" selects the
// anonymous, timeout-capable semaphore variant; otherwise a file lock at
// <lxcpath>/locks/<name> is used (directory created 0755 on first use).
func New(lxcpath, name string) (*Lock, Code) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if name == "" {
		l := &Lock{sem: make(chan struct{}, 1)}
		l.sem <- struct{}{} // initialized to 1, i.e. unlocked
		return l, OK
	}

	if lxcpath == "" {
		return nil, ErrMisconfig
	}
	locksDir := filepath.Join(lxcpath, "locks")
	if err := os.MkdirAll(locksDir, 0755); err != nil {
		log.WithError(err).WithField("dir", locksDir).Warn("could not create locks directory")
		return nil, ErrFailed
	}
	path := filepath.Join(locksDir, name)
	return &Lock{name: name, lxcpath: lxcpath, path: path, fl: flock.New(path)}, OK
}

// Acquire implements acquire(lock, timeout). timeout == 0 means "wait
// forever" for the semaphore variant. The file-lock variant does not
// support timeouts at all: requesting one (timeout != 0) fails with
// ErrMisconfig (-2), matching spec.md §4.5 exactly.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) Code {
	if l.sem != nil {
		return l.acquireSem(ctx, timeout)
	}
	return l.acquireFile(timeout)
}

func (l *Lock) acquireSem(ctx context.Context, timeout time.Duration) Code {
	globalMu.Lock()
	sem := l.sem
	globalMu.Unlock()

	if timeout <= 0 {
		select {
		case <-sem:
			return OK
		case <-ctx.Done():
			return ErrFailed
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-sem:
		return OK
	case <-timer.C:
		return errTimeoutCode
	case <-ctx.Done():
		return ErrFailed
	}
}

// errTimeoutCode is the code a timed-out semaphore wait returns. It has
// the same value as ErrFailed (-1), so a timeout cannot be told apart
// from a generic operation failure by the code alone.
const errTimeoutCode Code = ErrFailed

func (l *Lock) acquireFile(timeout time.Duration) Code {
	if timeout != 0 {
		// Timeouts are not supported for file locks (spec.md §4.5).
		return ErrMisconfig
	}

	globalMu.Lock()
	fd, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0600)
	globalMu.Unlock()
	if err != nil {
		log.WithError(err).WithField("path", l.path).Warn("could not open lock file")
		return ErrFailed
	}
	l.fl = flock.New(l.path)
	_ = fd.Close() // flock reopens its own descriptor internally

	if err := l.fl.Lock(); err != nil {
		log.WithError(err).WithField("path", l.path).Warn("flock failed")
		return ErrFailed
	}
	globalMu.Lock()
	l.acquired = true
	globalMu.Unlock()
	return OK
}

// Release implements release(lock). Releasing a lock that is not held is
// a misconfiguration (-2), matching the "double unlock" failure mode
// spec.md §4.5 names.
func (l *Lock) Release() Code {
	if l.sem != nil {
		globalMu.Lock()
		sem := l.sem
		globalMu.Unlock()
		select {
		case sem <- struct{}{}:
			return OK
		default:
			return ErrMisconfig // double unlock
		}
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if !l.acquired {
		return ErrMisconfig
	}
	if err := l.fl.Unlock(); err != nil {
		log.WithError(err).WithField("path", l.path).Warn("flock unlock failed")
		return ErrFailed
	}
	l.acquired = false
	return OK
}

// Destroy implements destroy(lock): releases any remaining OS resources.
// For the file-lock variant this closes the underlying descriptor; for
// the semaphore variant there is nothing further to release.
func (l *Lock) Destroy() Code {
	globalMu.Lock()
	defer globalMu.Unlock()
	if l.fl != nil {
		_ = l.fl.Close()
	}
	return OK
}
