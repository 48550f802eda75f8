// Package bdev implements the container backing-store subsystem: backend
// registry, mount-option and filesystem-type handling, and the copy/clone
// orchestrator. Per-backend drivers live in bdev/drivers.
package bdev

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel error kinds. Callers match with errors.Is; wrap with context
// using Wrap/Wrapf below rather than fmt.Errorf so the pkg/errors stack
// trace is retained for logging.
var (
	// ErrBadArgument means a caller passed a spec, source string, or
	// option combination that is structurally invalid.
	ErrBadArgument = errors.New("bad argument")

	// ErrUnsupported means the operation is not implemented by the
	// selected backend (e.g. CanSnapshot is false).
	ErrUnsupported = errors.New("unsupported operation")

	// ErrNotFound means a backend, device, or path that was expected to
	// already exist could not be located.
	ErrNotFound = errors.New("not found")

	// ErrChildFailed means an external helper process (mkfs, rsync,
	// rbd, zfs, lvcreate, qemu-nbd, ...) exited non-zero.
	ErrChildFailed = errors.New("child process failed")

	// ErrSyscall means a direct syscall (mount, ioctl, unshare, ...)
	// failed.
	ErrSyscall = errors.New("syscall failed")

	// ErrTimeout means a bounded wait (the nbd partition-node wait)
	// exceeded its deadline. The lock package reports its semaphore
	// timeout as a numeric Code instead.
	ErrTimeout = errors.New("timed out")
)

// Wrap attaches a short, present-tense context phrase to err while
// preserving its sentinel kind for errors.Is.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, context)
}

// Wrapf is Wrap with fmt.Sprintf-style formatting.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, fmt.Sprintf(format, args...))
}

// ChildError wraps ErrChildFailed with the command name and exit detail.
func ChildError(cmd string, err error) error {
	return Wrapf(fmt.Errorf("%w: %s: %v", ErrChildFailed, cmd, err), "run %s", cmd)
}
