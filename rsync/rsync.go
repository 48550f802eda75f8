// Package rsync is the minimal invocation point for the rsync
// collaborator the copy orchestrator needs. The invocation details
// themselves are an external collaborator (spec.md §1); this package only
// owns the one concrete call site.
package rsync

import (
	"context"
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

// Options controls the rsync invocation. Archive mode is always used;
// Delete mirrors the destination exactly.
type Options struct {
	Delete bool
}

// Run copies src into dst using rsync in archive mode, with stdin nulled
// so rsync never prompts interactively (spec.md §9 "Child-process
// helpers"); stdout and stderr are captured and included in the error on
// failure. src should have a trailing slash when the directory's
// contents (not the directory itself) are the intended payload.
func Run(ctx context.Context, src, dst string, opts Options) error {
	args := []string{"-a"}
	if opts.Delete {
		args = append(args, "--delete")
	}
	args = append(args, src, dst)

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "open /dev/null")
	}
	defer devNull.Close()

	cmd := exec.CommandContext(ctx, "rsync", args...)
	cmd.Stdin = devNull
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "rsync %s -> %s: %s", src, dst, string(out))
	}
	return nil
}
