package bdev

import (
	"context"
	"os"
	"os/exec"
)

// RunChild execs name with args, with stdin/stdout/stderr nulled to
// /dev/null so helpers (mkfs, rbd, qemu-nbd) never block on an
// interactive prompt — the Child-process helpers design note (spec.md
// §9): "Every exec site must null standard descriptors before exec."
// Signal-terminated children are treated as failures per spec.md §4.7.
func RunChild(ctx context.Context, name string, args ...string) error {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return Wrapf(ErrSyscall, "open /dev/null: %v", err)
	}
	defer devNull.Close()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Run(); err != nil {
		return ChildError(name, err)
	}
	return nil
}

// RunChildCaptured is RunChild but returns combined stdout/stderr for
// callers that need the helper's output (e.g. parsing `lvs` or `rbd`
// listings). stdin is still nulled.
func RunChildCaptured(ctx context.Context, name string, args ...string) (string, error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return "", Wrapf(ErrSyscall, "open /dev/null: %v", err)
	}
	defer devNull.Close()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = devNull

	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), ChildError(name, err)
	}
	return string(out), nil
}
