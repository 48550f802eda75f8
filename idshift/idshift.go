// Package idshift provides a best-effort recursive ownership remap used
// by the copy orchestrator's unprivileged ownership fix-up step
// (spec.md §4.4 step 7). Real user-namespace id-mapping is an external
// collaborator (spec.md §1) — this package only performs the plain
// recursive chown bdev.c exercises on that path, not full shiftfs/ACL
// remapping; see DESIGN.md's stdlib justification.
package idshift

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Chown recursively chowns root and everything beneath it to uid:gid.
// Failures on individual entries are collected but do not stop the walk;
// the first error (if any) is returned once the walk completes, matching
// the best-effort policy spec.md §7 assigns to ownership fix-up.
func Chown(root string, uid, gid int) error {
	var firstErr error
	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return nil
		}
		if chownErr := os.Lchown(path, uid, gid); chownErr != nil && firstErr == nil {
			firstErr = chownErr
		}
		return nil
	})
	if walkErr != nil && firstErr == nil {
		firstErr = walkErr
	}
	if firstErr != nil {
		return errors.Wrapf(firstErr, "recursive chown %s to %d:%d", root, uid, gid)
	}
	return nil
}
