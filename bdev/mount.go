package bdev

import (
	"strings"

	"golang.org/x/sys/unix"
)

// mountFlagTable maps recognized comma-separated option tokens to their
// mount(2) flag bits, matching the option set spec.md §6 names (ro, rw,
// nosuid, noexec, nodev, bind, rec, ...). Grounded on the option-token
// parsing idiom in the containerd-nerdctl mountutil package and the
// original bdev.c parse_mntopts.
var mountFlagTable = map[string]uintptr{
	"ro":      unix.MS_RDONLY,
	"nosuid":  unix.MS_NOSUID,
	"nodev":   unix.MS_NODEV,
	"noexec":  unix.MS_NOEXEC,
	"sync":    unix.MS_SYNCHRONOUS,
	"remount": unix.MS_REMOUNT,
	"mand":    unix.MS_MANDLOCK,
	"dirsync": unix.MS_DIRSYNC,
	"noatime": unix.MS_NOATIME,
	"nodiratime": unix.MS_NODIRATIME,
	"bind":    unix.MS_BIND,
	"rbind":   unix.MS_BIND | unix.MS_REC,
	"rec":     unix.MS_REC,
	"private": unix.MS_PRIVATE,
	"rprivate": unix.MS_PRIVATE | unix.MS_REC,
	"shared":  unix.MS_SHARED,
	"rshared": unix.MS_SHARED | unix.MS_REC,
	"slave":   unix.MS_SLAVE,
	"rslave":  unix.MS_SLAVE | unix.MS_REC,
}

// ParseMountOptions splits a comma-separated mount option string (spec.md
// §6) into a flag bitmask and a residual data string of the tokens that
// are not recognized flags (passed through to the filesystem as -o data).
func ParseMountOptions(opts string) MountOptions {
	var mo MountOptions
	if opts == "" {
		return mo
	}
	var residual []string
	for _, tok := range strings.Split(opts, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if tok == "rw" {
			// rw means "not ro"; nothing to OR in, but it is a
			// recognized flag token, not residual data.
			continue
		}
		if bit, ok := mountFlagTable[tok]; ok {
			mo.Flags |= bit
			continue
		}
		residual = append(residual, tok)
	}
	mo.Data = strings.Join(residual, ",")
	return mo
}
