package bdev

import (
	"strconv"
	"strings"
)

// ParseFSSize implements get_fssize from spec.md §8: base-10 k/m/g
// suffix parsing; any other trailing non-digit is dropped.
//
//	ParseFSSize("1g")     == 1_000_000_000
//	ParseFSSize("1024k")  == 1_024_000
//	ParseFSSize("")       == 0
//	ParseFSSize("1t")     == 1   (unrecognized suffix ignored beyond the
//	                              numeric part: "t" is not k/m/g, so only
//	                              the leading digits count)
func ParseFSSize(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}

	multiplier := uint64(1)
	numeric := s
	last := s[len(s)-1]
	switch last {
	case 'k', 'K':
		multiplier = 1_000
		numeric = s[:len(s)-1]
	case 'm', 'M':
		multiplier = 1_000_000
		numeric = s[:len(s)-1]
	case 'g', 'G':
		multiplier = 1_000_000_000
		numeric = s[:len(s)-1]
	default:
		if last < '0' || last > '9' {
			// Unrecognized suffix (e.g. "t"): drop it and parse only
			// the leading digits, per spec.md §8's "1t" == 1.
			numeric = s[:len(s)-1]
		}
	}

	numeric = strings.TrimSpace(numeric)
	if numeric == "" {
		return 0, Wrapf(ErrBadArgument, "fssize %q has no digits", s)
	}

	n, err := strconv.ParseUint(numeric, 10, 64)
	if err != nil {
		return 0, Wrapf(ErrBadArgument, "fssize %q: %v", s, err)
	}
	return n * multiplier, nil
}
