package usecase

import (
	"strconv"
	"strings"
)

// CompareCursors orders two history cursors. Cursors are numeric in practice;
// anything else falls back to length-then-lexical order, which agrees with
// numeric order for unpadded decimal strings.
func CompareCursors(a, b string) int {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	ai, aerr := strconv.ParseUint(a, 10, 64)
	bi, berr := strconv.ParseUint(b, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// maxCursor returns the later of two cursors, ignoring empty ones.
func maxCursor(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if CompareCursors(a, b) >= 0 {
		return a
	}
	return b
}
