package patch

import (
	"bytes"
	"regexp"

	"github.com/mridang/claude-ime-patch/internal/fragment"
)

// legacyInjection matches code injected by releases that did not yet
// write the sentinel comment, in readable or compact spacing.
var legacyInjection = regexp.MustCompile(`let\s*_vn\s*=\s*[A-Za-z0-9_$]+\.replace\(/\\x7f/g\s*,`) //nolint:gochecknoglobals // compiled once

// Guard recognizes buffers that already carry the patch.
type Guard struct {
	marker []byte
}

// NewGuard returns a guard for the current sentinel marker.
func NewGuard() Guard {
	return Guard{marker: []byte(fragment.Marker)}
}

// Patched reports whether buf carries the sentinel or legacy injected code.
func (g Guard) Patched(buf []byte) bool {
	if bytes.Contains(buf, g.marker) {
		return true
	}
	return legacyInjection.Match(buf)
}

// Count returns the number of sentinel markers in buf.
func (g Guard) Count(buf []byte) int {
	return bytes.Count(buf, g.marker)
}
