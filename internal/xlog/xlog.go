// Package xlog is the tagged trace logger used across the storage engine,
// generalized from the "[Component] EVENT ..." lines the buffer pool and
// B+tree code print, and gated by an environment variable the way
// simpledb's Debug.log is gated by a system property.
package xlog

import (
	"fmt"
	"os"
)

var enabled = os.Getenv("TXBTREE_DEBUG") != ""

// Enabled reports whether trace logging is turned on for this process.
func Enabled() bool { return enabled }

// SetEnabled overrides the environment-derived default, mainly for tests
// that want to assert on log output.
func SetEnabled(v bool) { enabled = v }

// Tracef prints a tagged trace line, e.g. Tracef("BufferPool", "HIT pageID=%d", id).
func Tracef(tag, format string, args ...any) {
	if !enabled {
		return
	}
	fmt.Fprintf(os.Stderr, "[%s] %s\n", tag, fmt.Sprintf(format, args...))
}
