// Package debugmode gates verbose diagnostics behind a package-level flag
// driven by MEMORYD_DEBUG. Used for the executor's query classification
// lines and the worker's lifecycle lines.
package debugmode

import (
	"fmt"
	"os"
)

var enabled = os.Getenv("MEMORYD_DEBUG") != ""

// Enabled reports whether debug logging is on.
func Enabled() bool { return enabled }

// SetEnabled overrides the flag, mainly for tests.
func SetEnabled(v bool) { enabled = v }

// Logf writes to stderr only when debug mode is enabled.
func Logf(format string, args ...any) {
	if enabled {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
