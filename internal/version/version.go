// Package version carries the build identity ledgerd reports at startup and
// on /health. The variables are stamped via -ldflags; a bare `go build`
// produces a dev build with everything but the Go version unset.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the ledger release, e.g. v0.1.0.
	Version = "v0.1.0-dev"

	// Commit is the short git hash of the build.
	Commit = "unknown"

	// BuiltAt is the UTC build timestamp.
	BuiltAt = "unknown"
)

// Info returns the short release string.
func Info() string {
	return Version
}

// FullInfo returns the one-line build description used in startup logs.
func FullInfo() string {
	return fmt.Sprintf("version=%s commit=%s built_at=%s go=%s", Version, Commit, BuiltAt, runtime.Version())
}
