// Package version carries build-time identification for nomaid, stamped
// in by -ldflags at release build time and left at its defaults for
// local/dev builds.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the engine build version.
	Version = "0.1.0"

	// GitCommit is the git commit hash this binary was built from.
	GitCommit = "unknown"

	// BuildTime is when the binary was built.
	BuildTime = "unknown"

	// GoVersion is the Go toolchain version used to build the binary.
	GoVersion = runtime.Version()
)

// FullVersion returns a human-readable identification string logged at
// nomaid startup.
func FullVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}

// UserAgent identifies this engine instance to any cache or store
// backend that logs client identity (e.g. Redis CLIENT SETNAME).
func UserAgent() string {
	return fmt.Sprintf("nomaid/%s", Version)
}
