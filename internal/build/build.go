// Package build carries build metadata stamped at link time via -ldflags.
package build

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
