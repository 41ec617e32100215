// Package version carries build metadata, set at link time:
//
//	go build -ldflags "-X github.com/banshee-data/wigglebot/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for -version and session notes.
func String() string {
	return fmt.Sprintf("wigglebot %s (%s, built %s)", Version, GitSHA, BuildTime)
}
