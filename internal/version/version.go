package version

import "fmt"

// Build-time variables injected via ldflags.
var (
	Release   = "dev"
	GitCommit = "unknown"
	GOOS      = "unknown"
	GOARCH    = "unknown"
)

// Short returns the release with a short commit, e.g. "v1.2.0-1a2b3c4".
func Short() string {
	commit := GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}

	return fmt.Sprintf("%s-%s", Release, commit)
}

// Full returns the version string in the format "release (commit)".
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Release, GitCommit)
}

// FullWithPlatform returns the version string with platform information.
func FullWithPlatform() string {
	return fmt.Sprintf("%s (commit: %s, %s/%s)", Release, GitCommit, GOOS, GOARCH)
}
