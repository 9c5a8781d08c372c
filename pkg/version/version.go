package version

import "fmt"

// Name identifies the implementation in kernel info replies.
const Name = "cellgate"

var (
	// Version is the semantic version or git describe result, set via -ldflags.
	Version = "dev"
	// GitCommit is the short git commit hash for this build.
	GitCommit = "unknown"
	// BuildDate is the RFC3339 timestamp when the binary was built.
	BuildDate = "unknown"
)

// String returns the version line printed by the CLIs.
func String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", Name, Version, GitCommit, BuildDate)
}
