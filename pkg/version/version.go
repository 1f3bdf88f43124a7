package version

import "fmt"

// Set at build time with -ldflags "-X github.com/chmdznr/table-to-drive-writer/pkg/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info is the multi-line build description printed by the version command.
func Info() string {
	return fmt.Sprintf("Version:    %s\nGit commit: %s\nBuilt:      %s\n", Version, GitCommit, BuildTime)
}
