package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildVariables(t *testing.T) {
	require.NotEmpty(t, Version)
	require.NotEmpty(t, BuildTime)
	if GitCommit != "unknown" {
		require.GreaterOrEqual(t, len(GitCommit), 7, "commit %q is not a git hash", GitCommit)
	}
}

func TestInfo(t *testing.T) {
	old := [3]string{Version, GitCommit, BuildTime}
	t.Cleanup(func() { Version, GitCommit, BuildTime = old[0], old[1], old[2] })

	Version, GitCommit, BuildTime = "1.2.0", "0d22619", "2024-03-09T14:05:07Z"
	require.Equal(t, "Version:    1.2.0\nGit commit: 0d22619\nBuilt:      2024-03-09T14:05:07Z\n", Info())
}
