package toolchain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/relbuilder/internal/config"
	"git.home.luguber.info/inful/relbuilder/internal/retry"
	"git.home.luguber.info/inful/relbuilder/internal/runner"
)

func fastRetry() retry.Policy {
	return retry.Policy{Mode: retry.BackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: 1}
}

func TestEnsurePresentTool(t *testing.T) {
	m := NewManager(runner.New(), t.TempDir())
	err := m.Ensure(context.Background(), []config.Toolchain{
		{Name: "sh", VersionCmd: "sh --version"},
	})
	require.NoError(t, err)
}

func TestEnsureMissingToolWithoutInstall(t *testing.T) {
	m := NewManager(runner.New(), t.TempDir())
	err := m.Ensure(context.Background(), []config.Toolchain{
		{Name: "definitely-not-a-real-tool-12345"},
	})
	var notFound *ErrToolNotFound
	require.True(t, errors.As(err, &notFound))
	require.Equal(t, "definitely-not-a-real-tool-12345", notFound.Tool)
}

func TestEnsureInstallStillMissing(t *testing.T) {
	// Install command succeeds but the tool remains absent from PATH.
	m := NewManager(runner.New(), t.TempDir()).WithInstallRetry(fastRetry())
	err := m.Ensure(context.Background(), []config.Toolchain{
		{Name: "definitely-not-a-real-tool-12345", InstallCmd: "true"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "still missing after install")
}

func TestEnsureInstallFailureRetriedThenReported(t *testing.T) {
	m := NewManager(runner.New(), t.TempDir()).WithInstallRetry(fastRetry())
	err := m.Ensure(context.Background(), []config.Toolchain{
		{Name: "definitely-not-a-real-tool-12345", InstallCmd: "exit 7"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "install tool")
}

func TestEnsureMinVersionSatisfied(t *testing.T) {
	m := NewManager(runner.New(), t.TempDir())
	err := m.Ensure(context.Background(), []config.Toolchain{
		{Name: "sh", VersionCmd: "echo tool 99.0.1", MinVersion: "1.0"},
	})
	require.NoError(t, err)
}

func TestEnsureMinVersionTooOld(t *testing.T) {
	m := NewManager(runner.New(), t.TempDir())
	err := m.Ensure(context.Background(), []config.Toolchain{
		{Name: "sh", VersionCmd: "echo tool 0.9.1", MinVersion: "1.0"},
	})
	var tooOld *ErrVersionTooOld
	require.True(t, errors.As(err, &tooOld))
	require.Equal(t, "0.9.1", tooOld.Have)
}

func TestEnsureUnparseableVersionSkipsCheck(t *testing.T) {
	m := NewManager(runner.New(), t.TempDir())
	err := m.Ensure(context.Background(), []config.Toolchain{
		{Name: "sh", VersionCmd: "echo no version here", MinVersion: "1.0"},
	})
	require.NoError(t, err)
}

func TestExtractVersion(t *testing.T) {
	require.Equal(t, "0.17.5", ExtractVersion("trunk 0.17.5 (abc)"))
	require.Equal(t, "1.82.0", ExtractVersion("cargo 1.82.0 (8f40fc59f 2024-08-21)"))
	require.Equal(t, "", ExtractVersion("no digits"))
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "1.0.0", 0},
		{"0.17", "0.17.5", -1},
		{"0.18", "0.17.5", 1},
		{"2.0.0", "10.0.0", -1},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, CompareVersions(tc.a, tc.b), "%s vs %s", tc.a, tc.b)
	}
}
