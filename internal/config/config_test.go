package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "release.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
project:
  name: puzzle
steps:
  - name: server
    run: cargo build --release
archive:
  flatten: [target/release/server, run.sh]
  asset_dir: dist
`

func TestLoadMinimal(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "puzzle", cfg.Project.Name)
	require.Len(t, cfg.Steps, 1)
	require.Equal(t, filepath.Dir(path), cfg.Root)
	require.Equal(t, "dist", cfg.Archive.AssetDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("RELEASE_PROJECT", "expanded")
	path := writeConfig(t, `
project:
  name: ${RELEASE_PROJECT}
steps:
  - name: server
    run: make server
archive:
  flatten: [server]
  asset_dir: dist
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "expanded", cfg.Project.Name)
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	require.Equal(t, ".", cfg.Archive.Dir)
	require.Equal(t, filepath.Join(".relbuilder", "history.db"), cfg.History.Path)
	require.Equal(t, ":9185", cfg.Daemon.MetricsAddr)
	require.Equal(t, 2*time.Second, cfg.Daemon.DebounceDuration())
	require.Equal(t, time.Duration(0), cfg.Daemon.IntervalDuration())
	require.Equal(t, 30*time.Minute, cfg.Steps[0].TimeoutDuration())
	require.True(t, cfg.Verify.IsEnabled())
}

func TestToolchainVersionCmdDefault(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
project:
  name: puzzle
toolchains:
  - name: trunk
steps:
  - name: server
    run: make
archive:
  flatten: [server]
  asset_dir: dist
`))
	require.NoError(t, err)
	require.Equal(t, "trunk --version", cfg.Toolchains[0].VersionCmd)
}

func TestStepTimeoutParsed(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
project:
  name: puzzle
steps:
  - name: server
    run: make
    timeout: 5m
archive:
  flatten: [server]
  asset_dir: dist
`))
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.Steps[0].TimeoutDuration())
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	_, err := Load(writeConfig(t, `
project:
  name: puzzle
steps:
  - name: server
    run: make
    needs: [frontend]
archive:
  flatten: [server]
  asset_dir: dist
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown step")
}

func TestValidateRejectsDuplicateSteps(t *testing.T) {
	_, err := Load(writeConfig(t, `
project:
  name: puzzle
steps:
  - name: server
    run: make
  - name: server
    run: make again
archive:
  flatten: [server]
  asset_dir: dist
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate step")
}

func TestValidateRequiresFlatten(t *testing.T) {
	_, err := Load(writeConfig(t, `
project:
  name: puzzle
steps:
  - name: server
    run: make
archive:
  flatten: []
  asset_dir: dist
`))
	require.Error(t, err)
}

func TestValidateRejectsEscapingFlattenEntry(t *testing.T) {
	_, err := Load(writeConfig(t, `
project:
  name: puzzle
steps:
  - name: server
    run: make
archive:
  flatten: ["../outside"]
  asset_dir: dist
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "escapes project root")
}

func TestValidateEventsRequireURL(t *testing.T) {
	_, err := Load(writeConfig(t, `
project:
  name: puzzle
steps:
  - name: server
    run: make
archive:
  flatten: [server]
  asset_dir: dist
daemon:
  events:
    enabled: true
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "daemon.events.url")
}

func TestValidateRejectsBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
project:
  name: puzzle
steps:
  - name: server
    run: make
    timeout: soon
archive:
  flatten: [server]
  asset_dir: dist
`))
	require.Error(t, err)
}

func TestArchiveName(t *testing.T) {
	cfg := &Config{Project: ProjectConfig{Name: "puzzle"}}
	require.Equal(t, "puzzle-1.2.0.zip", cfg.ArchiveName("1.2.0"))
	require.Equal(t, "puzzle.zip", cfg.ArchiveName(""))
	cfg.Archive.Name = "release.zip"
	require.Equal(t, "release.zip", cfg.ArchiveName("1.2.0"))
}

func TestResolvePath(t *testing.T) {
	cfg := &Config{Root: "/proj"}
	require.Equal(t, filepath.Join("/proj", "dist"), cfg.ResolvePath("dist"))
	require.Equal(t, "/abs", cfg.ResolvePath("/abs"))
	require.Equal(t, "", cfg.ResolvePath(""))
}

func TestInitWritesExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "release.yaml")
	require.NoError(t, Init(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "puzzle", cfg.Project.Name)
	require.NotEmpty(t, cfg.Toolchains)
	require.NotEmpty(t, cfg.Archive.Flatten)

	require.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))
}
