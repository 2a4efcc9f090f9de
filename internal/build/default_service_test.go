package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/relbuilder/internal/config"
	"git.home.luguber.info/inful/relbuilder/internal/pipeline"
	"git.home.luguber.info/inful/relbuilder/internal/store"
	"git.home.luguber.info/inful/relbuilder/internal/verify"
)

// projectConfig writes a release.yaml into a fresh project directory whose
// build steps fabricate the server binary and front-end bundle with shell
// commands, then loads it.
func projectConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "run.sh"), []byte("#!/bin/sh\n./server-bin\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "CHANGELOG.md"), []byte("# v1\n\n- first release\n"), 0o644))

	cfgYAML := `
project:
  name: puzzle
  version: 1.0.0
steps:
  - name: frontend
    run: |
      mkdir -p dist
      printf '<html><body><script src="app.js"></script></body></html>' > dist/index.html
      printf 'js' > dist/app.js
    produces: dist
  - name: server
    run: printf 'binary' > server-bin && chmod +x server-bin
    needs: [frontend]
    produces: server-bin
archive:
  flatten: [server-bin, run.sh]
  asset_dir: dist
verify:
  checksums: true
  html_assets: true
  extract: true
notes:
  source: CHANGELOG.md
`
	path := filepath.Join(root, "release.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfgYAML), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestRunFullPipeline(t *testing.T) {
	cfg := projectConfig(t)
	svc := NewBuildService()

	result, err := svc.Run(context.Background(), BuildRequest{Config: cfg})
	require.NoError(t, err)
	require.NotEmpty(t, result.BuildID)
	require.Equal(t, "1.0.0", result.Version)
	require.NotEmpty(t, result.ArchiveSHA256)
	require.Equal(t, filepath.Join(cfg.Root, "puzzle-1.0.0.zip"), result.ArchivePath)
	require.FileExists(t, result.ArchivePath)

	// The archive passes a fresh standalone verification too.
	report, err := verify.Archive(result.ArchivePath, VerifyOptions(cfg))
	require.NoError(t, err)
	require.NotZero(t, report.ChecksumsOK)
	require.Equal(t, 1, report.HTMLAssetsOK)

	statuses := map[pipeline.StageName]pipeline.StageStatus{}
	for _, sr := range result.Stages {
		statuses[sr.Name] = sr.Status
	}
	require.Equal(t, pipeline.StatusSkipped, statuses[StageToolchains])
	require.Equal(t, pipeline.StatusSucceeded, statuses["frontend"])
	require.Equal(t, pipeline.StatusSucceeded, statuses["server"])
	require.Equal(t, pipeline.StatusSucceeded, statuses[StageNotes])
	require.Equal(t, pipeline.StatusSucceeded, statuses[StagePackage])
	require.Equal(t, pipeline.StatusSucceeded, statuses[StageVerify])
}

func TestRunStagesArchiveBeforePublishing(t *testing.T) {
	cfg := projectConfig(t)

	result, err := svc().Run(context.Background(), BuildRequest{Config: cfg})
	require.NoError(t, err)
	require.FileExists(t, result.ArchivePath)

	// The staging workspace persists across builds, but the per-build
	// subdir is gone once the archive has been moved into place.
	staging := filepath.Join(cfg.Root, ".relbuilder", "staging")
	require.DirExists(t, staging)
	require.NoDirExists(t, filepath.Join(staging, result.BuildID))
}

func TestRunInRepositoryWithoutCommits(t *testing.T) {
	cfg := projectConfig(t)
	_, err := git.PlainInit(cfg.Root, false)
	require.NoError(t, err)

	// A freshly initialized repository has no HEAD yet; the build still
	// completes, just without a recorded commit.
	result, err := svc().Run(context.Background(), BuildRequest{Config: cfg})
	require.NoError(t, err)
	require.Empty(t, result.Commit)
	require.FileExists(t, result.ArchivePath)
}

func TestRunFailingStepStopsPipeline(t *testing.T) {
	cfg := projectConfig(t)
	cfg.Steps[1].Run = "echo broken >&2; exit 1"

	result, err := svc().Run(context.Background(), BuildRequest{Config: cfg})
	require.Error(t, err)
	require.Contains(t, err.Error(), "server")
	require.Empty(t, result.ArchivePath)

	last := result.Stages[len(result.Stages)-1]
	require.Equal(t, pipeline.StageName("server"), last.Name)
	require.Equal(t, pipeline.StatusFailed, last.Status)
}

func TestRunMissingProducesFails(t *testing.T) {
	cfg := projectConfig(t)
	cfg.Steps[1].Run = "true" // succeeds but produces nothing
	_, err := svc().Run(context.Background(), BuildRequest{Config: cfg})
	require.Error(t, err)
	require.Contains(t, err.Error(), "did not produce")
}

func TestRunPackageOnly(t *testing.T) {
	cfg := projectConfig(t)
	// Pre-build artifacts by hand; package must not rerun steps.
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Root, "dist"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, "dist", "index.html"), []byte("<html></html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, "server-bin"), []byte("bin"), 0o755))
	cfg.Verify.HTMLAssets = false

	result, err := svc().Run(context.Background(), BuildRequest{Config: cfg, PackageOnly: true})
	require.NoError(t, err)
	require.FileExists(t, result.ArchivePath)

	for _, sr := range result.Stages {
		require.NotEqual(t, pipeline.StageName("frontend"), sr.Name)
		require.NotEqual(t, pipeline.StageName("server"), sr.Name)
	}
}

func TestRunSkipVerify(t *testing.T) {
	cfg := projectConfig(t)

	result, err := svc().Run(context.Background(), BuildRequest{Config: cfg, SkipVerify: true})
	require.NoError(t, err)

	last := result.Stages[len(result.Stages)-1]
	require.Equal(t, StageVerify, last.Name)
	require.Equal(t, pipeline.StatusSkipped, last.Status)
}

func TestRunRecordsHistory(t *testing.T) {
	cfg := projectConfig(t)
	history, err := store.Open(":memory:")
	require.NoError(t, err)
	defer history.Close()

	result, err := NewBuildService().WithHistory(history).Run(context.Background(), BuildRequest{Config: cfg})
	require.NoError(t, err)

	recorded, err := history.Get(context.Background(), result.BuildID)
	require.NoError(t, err)
	require.Equal(t, "succeeded", recorded.Status)
	require.Equal(t, result.ArchiveSHA256, recorded.ArchiveSHA256)
	require.NotEmpty(t, recorded.Stages)
}

func TestRunRejectsReservedStepName(t *testing.T) {
	cfg := projectConfig(t)
	cfg.Steps[0].Name = "package"

	_, err := svc().Run(context.Background(), BuildRequest{Config: cfg})
	require.Error(t, err)
	require.Contains(t, err.Error(), "reserved")
}

func TestRunRequiresConfig(t *testing.T) {
	_, err := svc().Run(context.Background(), BuildRequest{})
	require.Error(t, err)
}

func svc() *DefaultBuildService { return NewBuildService() }
