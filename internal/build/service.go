// Package build provides the canonical release build pipeline. All execution
// paths (CLI, daemon, tests) route through BuildService.
package build

import (
	"context"
	"time"

	"git.home.luguber.info/inful/relbuilder/internal/config"
	"git.home.luguber.info/inful/relbuilder/internal/pipeline"
)

// BuildService is the canonical interface for executing release builds.
type BuildService interface {
	// Run executes the pipeline: toolchains → build steps → package → verify.
	Run(ctx context.Context, req BuildRequest) (*BuildResult, error)
}

// BuildRequest contains all inputs required to execute a release build.
type BuildRequest struct {
	// Config is the loaded configuration for this build.
	Config *config.Config

	// SkipVerify disables archive verification even when configured on.
	SkipVerify bool

	// PackageOnly skips toolchain checks and build steps, packaging whatever
	// artifacts already exist on disk.
	PackageOnly bool
}

// BuildResult contains the outcome of a build execution.
type BuildResult struct {
	// BuildID uniquely identifies this run.
	BuildID string

	// Version is the release version the archive was stamped with.
	Version string

	// Commit is the source commit, empty outside a git repository.
	Commit string

	// ArchivePath is the produced zip archive.
	ArchivePath string

	// ArchiveSHA256 is the hash of the produced archive.
	ArchiveSHA256 string

	// Stages holds per-stage outcomes in execution order.
	Stages []pipeline.StageResult

	// Duration is the total pipeline execution time.
	Duration time.Duration

	// StartTime is when the build started.
	StartTime time.Time
}
