// Package pipeline orchestrates release build stages in dependency order.
// Stages implement the Command pattern; the pipeline resolves their declared
// dependencies into a topological execution plan and runs them sequentially.
package pipeline

import (
	"context"
	"time"

	"git.home.luguber.info/inful/relbuilder/internal/config"
	"git.home.luguber.info/inful/relbuilder/internal/gitinfo"
	"git.home.luguber.info/inful/relbuilder/internal/manifest"
)

// StageName identifies a pipeline stage.
type StageName string

// StageStatus is the outcome of a single stage execution.
type StageStatus string

const (
	StatusSucceeded StageStatus = "succeeded"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// State is the shared build state threaded through stages.
type State struct {
	Config  *config.Config
	BuildID string

	// Version is the release version: configured, or derived from git.
	Version string
	// Source is revision info; nil when the project is not in a git repo.
	Source *gitinfo.Info

	// Manifest accumulates artifact hashes as stages produce outputs.
	Manifest *manifest.Manifest

	// Extras are generated archive entries (manifest, notes, checksums).
	Extras map[string][]byte

	// ArchivePath is set by the package stage.
	ArchivePath string
	// ArchiveSHA256 is set by the package stage.
	ArchiveSHA256 string
}

// NewState creates the initial state for a run.
func NewState(cfg *config.Config) *State {
	return &State{
		Config: cfg,
		Extras: make(map[string][]byte),
	}
}

// StageCommand represents a single build stage that can be executed.
type StageCommand interface {
	// Name returns the name of this stage command.
	Name() StageName

	// Execute runs the stage against the shared build state.
	Execute(ctx context.Context, st *State) error

	// Dependencies returns the stages that must complete before this one.
	Dependencies() []StageName
}

// OptionalStage can be implemented in addition to StageCommand; optional
// stages log their failure but do not stop the pipeline.
type OptionalStage interface {
	Optional() bool
}

// SkippableStage can be implemented to skip execution based on state.
type SkippableStage interface {
	ShouldSkip(st *State) bool
}

// StageResult records the outcome of one executed stage.
type StageResult struct {
	Name     StageName
	Status   StageStatus
	Duration time.Duration
	Err      error
}
