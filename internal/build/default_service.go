package build

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/relbuilder/internal/config"
	"git.home.luguber.info/inful/relbuilder/internal/logfields"
	"git.home.luguber.info/inful/relbuilder/internal/pipeline"
	"git.home.luguber.info/inful/relbuilder/internal/runner"
	"git.home.luguber.info/inful/relbuilder/internal/store"
	"git.home.luguber.info/inful/relbuilder/internal/toolchain"
)

// HistoryRecorder persists build outcomes. Satisfied by *store.SQLiteStore.
type HistoryRecorder interface {
	Record(ctx context.Context, b *store.BuildRecord) error
}

// DefaultBuildService is the standard implementation of BuildService.
type DefaultBuildService struct {
	runner  *runner.Runner
	history HistoryRecorder // nil disables history recording
}

// NewBuildService creates a DefaultBuildService.
func NewBuildService() *DefaultBuildService {
	return &DefaultBuildService{runner: runner.New()}
}

// WithRunner injects a custom command runner (for testing).
func (s *DefaultBuildService) WithRunner(r *runner.Runner) *DefaultBuildService {
	s.runner = r
	return s
}

// WithHistory enables persisting build records.
func (s *DefaultBuildService) WithHistory(h HistoryRecorder) *DefaultBuildService {
	s.history = h
	return s
}

// Run executes the complete release pipeline.
func (s *DefaultBuildService) Run(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	startTime := time.Now()

	if req.Config == nil {
		return nil, fmt.Errorf("build request requires a configuration")
	}

	registry, targets, err := s.wireStages(req)
	if err != nil {
		return nil, err
	}

	state := pipeline.NewState(req.Config)
	p := pipeline.New(registry)

	stageResults, execErr := p.Execute(ctx, state, targets)

	result := &BuildResult{
		BuildID:       state.BuildID,
		Version:       state.Version,
		ArchivePath:   state.ArchivePath,
		ArchiveSHA256: state.ArchiveSHA256,
		Stages:        stageResults,
		Duration:      time.Since(startTime),
		StartTime:     startTime,
	}
	if state.Source != nil {
		result.Commit = state.Source.Commit
	}

	s.recordHistory(ctx, req.Config, result, execErr)

	if execErr != nil {
		return result, execErr
	}

	slog.Info("Build completed",
		logfields.BuildID(result.BuildID),
		logfields.Archive(result.ArchivePath),
		logfields.DurationMS(float64(result.Duration.Milliseconds())))
	return result, nil
}

// wireStages assembles the stage registry for this request and returns the
// target stages to execute.
func (s *DefaultBuildService) wireStages(req BuildRequest) (*pipeline.Registry, []pipeline.StageName, error) {
	cfg := req.Config
	reserved := map[pipeline.StageName]bool{
		StageToolchains: true, StageSourceInfo: true, StageNotes: true,
		StagePackage: true, StageVerify: true,
	}
	for _, step := range cfg.Steps {
		if reserved[pipeline.StageName(step.Name)] {
			return nil, nil, fmt.Errorf("step name %q is reserved", step.Name)
		}
	}

	registry := pipeline.NewRegistry()
	mustRegister := func(cmd pipeline.StageCommand) {
		// Names were validated above; duplicates cannot occur here.
		if err := registry.Register(cmd); err != nil {
			panic(err)
		}
	}

	mustRegister(&toolchainsStage{manager: toolchain.NewManager(s.runner, cfg.Root)})
	mustRegister(&sourceInfoStage{})

	packageDeps := []pipeline.StageName{StageSourceInfo, StageNotes}
	if !req.PackageOnly {
		for _, step := range cfg.Steps {
			deps := []pipeline.StageName{StageToolchains, StageSourceInfo}
			for _, need := range step.Needs {
				deps = append(deps, pipeline.StageName(need))
			}
			mustRegister(&stepStage{step: step, runner: s.runner, deps: deps})
			packageDeps = append(packageDeps, pipeline.StageName(step.Name))
		}
	}

	mustRegister(&notesStage{})
	mustRegister(&packageStage{deps: packageDeps})
	mustRegister(&verifyStage{skip: req.SkipVerify})

	return registry, []pipeline.StageName{StageVerify}, nil
}

// recordHistory stores the build outcome; failures to record are logged, not
// propagated, so history problems never fail a build.
func (s *DefaultBuildService) recordHistory(ctx context.Context, cfg *config.Config, result *BuildResult, execErr error) {
	if s.history == nil || result.BuildID == "" {
		return
	}

	status := "succeeded"
	if execErr != nil {
		status = "failed"
	}

	record := &store.BuildRecord{
		BuildID:       result.BuildID,
		Project:       cfg.Project.Name,
		Version:       result.Version,
		Commit:        result.Commit,
		Status:        status,
		ArchivePath:   result.ArchivePath,
		ArchiveSHA256: result.ArchiveSHA256,
		StartedAt:     result.StartTime,
		FinishedAt:    result.StartTime.Add(result.Duration),
	}
	for _, sr := range result.Stages {
		detail := ""
		if sr.Err != nil {
			detail = sr.Err.Error()
		}
		record.Stages = append(record.Stages, store.StageRecord{
			Name:     string(sr.Name),
			Status:   string(sr.Status),
			Duration: sr.Duration,
			Detail:   detail,
		})
	}

	if err := s.history.Record(ctx, record); err != nil {
		slog.Warn("Failed to record build history", logfields.Error(err))
	}
}
