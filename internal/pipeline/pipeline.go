package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/relbuilder/internal/logfields"
)

// Pipeline executes stage commands in dependency order.
type Pipeline struct {
	registry    *Registry
	stopOnError bool
}

// Option configures pipeline behavior.
type Option func(*Pipeline)

// WithStopOnError configures whether the pipeline stops on the first failure.
func WithStopOnError(stop bool) Option {
	return func(p *Pipeline) { p.stopOnError = stop }
}

// New creates a pipeline over the given registry.
func New(registry *Registry, options ...Option) *Pipeline {
	p := &Pipeline{registry: registry, stopOnError: true}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Plan is the resolved execution order of the requested stages plus their
// transitive dependencies.
type Plan struct {
	Order []StageName
}

// BuildPlan resolves dependencies of the requested stages into a topological
// order. Registration order breaks ties so plans are deterministic.
func (p *Pipeline) BuildPlan(stages []StageName) (*Plan, error) {
	if len(stages) == 0 {
		return &Plan{}, nil
	}

	for _, s := range stages {
		if _, ok := p.registry.Get(s); !ok {
			return nil, fmt.Errorf("stage %s not found in registry", s)
		}
	}

	// Collect requested stages plus transitive dependencies.
	inSet := make(map[StageName]bool)
	var add func(StageName) error
	add = func(s StageName) error {
		if inSet[s] {
			return nil
		}
		cmd, ok := p.registry.Get(s)
		if !ok {
			return fmt.Errorf("dependency %s not found in registry", s)
		}
		inSet[s] = true
		for _, dep := range cmd.Dependencies() {
			if err := add(dep); err != nil {
				return fmt.Errorf("resolving dependencies for %s: %w", s, err)
			}
		}
		return nil
	}
	for _, s := range stages {
		if err := add(s); err != nil {
			return nil, err
		}
	}

	// Kahn's algorithm with registration-order tiebreaking.
	inDegree := make(map[StageName]int, len(inSet))
	dependents := make(map[StageName][]StageName, len(inSet))
	for s := range inSet {
		cmd, _ := p.registry.Get(s)
		for _, dep := range cmd.Dependencies() {
			if !inSet[dep] {
				continue
			}
			inDegree[s]++
			dependents[dep] = append(dependents[dep], s)
		}
	}

	var ready []StageName
	for s := range inSet {
		if inDegree[s] == 0 {
			ready = append(ready, s)
		}
	}
	p.registry.sortByRank(ready)

	order := make([]StageName, 0, len(inSet))
	for len(ready) > 0 {
		s := ready[0]
		ready = ready[1:]
		order = append(order, s)

		released := make([]StageName, 0, len(dependents[s]))
		for _, dep := range dependents[s] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				released = append(released, dep)
			}
		}
		p.registry.sortByRank(released)
		ready = append(ready, released...)
		p.registry.sortByRank(ready)
	}

	if len(order) != len(inSet) {
		return nil, fmt.Errorf("dependency cycle detected among stages")
	}
	return &Plan{Order: order}, nil
}

// Execute runs the requested stages (plus dependencies) against the state.
// It returns all stage results; the error is the first fatal stage failure.
func (p *Pipeline) Execute(ctx context.Context, st *State, stages []StageName) ([]StageResult, error) {
	plan, err := p.BuildPlan(stages)
	if err != nil {
		return nil, err
	}

	var results []StageResult
	var firstErr error

	for _, name := range plan.Order {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		cmd, _ := p.registry.Get(name)

		if sk, ok := cmd.(SkippableStage); ok && sk.ShouldSkip(st) {
			slog.Info("Stage skipped", logfields.Stage(string(name)))
			results = append(results, StageResult{Name: name, Status: StatusSkipped})
			continue
		}

		slog.Info("Starting stage", logfields.Stage(string(name)))
		start := time.Now()
		execErr := cmd.Execute(ctx, st)
		duration := time.Since(start)

		if execErr != nil {
			optional := false
			if opt, ok := cmd.(OptionalStage); ok {
				optional = opt.Optional()
			}
			results = append(results, StageResult{Name: name, Status: StatusFailed, Duration: duration, Err: execErr})
			slog.Error("Stage failed",
				logfields.Stage(string(name)),
				logfields.DurationMS(float64(duration.Milliseconds())),
				logfields.Error(execErr))

			if optional {
				continue
			}
			firstErr = fmt.Errorf("stage %s: %w", name, execErr)
			if p.stopOnError {
				break
			}
			continue
		}

		results = append(results, StageResult{Name: name, Status: StatusSucceeded, Duration: duration})
		slog.Info("Stage completed",
			logfields.Stage(string(name)),
			logfields.DurationMS(float64(duration.Milliseconds())))
	}

	return results, firstErr
}
