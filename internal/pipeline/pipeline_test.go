package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeStage struct {
	name     StageName
	deps     []StageName
	optional bool
	skip     bool
	err      error
	executed *[]StageName
}

func (f *fakeStage) Name() StageName           { return f.name }
func (f *fakeStage) Dependencies() []StageName { return f.deps }
func (f *fakeStage) Optional() bool            { return f.optional }
func (f *fakeStage) ShouldSkip(*State) bool    { return f.skip }

func (f *fakeStage) Execute(_ context.Context, _ *State) error {
	*f.executed = append(*f.executed, f.name)
	return f.err
}

func newRegistry(t *testing.T, stages ...*fakeStage) (*Registry, *[]StageName) {
	t.Helper()
	executed := &[]StageName{}
	reg := NewRegistry()
	for _, s := range stages {
		s.executed = executed
		require.NoError(t, reg.Register(s))
	}
	return reg, executed
}

func TestRegisterDuplicate(t *testing.T) {
	reg, _ := newRegistry(t, &fakeStage{name: "a"})
	err := reg.Register(&fakeStage{name: "a", executed: &[]StageName{}})
	require.Error(t, err)
}

func TestBuildPlanResolvesTransitiveDeps(t *testing.T) {
	reg, _ := newRegistry(t,
		&fakeStage{name: "toolchains"},
		&fakeStage{name: "frontend", deps: []StageName{"toolchains"}},
		&fakeStage{name: "package", deps: []StageName{"frontend"}},
	)
	p := New(reg)

	plan, err := p.BuildPlan([]StageName{"package"})
	require.NoError(t, err)
	require.Equal(t, []StageName{"toolchains", "frontend", "package"}, plan.Order)
}

func TestBuildPlanDeterministicTiebreak(t *testing.T) {
	reg, _ := newRegistry(t,
		&fakeStage{name: "b"},
		&fakeStage{name: "a"},
		&fakeStage{name: "final", deps: []StageName{"a", "b"}},
	)
	p := New(reg)

	// Independent stages run in registration order, not map order.
	for i := 0; i < 10; i++ {
		plan, err := p.BuildPlan([]StageName{"final"})
		require.NoError(t, err)
		require.Equal(t, []StageName{"b", "a", "final"}, plan.Order)
	}
}

func TestBuildPlanUnknownStage(t *testing.T) {
	reg, _ := newRegistry(t, &fakeStage{name: "a"})
	_, err := New(reg).BuildPlan([]StageName{"nope"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestBuildPlanCycleDetected(t *testing.T) {
	reg, _ := newRegistry(t,
		&fakeStage{name: "a", deps: []StageName{"b"}},
		&fakeStage{name: "b", deps: []StageName{"a"}},
	)
	_, err := New(reg).BuildPlan([]StageName{"a"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestExecuteStopsOnFailure(t *testing.T) {
	boom := errors.New("boom")
	reg, executed := newRegistry(t,
		&fakeStage{name: "first"},
		&fakeStage{name: "second", deps: []StageName{"first"}, err: boom},
		&fakeStage{name: "third", deps: []StageName{"second"}},
	)
	p := New(reg)

	results, err := p.Execute(context.Background(), NewState(nil), []StageName{"third"})
	require.ErrorIs(t, err, boom)
	require.Equal(t, []StageName{"first", "second"}, *executed)
	require.Len(t, results, 2)
	require.Equal(t, StatusSucceeded, results[0].Status)
	require.Equal(t, StatusFailed, results[1].Status)
}

func TestExecuteOptionalFailureContinues(t *testing.T) {
	reg, executed := newRegistry(t,
		&fakeStage{name: "notes", optional: true, err: errors.New("no changelog")},
		&fakeStage{name: "package"},
	)
	p := New(reg)

	results, err := p.Execute(context.Background(), NewState(nil), []StageName{"notes", "package"})
	require.NoError(t, err)
	require.Equal(t, []StageName{"notes", "package"}, *executed)
	require.Equal(t, StatusFailed, results[0].Status)
	require.Equal(t, StatusSucceeded, results[1].Status)
}

func TestExecuteSkipsStage(t *testing.T) {
	reg, executed := newRegistry(t,
		&fakeStage{name: "notes", skip: true},
		&fakeStage{name: "package"},
	)
	p := New(reg)

	results, err := p.Execute(context.Background(), NewState(nil), []StageName{"notes", "package"})
	require.NoError(t, err)
	require.Equal(t, []StageName{"package"}, *executed)
	require.Equal(t, StatusSkipped, results[0].Status)
}

func TestExecuteHonorsContext(t *testing.T) {
	reg, executed := newRegistry(t, &fakeStage{name: "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(reg).Execute(ctx, NewState(nil), []StageName{"a"})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, *executed)
}

func TestExecuteEmptyPlan(t *testing.T) {
	reg, _ := newRegistry(t)
	results, err := New(reg).Execute(context.Background(), NewState(nil), nil)
	require.NoError(t, err)
	require.Empty(t, results)
}
