package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleBuild(id string, started time.Time) *BuildRecord {
	return &BuildRecord{
		BuildID:       id,
		Project:       "puzzle",
		Version:       "1.0.0",
		Commit:        "abc1234",
		Status:        "succeeded",
		ArchivePath:   "/out/puzzle-1.0.0.zip",
		ArchiveSHA256: "deadbeef",
		StartedAt:     started,
		FinishedAt:    started.Add(90 * time.Second),
		Stages: []StageRecord{
			{Name: "toolchains", Status: "succeeded", Duration: time.Second},
			{Name: "server", Status: "succeeded", Duration: 80 * time.Second},
			{Name: "package", Status: "succeeded", Duration: 9 * time.Second},
		},
	}
}

func TestRecordAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	b := sampleBuild("b1", time.Now().Add(-time.Minute))
	require.NoError(t, s.Record(ctx, b))

	got, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, "puzzle", got.Project)
	require.Equal(t, "succeeded", got.Status)
	require.Len(t, got.Stages, 3)
	require.Equal(t, "server", got.Stages[1].Name)
	require.Equal(t, 80*time.Second, got.Stages[1].Duration)
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListNewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, s.Record(ctx, sampleBuild("old", base)))
	require.NoError(t, s.Record(ctx, sampleBuild("new", base.Add(30*time.Minute))))

	builds, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, builds, 2)
	require.Equal(t, "new", builds[0].BuildID)
	require.Equal(t, "old", builds[1].BuildID)
	require.Len(t, builds[0].Stages, 3)
}

func TestListLimit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Record(ctx, sampleBuild(id, base.Add(time.Duration(i)*time.Minute))))
	}

	builds, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, builds, 2)
}

func TestRecordFailedBuildWithDetail(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	b := sampleBuild("failed", time.Now())
	b.Status = "failed"
	b.Stages = []StageRecord{
		{Name: "frontend", Status: "failed", Duration: 2 * time.Second, Detail: "trunk exited with code 1"},
	}
	require.NoError(t, s.Record(ctx, b))

	got, err := s.Get(ctx, "failed")
	require.NoError(t, err)
	require.Equal(t, "failed", got.Status)
	require.Equal(t, "trunk exited with code 1", got.Stages[0].Detail)
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".relbuilder", "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.FileExists(t, path)
}
