// Package store persists build history in SQLite so past releases can be
// inspected with the history command.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// BuildRecord is one completed (or failed) pipeline run.
type BuildRecord struct {
	BuildID       string
	Project       string
	Version       string
	Commit        string
	Status        string // "succeeded" | "failed"
	ArchivePath   string
	ArchiveSHA256 string
	StartedAt     time.Time
	FinishedAt    time.Time
	Stages        []StageRecord
}

// StageRecord is the outcome of a single pipeline stage.
type StageRecord struct {
	Name     string
	Status   string // "succeeded" | "failed" | "skipped"
	Duration time.Duration
	Detail   string // error text for failed stages
}

// SQLiteStore implements build history persistence using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (creating if needed) the history database at dbPath.
// Use ":memory:" for an in-memory database.
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		build_id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		version TEXT,
		commit_hash TEXT,
		status TEXT NOT NULL,
		archive_path TEXT,
		archive_sha256 TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS stages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL REFERENCES builds(build_id),
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started_at);
	CREATE INDEX IF NOT EXISTS idx_stages_build ON stages(build_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists a build and its stage results.
func (s *SQLiteStore) Record(ctx context.Context, b *BuildRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO builds (build_id, project, version, commit_hash, status, archive_path, archive_sha256, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.BuildID, b.Project, b.Version, b.Commit, b.Status, b.ArchivePath, b.ArchiveSHA256,
		b.StartedAt.UnixMilli(), b.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}

	for _, st := range b.Stages {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO stages (build_id, name, status, duration_ms, detail) VALUES (?, ?, ?, ?, ?)`,
			b.BuildID, st.Name, st.Status, st.Duration.Milliseconds(), st.Detail,
		)
		if err != nil {
			return fmt.Errorf("insert stage %s: %w", st.Name, err)
		}
	}

	return tx.Commit()
}

// List returns the most recent builds, newest first. Stage results are
// included for each build.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT build_id, project, version, commit_hash, status, archive_path, archive_sha256, started_at, finished_at
		 FROM builds ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	var builds []BuildRecord
	for rows.Next() {
		var b BuildRecord
		var started, finished int64
		if err := rows.Scan(&b.BuildID, &b.Project, &b.Version, &b.Commit, &b.Status,
			&b.ArchivePath, &b.ArchiveSHA256, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		b.StartedAt = time.UnixMilli(started)
		b.FinishedAt = time.UnixMilli(finished)
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate builds: %w", err)
	}

	for i := range builds {
		stages, err := s.stagesFor(ctx, builds[i].BuildID)
		if err != nil {
			return nil, err
		}
		builds[i].Stages = stages
	}
	return builds, nil
}

// Get returns a single build by id, or sql.ErrNoRows if absent.
func (s *SQLiteStore) Get(ctx context.Context, buildID string) (*BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b BuildRecord
	var started, finished int64
	err := s.db.QueryRowContext(ctx,
		`SELECT build_id, project, version, commit_hash, status, archive_path, archive_sha256, started_at, finished_at
		 FROM builds WHERE build_id = ?`, buildID).
		Scan(&b.BuildID, &b.Project, &b.Version, &b.Commit, &b.Status,
			&b.ArchivePath, &b.ArchiveSHA256, &started, &finished)
	if err != nil {
		return nil, err
	}
	b.StartedAt = time.UnixMilli(started)
	b.FinishedAt = time.UnixMilli(finished)

	stages, err := s.stagesFor(ctx, buildID)
	if err != nil {
		return nil, err
	}
	b.Stages = stages
	return &b, nil
}

func (s *SQLiteStore) stagesFor(ctx context.Context, buildID string) ([]StageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, status, duration_ms, detail FROM stages WHERE build_id = ? ORDER BY id`, buildID)
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	var stages []StageRecord
	for rows.Next() {
		var st StageRecord
		var durationMS int64
		var detail sql.NullString
		if err := rows.Scan(&st.Name, &st.Status, &durationMS, &detail); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		st.Duration = time.Duration(durationMS) * time.Millisecond
		st.Detail = detail.String
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
