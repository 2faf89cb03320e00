// Package postgres provides a Postgres-backed store.JobStore.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pagecapture/internal/capture"
	"github.com/JakeFAU/pagecapture/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// Migrate creates the tables on startup when they are missing.
	Migrate bool `mapstructure:"migrate"`
}

// Schema is the DDL for the job and outcome tables.
const Schema = `
CREATE TABLE IF NOT EXISTS capture_jobs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ,
	task_count   INTEGER NOT NULL DEFAULT 0,
	succeeded    INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	archive_path TEXT,
	remote_uri   TEXT,
	error        TEXT
);
CREATE TABLE IF NOT EXISTS capture_outcomes (
	job_id      TEXT NOT NULL REFERENCES capture_jobs(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	locale      TEXT NOT NULL,
	device      TEXT NOT NULL,
	url         TEXT NOT NULL,
	path        TEXT NOT NULL,
	status      TEXT NOT NULL,
	duration_ms BIGINT NOT NULL,
	error       TEXT,
	recorded_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (job_id, seq)
);`

// pool is the subset of pgxpool.Pool used by JobStore.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// JobStore implements store.JobStore on Postgres.
type JobStore struct {
	pool pool
}

// New connects a pool using cfg and optionally applies Schema.
func New(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &JobStore{pool: p}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: p}, nil
}

// Close releases the pool.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate applies Schema.
func (s *JobStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CreateJob inserts a queued job.
func (s *JobStore) CreateJob(ctx context.Context, job store.JobRecord) error {
	state := job.State
	if state == "" {
		state = capture.StateQueued
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO capture_jobs (id, source, state, submitted_at) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		job.ID, job.Source, string(state), job.Submitted,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create job %s: %w", job.ID, store.ErrJobExists)
	}
	return nil
}

// MarkStarted implements store.JobStore.
func (s *JobStore) MarkStarted(ctx context.Context, id string, at time.Time, taskCount int) error {
	return s.execOne(ctx, "mark started", id,
		`UPDATE capture_jobs SET state = $2, started_at = COALESCE(started_at, $3), task_count = $4 WHERE id = $1`,
		id, string(capture.StateRunning), at, taskCount,
	)
}

// RecordOutcome inserts the outcome and bumps the job counters in one statement.
func (s *JobStore) RecordOutcome(ctx context.Context, o store.OutcomeRecord) error {
	succeeded, failed := 0, 1
	if o.Status == capture.StatusSuccess {
		succeeded, failed = 1, 0
	}
	return s.execOne(ctx, "record outcome", o.JobID,
		`WITH ins AS (
	INSERT INTO capture_outcomes (job_id, seq, locale, device, url, path, status, duration_ms, error, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
	RETURNING job_id
)
UPDATE capture_jobs SET succeeded = succeeded + $11, failed = failed + $12 WHERE id = (SELECT job_id FROM ins)`,
		o.JobID, o.Seq, o.Locale, o.Device, o.URL, o.Path, string(o.Status), o.DurationMs, o.Error, o.RecordedAt,
		succeeded, failed,
	)
}

// CompleteJob implements store.JobStore.
func (s *JobStore) CompleteJob(
	ctx context.Context,
	id string,
	at time.Time,
	state capture.State,
	archivePath, errMsg string,
) error {
	return s.execOne(ctx, "complete job", id,
		`UPDATE capture_jobs SET state = $2, finished_at = $3, archive_path = NULLIF($4, ''), error = NULLIF($5, '') WHERE id = $1`,
		id, string(state), at, archivePath, errMsg,
	)
}

// SetRemoteURI implements store.JobStore.
func (s *JobStore) SetRemoteURI(ctx context.Context, id, uri string) error {
	return s.execOne(ctx, "set remote uri", id,
		`UPDATE capture_jobs SET remote_uri = $2 WHERE id = $1`,
		id, uri,
	)
}

// GetJob implements store.JobStore.
func (s *JobStore) GetJob(ctx context.Context, id string) (store.JobRecord, error) {
	var (
		job               store.JobRecord
		state             string
		started, finished time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, source, state, submitted_at,
	COALESCE(started_at, to_timestamp(0)), COALESCE(finished_at, to_timestamp(0)),
	task_count, succeeded, failed,
	COALESCE(archive_path, ''), COALESCE(remote_uri, ''), COALESCE(error, '')
FROM capture_jobs WHERE id = $1`,
		id,
	).Scan(
		&job.ID, &job.Source, &state, &job.Submitted,
		&started, &finished,
		&job.TaskCount, &job.Succeeded, &job.Failed,
		&job.ArchivePath, &job.RemoteURI, &job.Error,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.JobRecord{}, store.ErrNotFound
		}
		return store.JobRecord{}, fmt.Errorf("get job: %w", err)
	}
	job.State = capture.State(state)
	job.Started = nullableTime(started)
	job.Finished = nullableTime(finished)
	return job, nil
}

// ListOutcomes implements store.JobStore.
func (s *JobStore) ListOutcomes(ctx context.Context, id string) ([]store.OutcomeRecord, error) {
	if _, err := s.GetJob(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, seq, locale, device, url, path, status, duration_ms, COALESCE(error, ''), recorded_at
FROM capture_outcomes WHERE job_id = $1 ORDER BY seq`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []store.OutcomeRecord
	for rows.Next() {
		var (
			o      store.OutcomeRecord
			status string
		)
		if err := rows.Scan(
			&o.JobID, &o.Seq, &o.Locale, &o.Device, &o.URL, &o.Path,
			&status, &o.DurationMs, &o.Error, &o.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Status = capture.Status(status)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}

func (s *JobStore) execOne(ctx context.Context, op, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", op, id, store.ErrNotFound)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.Unix() == 0 {
		return nil
	}
	ts := t.UTC()
	return &ts
}
