package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"genstudio/internal/domain"
)

// SQLExecutor defines the narrow contract the Postgres store needs from a pgx
// pool or transaction.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// PostgresStore keeps tracked placeholders in a shared Postgres database.
// Used when several dashboard seats must see the same in-flight jobs.
type PostgresStore struct {
	sql SQLExecutor
}

// NewPostgresStore wraps an executor. Call Initialize once before use.
func NewPostgresStore(sql SQLExecutor) *PostgresStore {
	return &PostgresStore{sql: sql}
}

// Initialize creates the backing table when missing.
func (s *PostgresStore) Initialize(ctx context.Context) error {
	_, err := s.sql.Exec(ctx, `CREATE TABLE IF NOT EXISTS tracked_jobs (
		id TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("create tracked_jobs: %w", err)
	}
	return nil
}

// Put inserts or overwrites the placeholder snapshot for job.ID.
func (s *PostgresStore) Put(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	_, err = s.sql.Exec(ctx,
		`INSERT INTO tracked_jobs (id, payload, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		job.ID, payload)
	if err != nil {
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the stored placeholder for id, if any.
func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.sql.QueryRow(ctx, `SELECT payload FROM tracked_jobs WHERE id = $1`, id)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("load job %s: %w", id, err)
	}
	var job domain.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return domain.Job{}, false, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, true, nil
}

// Delete removes the placeholder for id. Missing ids are not an error.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.sql.Exec(ctx, `DELETE FROM tracked_jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// List returns every stored placeholder, newest submission first.
func (s *PostgresStore) List(ctx context.Context) ([]domain.Job, error) {
	rows, err := s.sql.Query(ctx,
		`SELECT payload FROM tracked_jobs ORDER BY (payload->>'submitted_at') DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		var job domain.Job
		if err := json.Unmarshal(payload, &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Clear drops every tracked placeholder. Used on logout.
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.sql.Exec(ctx, `DELETE FROM tracked_jobs`); err != nil {
		return fmt.Errorf("clear jobs: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
