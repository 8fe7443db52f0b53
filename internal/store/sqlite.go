package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"genstudio/internal/domain"
)

// SQLiteStore is the default client-local job store. Placeholders are kept as
// JSON payloads keyed by job id.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and its schema on the given database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tracked_jobs (
			id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS prefs (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Put inserts or overwrites the placeholder snapshot for job.ID.
func (s *SQLiteStore) Put(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tracked_jobs (id, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		job.ID, string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the stored placeholder for id, if any.
func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM tracked_jobs WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("load job %s: %w", id, err)
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return domain.Job{}, false, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, true, nil
}

// Delete removes the placeholder for id. Missing ids are not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tracked_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// List returns every stored placeholder, newest submission first.
func (s *SQLiteStore) List(ctx context.Context) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM tracked_jobs`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		var job domain.Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			// a corrupt row must not poison the resume pass
			continue
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].SubmittedAt.After(jobs[j].SubmittedAt) })
	return jobs, nil
}

// Clear drops every tracked placeholder. Used on logout.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tracked_jobs`); err != nil {
		return fmt.Errorf("clear jobs: %w", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
