package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Preference keys persisted for the dashboard shell. Every mutation is
// written through immediately; nothing is batched.
const (
	PrefLastWorkflow = "last_workflow"
	PrefLastPrompt   = "last_prompt"

	prefOverridesPrefix = "overrides:"
)

// Prefs is the client-local key/value preference store backing the dashboard
// shell state that survives reloads (last workflow, last prompt, per-workflow
// parameter overrides).
type Prefs struct {
	db *sql.DB
}

// NewPrefs wraps the shared SQLite handle. The schema is created by
// NewSQLiteStore.
func NewPrefs(db *sql.DB) *Prefs {
	return &Prefs{db: db}
}

// Set stores a single preference value.
func (p *Prefs) Set(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO prefs (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set pref %s: %w", key, err)
	}
	return nil
}

// Get returns the stored value for key, or "" when unset.
func (p *Prefs) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get pref %s: %w", key, err)
	}
	return value, nil
}

// Delete removes a preference.
func (p *Prefs) Delete(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM prefs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete pref %s: %w", key, err)
	}
	return nil
}

// SetOverrides stores the parameter-override map for a workflow.
func (p *Prefs) SetOverrides(ctx context.Context, workflowID string, overrides map[string]any) error {
	raw, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("marshal overrides for %s: %w", workflowID, err)
	}
	return p.Set(ctx, prefOverridesPrefix+workflowID, string(raw))
}

// Overrides returns the stored parameter-override map for a workflow, or an
// empty map when none is stored.
func (p *Prefs) Overrides(ctx context.Context, workflowID string) (map[string]any, error) {
	raw, err := p.Get(ctx, prefOverridesPrefix+workflowID)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return map[string]any{}, nil
	}
	var overrides map[string]any
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return nil, fmt.Errorf("decode overrides for %s: %w", workflowID, err)
	}
	return overrides, nil
}

// ClearAll wipes every preference. Used on logout together with Store.Clear.
func (p *Prefs) ClearAll(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM prefs`); err != nil {
		return fmt.Errorf("clear prefs: %w", err)
	}
	return nil
}
