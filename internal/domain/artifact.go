package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Artifact is an immutable, backend-assigned description of one produced
// image. Artifacts are never mutated client-side; they are fetched, cached in
// an ordered list and removed only on explicit delete.
type Artifact struct {
	ID          string         `json:"id"`
	JobID       string         `json:"job_id,omitempty"`
	Filename    string         `json:"filename,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Prompt      string         `json:"prompt"`
	SourceLabel string         `json:"source_label"`
	Width       int            `json:"width,omitempty"`
	Height      int            `json:"height,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

var labelCaser = cases.Title(language.Und)

// DisplayLabel normalizes a human-readable source name for list rendering.
// Underscores and dashes in workflow names become spaces, then title case.
func DisplayLabel(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return labelCaser.String(s)
}
