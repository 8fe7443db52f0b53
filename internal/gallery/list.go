// Package gallery holds the combined list surface the dashboard renders: live
// job placeholders prepended to the paginated artifact history, plus the
// selection model and paging/reconciliation helpers that operate over it.
package gallery

import "genstudio/internal/domain"

// Entry is one rendered row. Exactly one of Job or Artifact is the source:
// a live placeholder (optionally carrying its resolved artifact) or a plain
// history record.
type Entry struct {
	Job      *domain.Job      `json:"job,omitempty"`
	Artifact *domain.Artifact `json:"artifact,omitempty"`
}

// ID returns the identity used by the selection model: the artifact id once
// one is attached, the job id before that.
func (e Entry) ID() string {
	if e.Artifact != nil {
		return e.Artifact.ID
	}
	if e.Job != nil {
		return e.Job.ID
	}
	return ""
}

// List is the ordered union of placeholders and history records. It is not
// safe for concurrent use; the tracker serializes all access.
type List struct {
	jobs      []domain.Job      // newest first
	artifacts []domain.Artifact // newest first
}

// NewList returns an empty list.
func NewList() *List {
	return &List{}
}

// PrependJob inserts a placeholder at the top. A job with the same id is
// replaced in place instead, preserving the unique-id invariant.
func (l *List) PrependJob(job domain.Job) {
	for i := range l.jobs {
		if l.jobs[i].ID == job.ID {
			l.jobs[i] = job
			return
		}
	}
	l.jobs = append([]domain.Job{job}, l.jobs...)
}

// UpdateJob applies fn to the placeholder with the given id.
func (l *List) UpdateJob(id string, fn func(*domain.Job)) bool {
	for i := range l.jobs {
		if l.jobs[i].ID == id {
			fn(&l.jobs[i])
			return true
		}
	}
	return false
}

// Job returns a copy of the placeholder with the given id.
func (l *List) Job(id string) (domain.Job, bool) {
	for i := range l.jobs {
		if l.jobs[i].ID == id {
			return l.jobs[i], true
		}
	}
	return domain.Job{}, false
}

// RemoveJob evicts a placeholder and returns it.
func (l *List) RemoveJob(id string) (domain.Job, bool) {
	for i := range l.jobs {
		if l.jobs[i].ID == id {
			job := l.jobs[i]
			l.jobs = append(l.jobs[:i], l.jobs[i+1:]...)
			return job, true
		}
	}
	return domain.Job{}, false
}

// Jobs returns a copy of the live placeholders, newest first.
func (l *List) Jobs() []domain.Job {
	out := make([]domain.Job, len(l.jobs))
	copy(out, l.jobs)
	return out
}

// ClearJobs drops every placeholder. Used on logout.
func (l *List) ClearJobs() {
	l.jobs = nil
}

// SetArtifacts replaces the held history (initial load, manual refresh).
func (l *List) SetArtifacts(artifacts []domain.Artifact) {
	l.artifacts = append([]domain.Artifact(nil), artifacts...)
}

// AppendArtifacts concatenates a further history page, skipping ids already
// held so an overlapping page cannot double-insert.
func (l *List) AppendArtifacts(artifacts []domain.Artifact) {
	seen := make(map[string]struct{}, len(l.artifacts))
	for _, a := range l.artifacts {
		seen[a.ID] = struct{}{}
	}
	for _, a := range artifacts {
		if _, ok := seen[a.ID]; ok {
			continue
		}
		l.artifacts = append(l.artifacts, a)
	}
}

// InsertArtifact splices a freshly resolved artifact in at the top, unless it
// is already held.
func (l *List) InsertArtifact(a domain.Artifact) {
	for i := range l.artifacts {
		if l.artifacts[i].ID == a.ID {
			return
		}
	}
	l.artifacts = append([]domain.Artifact{a}, l.artifacts...)
}

// RemoveArtifact drops one history record (explicit delete).
func (l *List) RemoveArtifact(id string) bool {
	for i := range l.artifacts {
		if l.artifacts[i].ID == id {
			l.artifacts = append(l.artifacts[:i], l.artifacts[i+1:]...)
			return true
		}
	}
	return false
}

// Artifact returns a copy of the history record with the given id.
func (l *List) Artifact(id string) (domain.Artifact, bool) {
	for i := range l.artifacts {
		if l.artifacts[i].ID == id {
			return l.artifacts[i], true
		}
	}
	return domain.Artifact{}, false
}

// ArtifactCount reports how many history records are held.
func (l *List) ArtifactCount() int {
	return len(l.artifacts)
}

// Entries materializes the visible rows. This is the single place the
// placeholder/history ambiguity is resolved: an artifact that a live
// placeholder has resolved to is shown through the placeholder's slot only,
// never as a second plain row.
func (l *List) Entries() []Entry {
	resolved := make(map[string]struct{}, len(l.jobs))
	for i := range l.jobs {
		if id := l.jobs[i].ResolvedArtifactID; id != "" {
			resolved[id] = struct{}{}
		}
	}

	entries := make([]Entry, 0, len(l.jobs)+len(l.artifacts))
	for i := range l.jobs {
		job := l.jobs[i]
		e := Entry{Job: &job}
		if job.ResolvedArtifactID != "" {
			if a, ok := l.Artifact(job.ResolvedArtifactID); ok {
				artifact := a
				e.Artifact = &artifact
			}
		}
		entries = append(entries, e)
	}
	for i := range l.artifacts {
		a := l.artifacts[i]
		if _, ok := resolved[a.ID]; ok {
			continue
		}
		artifact := a
		entries = append(entries, Entry{Artifact: &artifact})
	}
	return entries
}

// IDs returns the identities of the visible rows in order.
func (l *List) IDs() []string {
	entries := l.Entries()
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID())
	}
	return ids
}
