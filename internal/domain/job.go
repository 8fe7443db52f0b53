package domain

import "time"

// Backend enumerates the generation backends a job can run against.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendRemote Backend = "remote"
)

// JobState enumerates placeholder lifecycle states.
type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// Job is the placeholder for one submitted generation request. It is created
// by a launcher, mutated by the channel manager (state/progress) and the
// reconciler (ResolvedArtifactID), and evicted a grace period after reaching
// a terminal state.
type Job struct {
	ID                 string         `json:"id"`
	Backend            Backend        `json:"backend"`
	WorkflowID         string         `json:"workflow_id,omitempty"`
	Prompt             string         `json:"prompt"`
	Label              string         `json:"label"`
	State              JobState       `json:"state"`
	ProgressPercent    int            `json:"progress_percent"`
	CurrentStep        string         `json:"current_step,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	SubmittedAt        time.Time      `json:"submitted_at"`
	ResolvedArtifactID string         `json:"resolved_artifact_id,omitempty"`
	InputImage         string         `json:"input_image,omitempty"`
	Params             map[string]any `json:"params,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j Job) Terminal() bool {
	return j.State == JobStateCompleted || j.State == JobStateFailed
}

// ValidTransition enforces the allowed placeholder state machine edges.
func ValidTransition(from, to JobState) bool {
	if from == to {
		return true
	}
	switch from {
	case JobStateQueued:
		return to == JobStateProcessing || to == JobStateCompleted || to == JobStateFailed
	case JobStateProcessing:
		return to == JobStateCompleted || to == JobStateFailed
	default:
		return false
	}
}
