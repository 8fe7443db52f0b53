package domain

import (
	"errors"
	"fmt"
)

// ErrArtifactNotFound indicates a completed job whose artifact could not be
// located in the recent history. The reconciler reports it once and does not
// retry.
var ErrArtifactNotFound = errors.New("no matching artifact found for completed job")

// ValidationError reports an unmet local precondition. It is raised before
// any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// SubmitError reports a backend rejection at submission time. No placeholder
// exists when it is returned.
type SubmitError struct {
	Backend Backend
	Message string
	Err     error
}

func (e *SubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submit to %s backend failed: %s: %v", e.Backend, e.Message, e.Err)
	}
	return fmt.Sprintf("submit to %s backend failed: %s", e.Backend, e.Message)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// ChannelError reports a transport failure or terminal error received on a
// job's progress channel.
type ChannelError struct {
	JobID   string
	Message string
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel for job %s: %s", e.JobID, e.Message)
}

// PageFetchError reports a failed history page fetch. Existing list contents
// are unaffected when it is returned.
type PageFetchError struct {
	Page int
	Err  error
}

func (e *PageFetchError) Error() string {
	return fmt.Sprintf("fetch history page %d: %v", e.Page, e.Err)
}

func (e *PageFetchError) Unwrap() error { return e.Err }
