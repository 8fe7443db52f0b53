package gallery

import (
	"context"
	"fmt"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
)

// Reconciler resolves a completed job to its concrete artifact by scanning
// the most recent history page. The backend persists the artifact before it
// notifies completion, so one fetch is sufficient; when the record is not
// found the reconciler reports ErrArtifactNotFound instead of retrying.
type Reconciler struct {
	lister   Lister
	pageSize int
	log      infra.Logger
}

// NewReconciler constructs a reconciler sharing the pager's page size.
func NewReconciler(lister Lister, pageSize int, logger infra.Logger) *Reconciler {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Reconciler{lister: lister, pageSize: pageSize, log: infra.Component(logger, "reconciler")}
}

// Resolve locates the artifact produced by job: by artifact id when the
// backend returned one directly (remote path), by originating job id
// otherwise (local path).
func (r *Reconciler) Resolve(ctx context.Context, job domain.Job) (domain.Artifact, error) {
	page, err := r.lister.ListImages(ctx, 1, r.pageSize)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("reconcile job %s: %w", job.ID, err)
	}

	for _, a := range page.Items {
		if job.ResolvedArtifactID != "" && a.ID == job.ResolvedArtifactID {
			return a, nil
		}
		if job.ResolvedArtifactID == "" && a.JobID == job.ID {
			return a, nil
		}
	}

	r.log.Warn().Str("job_id", job.ID).Int("scanned", len(page.Items)).Msg("completed job has no matching artifact")
	return domain.Artifact{}, domain.ErrArtifactNotFound
}
