// Package tracker orchestrates the generation-job lifecycle: submission
// against either backend, per-job progress channels, reconciliation of
// completions against the artifact history, durable placeholder state and
// the selection surface. All list and selection mutations are serialized by
// one mutex, the Go rendition of the source UI's single event loop.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"genstudio/internal/backends/local"
	"genstudio/internal/backends/remote"
	"genstudio/internal/channel"
	"genstudio/internal/domain"
	"genstudio/internal/gallery"
	"genstudio/internal/infra"
	"genstudio/internal/store"
	"genstudio/pkg/zip"
)

const reconcileTimeout = 15 * time.Second

// Config carries the fixed lifecycle policies.
type Config struct {
	SuccessGrace time.Duration // placeholder lifetime after resolved success
	FailureGrace time.Duration // placeholder lifetime after failure
	ResumeMaxAge time.Duration // persisted jobs older than this are dropped at cold start
	PageSize     int
}

func (c Config) withDefaults() Config {
	if c.SuccessGrace <= 0 {
		c.SuccessGrace = 5 * time.Second
	}
	if c.FailureGrace <= 0 {
		c.FailureGrace = 8 * time.Second
	}
	if c.ResumeMaxAge <= 0 {
		c.ResumeMaxAge = time.Hour
	}
	if c.PageSize <= 0 {
		c.PageSize = 20
	}
	return c
}

// Deps are the injected collaborators.
type Deps struct {
	Store       store.Store
	Local       *local.Client
	Remote      *remote.Client
	ChannelOpts channel.Options
	Logger      infra.Logger
}

// Tracker is the job tracking and reconciliation core.
type Tracker struct {
	cfg      Config
	log      infra.Logger
	store    store.Store
	local    *local.Client
	remote   *remote.Client
	channels *channel.Manager
	pager    *gallery.Pager
	rec      *gallery.Reconciler

	mu     sync.Mutex
	list   *gallery.List
	sel    *gallery.Selection
	timers map[string]*time.Timer
}

// New wires a tracker. The channel manager's transition callbacks land back
// here, serialized by the tracker mutex.
func New(cfg Config, deps Deps) *Tracker {
	cfg = cfg.withDefaults()
	t := &Tracker{
		cfg:    cfg,
		log:    infra.Component(deps.Logger, "tracker"),
		store:  deps.Store,
		local:  deps.Local,
		remote: deps.Remote,
		list:   gallery.NewList(),
		sel:    gallery.NewSelection(),
		timers: make(map[string]*time.Timer),
	}
	t.channels = channel.NewManager(deps.ChannelOpts, channel.Events{
		Progress:  t.onProgress,
		Completed: t.onCompleted,
		Failed:    t.onFailed,
	})
	t.pager = gallery.NewPager(deps.Local, cfg.PageSize)
	t.rec = gallery.NewReconciler(deps.Local, cfg.PageSize, deps.Logger)
	return t
}

// SubmitLocalParams carries one local generation request. When InputImage is
// set it is uploaded first; generation does not start unless the upload
// succeeded.
type SubmitLocalParams struct {
	WorkflowID     string
	WorkflowName   string
	Prompt         string
	Overrides      map[string]any
	InputImageName string
	InputImage     io.Reader
}

// SubmitLocal launches a workflow-backend job and opens its progress channel.
func (t *Tracker) SubmitLocal(ctx context.Context, params SubmitLocalParams) (string, error) {
	req := local.SubmitRequest{
		WorkflowID:   params.WorkflowID,
		WorkflowName: params.WorkflowName,
		Prompt:       params.Prompt,
		Overrides:    params.Overrides,
	}
	if params.InputImage != nil {
		stored, err := t.local.UploadInputImage(ctx, params.InputImageName, params.InputImage)
		if err != nil {
			return "", fmt.Errorf("upload input image: %w", err)
		}
		req.ImageFilename = stored
	}

	job, err := t.local.Submit(ctx, req)
	if err != nil {
		return "", err
	}

	t.track(ctx, job)

	if err := t.channels.Open(ctx, job); err != nil {
		t.markFailed(job.ID, fmt.Sprintf("progress channel unavailable: %v", err))
		return job.ID, err
	}
	return job.ID, nil
}

// SubmitRemote launches a synchronous remote generation. The placeholder is
// visible while the call blocks and follows the same lifecycle as a local
// job; completion goes straight to the reconciler, no channel is involved.
func (t *Tracker) SubmitRemote(ctx context.Context, req remote.GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", &domain.ValidationError{Field: "prompt", Reason: "must not be empty"}
	}

	job := domain.Job{
		ID:          uuid.NewString(),
		Backend:     domain.BackendRemote,
		Prompt:      req.Prompt,
		Label:       domain.DisplayLabel(req.Model),
		State:       domain.JobStateProcessing,
		SubmittedAt: time.Now().UTC(),
	}
	if job.Label == "" {
		job.Label = "Remote"
	}
	t.track(ctx, job)

	res, err := t.remote.Generate(ctx, req)
	if err != nil {
		var sErr *domain.SubmitError
		if errors.As(err, &sErr) {
			t.markFailed(job.ID, sErr.Message)
		} else {
			t.markFailed(job.ID, err.Error())
		}
		return job.ID, err
	}

	t.complete(job.ID, res.ArtifactID)
	return job.ID, nil
}

// Dismiss removes a placeholder immediately on user request.
func (t *Tracker) Dismiss(jobID string) {
	t.channels.Close(jobID)
	t.evict(jobID)
}

// Resume reads the persisted snapshot at cold start. Terminal and stale
// placeholders are silently dropped; every surviving local job gets exactly
// one reopened channel. Remote jobs cannot be resumed (their submit call
// died with the process) and are dropped as well.
func (t *Tracker) Resume(ctx context.Context) (int, error) {
	jobs, err := t.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("read persisted jobs: %w", err)
	}

	resumed := 0
	now := time.Now().UTC()
	for _, job := range jobs {
		switch {
		case job.Terminal(),
			job.Backend != domain.BackendLocal,
			now.Sub(job.SubmittedAt) > t.cfg.ResumeMaxAge:
			t.log.Debug().Str("job_id", job.ID).Str("state", string(job.State)).Msg("dropping persisted job")
			if err := t.store.Delete(ctx, job.ID); err != nil {
				t.log.Warn().Err(err).Str("job_id", job.ID).Msg("drop from store failed")
			}
			continue
		}

		t.mu.Lock()
		t.list.PrependJob(job)
		t.mu.Unlock()

		if err := t.channels.Open(ctx, job); err != nil {
			t.markFailed(job.ID, fmt.Sprintf("resume failed: %v", err))
			continue
		}
		resumed++
	}
	if resumed > 0 {
		t.log.Info().Int("count", resumed).Msg("resumed persisted jobs")
	}
	return resumed, nil
}

// Logout tears down every channel and clears all per-job state, the
// selection and the persisted store. The artifact history itself is kept.
func (t *Tracker) Logout(ctx context.Context) error {
	t.channels.CloseAll()

	t.mu.Lock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.list.ClearJobs()
	t.sel.Clear()
	t.mu.Unlock()

	if err := t.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear persisted jobs: %w", err)
	}
	return nil
}

// Refresh replaces the held history with page 1.
func (t *Tracker) Refresh(ctx context.Context) error {
	artifacts, err := t.pager.LoadFirst(ctx)
	if err != nil {
		return err
	}
	if artifacts == nil {
		return nil // fetch already in flight
	}
	t.mu.Lock()
	t.list.SetArtifacts(artifacts)
	t.mu.Unlock()
	return nil
}

// LoadMore appends the next history page, if the scroll gate allows one.
func (t *Tracker) LoadMore(ctx context.Context) error {
	artifacts, err := t.pager.LoadNext(ctx)
	if err != nil {
		return err
	}
	if len(artifacts) == 0 {
		return nil
	}
	t.mu.Lock()
	t.list.AppendArtifacts(artifacts)
	t.mu.Unlock()
	return nil
}

// EndOfHistory reports whether further LoadMore calls would be no-ops.
func (t *Tracker) EndOfHistory() bool {
	return t.pager.EndOfHistory()
}

// DeleteArtifact removes one artifact on the backend and from the held list.
func (t *Tracker) DeleteArtifact(ctx context.Context, id string) error {
	if err := t.local.DeleteImage(ctx, id); err != nil {
		return err
	}
	t.mu.Lock()
	t.list.RemoveArtifact(id)
	t.mu.Unlock()
	return nil
}

// Snapshot returns the current visible rows.
func (t *Tracker) Snapshot() []gallery.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.list.Entries()
}

// Toggle handles one click on the list surface.
func (t *Tracker) Toggle(id string, shift bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sel.Toggle(t.list.IDs(), id, shift)
}

// SelectAll selects every visible row.
func (t *Tracker) SelectAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sel.SelectAll(t.list.IDs())
}

// ClearSelection empties the selection.
func (t *Tracker) ClearSelection() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sel.Clear()
}

// Selected returns the selected ids intersected with the current list.
func (t *Tracker) Selected() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sel.Resolve(t.list.IDs())
}

// SelectionCount returns the raw selection size, stale ids included.
func (t *Tracker) SelectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sel.Count()
}

// BatchDownload archives the bytes of every selected artifact. Ids whose
// artifact no longer exists, and placeholder rows without an artifact, are
// silently skipped; a single unavailable image never fails the batch.
func (t *Tracker) BatchDownload(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	ids := t.sel.Resolve(t.list.IDs())
	var artifacts []domain.Artifact
	for _, id := range ids {
		if a, ok := t.list.Artifact(id); ok {
			artifacts = append(artifacts, a)
		}
	}
	t.mu.Unlock()

	if len(artifacts) == 0 {
		return nil, fmt.Errorf("nothing to download")
	}

	assets := make([]zip.Asset, 0, len(artifacts))
	for _, a := range artifacts {
		data, err := t.local.DownloadImage(ctx, a.ID)
		if err != nil {
			t.log.Warn().Err(err).Str("artifact_id", a.ID).Msg("skipping artifact in batch download")
			continue
		}
		name := a.Filename
		if name == "" {
			name = a.ID + ".png"
		}
		assets = append(assets, zip.Asset{Filename: name, MIME: "image/png", Data: data})
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("no artifact could be downloaded")
	}
	return zip.ArchiveAssets(assets), nil
}

// track registers a fresh placeholder in the list and writes it through.
func (t *Tracker) track(ctx context.Context, job domain.Job) {
	t.mu.Lock()
	t.list.PrependJob(job)
	t.mu.Unlock()
	if err := t.store.Put(ctx, job); err != nil {
		t.log.Error().Err(err).Str("job_id", job.ID).Msg("persist placeholder failed")
	}
}

// channel callbacks

func (t *Tracker) onProgress(jobID string, percent int, step string) {
	t.mu.Lock()
	var snapshot domain.Job
	updated := t.list.UpdateJob(jobID, func(j *domain.Job) {
		if !domain.ValidTransition(j.State, domain.JobStateProcessing) {
			snapshot = *j
			return
		}
		j.State = domain.JobStateProcessing
		if percent > 0 {
			j.ProgressPercent = percent
		}
		j.CurrentStep = step
		snapshot = *j
	})
	t.mu.Unlock()
	if updated && snapshot.State == domain.JobStateProcessing {
		t.persist(snapshot)
	}
}

func (t *Tracker) onCompleted(jobID string) {
	t.complete(jobID, "")
}

func (t *Tracker) onFailed(jobID string, message string) {
	t.markFailed(jobID, message)
}

// complete runs the reconciliation path for a job that reported success.
// artifactHint is the backend-returned artifact id on the remote path.
func (t *Tracker) complete(jobID, artifactHint string) {
	t.mu.Lock()
	job, ok := t.list.Job(jobID)
	t.mu.Unlock()
	if !ok {
		// evicted while the completion was in flight; ignore the response
		return
	}
	job.ResolvedArtifactID = artifactHint

	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()
	artifact, err := t.rec.Resolve(ctx, job)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			t.markFailed(jobID, "completed, but the result could not be located in the history")
		} else {
			t.markFailed(jobID, fmt.Sprintf("completion could not be verified: %v", err))
		}
		return
	}

	t.mu.Lock()
	var snapshot domain.Job
	updated := t.list.UpdateJob(jobID, func(j *domain.Job) {
		j.State = domain.JobStateCompleted
		j.ProgressPercent = 100
		j.CurrentStep = ""
		j.ResolvedArtifactID = artifact.ID
		snapshot = *j
	})
	if updated {
		t.list.InsertArtifact(artifact)
	}
	t.mu.Unlock()

	if updated {
		t.persist(snapshot)
		t.scheduleEvict(jobID, t.cfg.SuccessGrace)
		t.log.Info().Str("job_id", jobID).Str("artifact_id", artifact.ID).Msg("job resolved")
	}
}

// markFailed forces a placeholder to terminal failure. Sibling jobs are
// untouched.
func (t *Tracker) markFailed(jobID, message string) {
	t.mu.Lock()
	var snapshot domain.Job
	updated := t.list.UpdateJob(jobID, func(j *domain.Job) {
		j.State = domain.JobStateFailed
		j.ErrorMessage = message
		j.CurrentStep = ""
		snapshot = *j
	})
	t.mu.Unlock()
	if !updated {
		return
	}
	t.persist(snapshot)
	t.scheduleEvict(jobID, t.cfg.FailureGrace)
	t.log.Warn().Str("job_id", jobID).Str("error", message).Msg("job failed")
}

// persist writes a placeholder snapshot through to the durable store,
// synchronously with the in-memory update.
func (t *Tracker) persist(job domain.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.Put(ctx, job); err != nil {
		t.log.Error().Err(err).Str("job_id", job.ID).Msg("persist placeholder failed")
	}
}

func (t *Tracker) scheduleEvict(jobID string, after time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[jobID]; ok {
		old.Stop()
	}
	t.timers[jobID] = time.AfterFunc(after, func() { t.evict(jobID) })
}

// evict removes a placeholder from the visible list and the store.
func (t *Tracker) evict(jobID string) {
	t.mu.Lock()
	if timer, ok := t.timers[jobID]; ok {
		timer.Stop()
		delete(t.timers, jobID)
	}
	_, removed := t.list.RemoveJob(jobID)
	t.mu.Unlock()
	if !removed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.Delete(ctx, jobID); err != nil {
		t.log.Warn().Err(err).Str("job_id", jobID).Msg("remove from store failed")
	}
}

// Close tears down channels and timers without touching persisted state, so
// a later process can resume. Shutdown is not logout.
func (t *Tracker) Close() {
	t.channels.CloseAll()
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}
