package local

import (
	"context"
	"errors"
	"strings"
	"testing"

	"genstudio/internal/backendtest"
	"genstudio/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *backendtest.Server) {
	t.Helper()
	backend := backendtest.New()
	t.Cleanup(backend.Close)
	return NewClient(Options{BaseURL: backend.URL(), APIKey: "test-key"}), backend
}

func TestSubmitQueuesJob(t *testing.T) {
	c, _ := newTestClient(t)

	job, err := c.Submit(context.Background(), SubmitRequest{
		WorkflowID:   "wf-1",
		WorkflowName: "flux_dev",
		Prompt:       "sunset over water",
		Overrides:    map[string]any{"steps": 30, "sampler": "", "seed": nil},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID == "" {
		t.Fatalf("expected backend-assigned job id")
	}
	if job.State != domain.JobStateQueued || job.Backend != domain.BackendLocal {
		t.Fatalf("job = %+v", job)
	}
	if job.Label != "Flux Dev" {
		t.Fatalf("label = %q", job.Label)
	}
	if _, ok := job.Params["sampler"]; ok {
		t.Fatalf("empty override not pruned: %+v", job.Params)
	}
	if _, ok := job.Params["seed"]; ok {
		t.Fatalf("nil override not pruned: %+v", job.Params)
	}
	if job.Params["steps"] != 30 {
		t.Fatalf("override lost: %+v", job.Params)
	}
}

func TestSubmitRequiresWorkflow(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://127.0.0.1:1", APIKey: "k"})

	_, err := c.Submit(context.Background(), SubmitRequest{Prompt: "no workflow"})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError before any network call, got %v", err)
	}
	if vErr.Field != "workflow" {
		t.Fatalf("field = %q", vErr.Field)
	}
}

func TestSubmitBackendRejection(t *testing.T) {
	c, backend := newTestClient(t)
	backend.FailSubmit("workflow not found")

	_, err := c.Submit(context.Background(), SubmitRequest{WorkflowID: "wf-gone", Prompt: "x"})
	var sErr *domain.SubmitError
	if !errors.As(err, &sErr) {
		t.Fatalf("expected SubmitError, got %v", err)
	}
	if sErr.Message != "workflow not found" {
		t.Fatalf("message = %q", sErr.Message)
	}
}

func TestUploadInputImage(t *testing.T) {
	c, backend := newTestClient(t)

	stored, err := c.UploadInputImage(context.Background(), "pose.png", strings.NewReader("fake-png"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasSuffix(stored, "pose.png") {
		t.Fatalf("stored filename = %q", stored)
	}
	uploads := backend.Uploads()
	if len(uploads) != 1 || uploads[0] != stored {
		t.Fatalf("uploads = %v", uploads)
	}
}

func TestListImagesMapsRecords(t *testing.T) {
	c, backend := newTestClient(t)
	backend.AddImage(backendtest.ImageRecord{
		ID: "img-1", PromptID: "job-1", WorkflowName: "flux_dev", Prompt: "a fox",
		Width: 1024, Height: 768, Metadata: map[string]any{"seed": float64(42)},
	})
	backend.AddImage(backendtest.ImageRecord{ID: "img-2", PromptID: "job-2", WorkflowName: "sdxl_base", Prompt: "a crow"})

	page, err := c.ListImages(context.Background(), 1, 20)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("page = %+v", page)
	}
	// newest first
	if page.Items[0].ID != "img-2" || page.Items[1].ID != "img-1" {
		t.Fatalf("order = %s, %s", page.Items[0].ID, page.Items[1].ID)
	}
	a := page.Items[1]
	if a.JobID != "job-1" || a.SourceLabel != "Flux Dev" || a.Width != 1024 {
		t.Fatalf("artifact = %+v", a)
	}
	if a.Params["seed"] != float64(42) {
		t.Fatalf("params = %+v", a.Params)
	}
}

func TestListImagesShortPage(t *testing.T) {
	c, backend := newTestClient(t)
	for i := 0; i < 3; i++ {
		backend.AddImage(backendtest.ImageRecord{Prompt: "p"})
	}

	page, err := c.ListImages(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected short page of 1, got %d", len(page.Items))
	}
}

func TestDeleteImage(t *testing.T) {
	c, backend := newTestClient(t)
	backend.AddImage(backendtest.ImageRecord{ID: "img-del"})

	if err := c.DeleteImage(context.Background(), "img-del"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n := backend.ImageCount(); n != 0 {
		t.Fatalf("image count = %d", n)
	}
	if err := c.DeleteImage(context.Background(), "img-del"); err == nil {
		t.Fatalf("expected error deleting missing image")
	}
}

func TestDownloadImage(t *testing.T) {
	c, backend := newTestClient(t)
	backend.AddImage(backendtest.ImageRecord{ID: "img-dl"})

	data, err := c.DownloadImage(context.Background(), "img-dl")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected image bytes")
	}
}

func TestPruneOverrides(t *testing.T) {
	pruned := PruneOverrides(map[string]any{
		"cfg":     7.5,
		"sampler": "  ",
		"seed":    nil,
		"steps":   0,
	})
	if _, ok := pruned["sampler"]; ok {
		t.Fatalf("blank string kept: %+v", pruned)
	}
	if _, ok := pruned["seed"]; ok {
		t.Fatalf("nil kept: %+v", pruned)
	}
	// zero numbers are legitimate override values
	if pruned["steps"] != 0 {
		t.Fatalf("numeric zero dropped: %+v", pruned)
	}
	if PruneOverrides(nil) != nil {
		t.Fatalf("nil input should stay nil")
	}
	if PruneOverrides(map[string]any{"a": ""}) != nil {
		t.Fatalf("all-empty map should prune to nil")
	}
}
