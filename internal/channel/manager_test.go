package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"genstudio/internal/backendtest"
	"genstudio/internal/domain"
)

type recorder struct {
	mu        sync.Mutex
	progress  []int
	steps     []string
	completed []string
	failed    map[string]string
}

func newRecorder() *recorder {
	return &recorder{failed: make(map[string]string)}
}

func (r *recorder) events() Events {
	return Events{
		Progress: func(jobID string, percent int, step string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.progress = append(r.progress, percent)
			r.steps = append(r.steps, step)
		},
		Completed: func(jobID string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completed = append(r.completed, jobID)
		},
		Failed: func(jobID string, message string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.failed[jobID] = message
		},
	}
}

func (r *recorder) completedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed)
}

func (r *recorder) failedMessage(jobID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed[jobID]
}

func (r *recorder) lastProgress() (int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.progress) == 0 {
		return -1, ""
	}
	return r.progress[len(r.progress)-1], r.steps[len(r.steps)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(t *testing.T, backend *backendtest.Server, rec *recorder) *Manager {
	t.Helper()
	m := NewManager(Options{
		BaseURL:      backend.URL(),
		APIKey:       "test-key",
		MonitorDelay: 10 * time.Millisecond,
	}, rec.events())
	t.Cleanup(m.CloseAll)
	return m
}

func TestChannelProgressAndCompletion(t *testing.T) {
	backend := backendtest.New()
	defer backend.Close()
	rec := newRecorder()
	m := newTestManager(t, backend, rec)

	backend.Script("job-1",
		backendtest.ProgressFrame(40, "KSampler"),
		backendtest.CompletedFrame(),
	)

	job := domain.Job{ID: "job-1", Backend: domain.BackendLocal, WorkflowID: "wf-1", Prompt: "sunset",
		Params: map[string]any{"steps": 20}}
	if err := m.Open(context.Background(), job); err != nil {
		t.Fatalf("open: %v", err)
	}

	waitFor(t, "completion", func() bool { return rec.completedCount() == 1 })
	if pct, step := rec.lastProgress(); pct != 40 || step != "KSampler" {
		t.Fatalf("progress = %d/%q, want 40/KSampler", pct, step)
	}

	waitFor(t, "session teardown", func() bool { return !m.Live("job-1") })

	monitors := backend.Monitors()
	if len(monitors) != 1 {
		t.Fatalf("monitor count = %d", len(monitors))
	}
	mon := monitors[0]
	if mon.PromptID != "job-1" || mon.WorkflowID != "wf-1" || mon.Prompt != "sunset" || !mon.SaveToDisk {
		t.Fatalf("monitor frame mismatch: %+v", mon)
	}
	if mon.OverrideParams["steps"] != float64(20) {
		t.Fatalf("override params not forwarded: %+v", mon.OverrideParams)
	}
}

func TestChannelErrorStatus(t *testing.T) {
	backend := backendtest.New()
	defer backend.Close()
	rec := newRecorder()
	m := newTestManager(t, backend, rec)

	backend.Script("job-2", backendtest.ErrorStatusFrame("OOM"))

	if err := m.Open(context.Background(), domain.Job{ID: "job-2"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitFor(t, "failure", func() bool { return rec.failedMessage("job-2") == "OOM" })
	waitFor(t, "session teardown", func() bool { return !m.Live("job-2") })
}

func TestChannelErrorTaggedFrame(t *testing.T) {
	backend := backendtest.New()
	defer backend.Close()
	rec := newRecorder()
	m := newTestManager(t, backend, rec)

	backend.Script("job-3", backendtest.ErrorFrame("transport rejected"))

	if err := m.Open(context.Background(), domain.Job{ID: "job-3"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitFor(t, "failure", func() bool { return rec.failedMessage("job-3") == "transport rejected" })
}

func TestChannelIgnoresMalformedFrames(t *testing.T) {
	backend := backendtest.New()
	defer backend.Close()
	rec := newRecorder()
	m := newTestManager(t, backend, rec)

	backend.Script("job-4",
		backendtest.RawFrame("{not json"),
		backendtest.RawFrame(`{"type":"progress","data":"nope"}`),
		backendtest.CompletedFrame(),
	)

	if err := m.Open(context.Background(), domain.Job{ID: "job-4"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitFor(t, "completion despite garbage", func() bool { return rec.completedCount() == 1 })
	if msg := rec.failedMessage("job-4"); msg != "" {
		t.Fatalf("malformed frames must not fail the job: %q", msg)
	}
}

func TestChannelAtMostOnePerJob(t *testing.T) {
	backend := backendtest.New()
	defer backend.Close()
	rec := newRecorder()
	m := newTestManager(t, backend, rec)

	job := domain.Job{ID: "job-5", Prompt: "twice"}
	if err := m.Open(context.Background(), job); err != nil {
		t.Fatalf("first open: %v", err)
	}
	waitFor(t, "first monitor", func() bool { return len(backend.Monitors()) == 1 })

	if err := m.Open(context.Background(), job); err != nil {
		t.Fatalf("second open: %v", err)
	}
	waitFor(t, "second monitor", func() bool { return len(backend.Monitors()) == 2 })

	if n := m.LiveCount(); n != 1 {
		t.Fatalf("live channels = %d, want 1", n)
	}
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	backend := backendtest.New()
	defer backend.Close()
	rec := newRecorder()
	m := newTestManager(t, backend, rec)

	if err := m.Open(context.Background(), domain.Job{ID: "job-6"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	m.Close("job-6")
	m.Close("job-6")
	m.Close("never-opened")

	if m.Live("job-6") {
		t.Fatalf("channel still live after close")
	}
	// a deliberately closed channel must not report a failure
	time.Sleep(50 * time.Millisecond)
	if msg := rec.failedMessage("job-6"); msg != "" {
		t.Fatalf("close must not fail the job: %q", msg)
	}
}

func TestChannelCloseAll(t *testing.T) {
	backend := backendtest.New()
	defer backend.Close()
	rec := newRecorder()
	m := newTestManager(t, backend, rec)

	for _, id := range []string{"a", "b", "c"} {
		if err := m.Open(context.Background(), domain.Job{ID: id}); err != nil {
			t.Fatalf("open %s: %v", id, err)
		}
	}
	if n := m.LiveCount(); n != 3 {
		t.Fatalf("live channels = %d, want 3", n)
	}
	m.CloseAll()
	if n := m.LiveCount(); n != 0 {
		t.Fatalf("live channels after CloseAll = %d", n)
	}
}

func TestChannelDialFailure(t *testing.T) {
	rec := newRecorder()
	m := NewManager(Options{BaseURL: "http://127.0.0.1:1", APIKey: "k", MonitorDelay: time.Millisecond}, rec.events())

	err := m.Open(context.Background(), domain.Job{ID: "job-7"})
	if err == nil {
		t.Fatalf("expected dial error")
	}
	var chErr *domain.ChannelError
	if !errors.As(err, &chErr) {
		t.Fatalf("expected ChannelError, got %T", err)
	}
	if m.Live("job-7") {
		t.Fatalf("failed dial must not register a session")
	}
}
