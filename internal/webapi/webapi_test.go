package webapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"genstudio/internal/backends/local"
	"genstudio/internal/backends/remote"
	"genstudio/internal/backendtest"
	"genstudio/internal/channel"
	"genstudio/internal/infra"
	"genstudio/internal/store"
	"genstudio/internal/tracker"
)

type fixture struct {
	backend *backendtest.Server
	api     *httptest.Server
	prefs   *store.Prefs
}

func newFixture(t *testing.T, opts RouterOptions) *fixture {
	t.Helper()
	backend := backendtest.New()
	t.Cleanup(backend.Close)

	db, err := infra.OpenSQLite(filepath.Join(t.TempDir(), "studio.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	st, err := store.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	prefs := store.NewPrefs(db)

	logger := infra.NewLogger("production")
	tr := tracker.New(tracker.Config{PageSize: 20}, tracker.Deps{
		Store:  st,
		Local:  local.NewClient(local.Options{BaseURL: backend.URL(), APIKey: "backend-key", Logger: &logger}),
		Remote: remote.NewClient(remote.Options{BaseURL: backend.URL() + "/google-ai", APIKey: "backend-key", Logger: &logger}),
		ChannelOpts: channel.Options{
			BaseURL:      backend.URL(),
			APIKey:       "backend-key",
			MonitorDelay: 10 * time.Millisecond,
			Logger:       &logger,
		},
		Logger: logger,
	})
	t.Cleanup(tr.Close)

	api := httptest.NewServer(NewRouter(NewApp(tr, prefs, logger), opts))
	t.Cleanup(api.Close)
	return &fixture{backend: backend, api: api, prefs: prefs}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.api.URL+path, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	data, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealth(t *testing.T) {
	f := newFixture(t, RouterOptions{})
	res, _ := f.do(t, http.MethodGet, "/v1/healthz", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health = %d, want 200", res.StatusCode)
	}
}

func TestSubmitLocalRemembersInputs(t *testing.T) {
	f := newFixture(t, RouterOptions{SubmitRate: 100, SubmitBurst: 100})

	res, data := f.do(t, http.MethodPost, "/jobs/local", map[string]any{
		"workflow_id":   "wf-1",
		"workflow_name": "flux_dev",
		"prompt":        "a lighthouse",
		"overrides":     map[string]any{"steps": 30},
	})
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("submit = %d (%s), want 202", res.StatusCode, data)
	}
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil || out["job_id"] == "" {
		t.Fatalf("submit body = %s", data)
	}

	res, data = f.do(t, http.MethodGet, "/prefs/", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("prefs = %d", res.StatusCode)
	}
	var prefs prefsBody
	if err := json.Unmarshal(data, &prefs); err != nil {
		t.Fatalf("prefs body: %v", err)
	}
	if prefs.LastWorkflow != "wf-1" || prefs.LastPrompt != "a lighthouse" {
		t.Fatalf("prefs = %+v, want submitted inputs", prefs)
	}
}

func TestSubmitRemoteValidation(t *testing.T) {
	f := newFixture(t, RouterOptions{SubmitRate: 100, SubmitBurst: 100})
	res, _ := f.do(t, http.MethodPost, "/jobs/remote", map[string]any{"prompt": " "})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("blank prompt = %d, want 422", res.StatusCode)
	}
}

func TestGalleryRefreshAndSelection(t *testing.T) {
	f := newFixture(t, RouterOptions{})
	f.backend.AddImage(backendtest.ImageRecord{ID: "img-1", Filename: "a.png"})
	f.backend.AddImage(backendtest.ImageRecord{ID: "img-2", Filename: "b.png"})

	res, data := f.do(t, http.MethodPost, "/gallery/refresh", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("refresh = %d", res.StatusCode)
	}
	var gallery struct {
		Entries      []json.RawMessage `json:"entries"`
		EndOfHistory bool              `json:"end_of_history"`
	}
	if err := json.Unmarshal(data, &gallery); err != nil {
		t.Fatalf("gallery body: %v", err)
	}
	if len(gallery.Entries) != 2 || !gallery.EndOfHistory {
		t.Fatalf("gallery = %d entries eof=%v, want 2/true", len(gallery.Entries), gallery.EndOfHistory)
	}

	res, data = f.do(t, http.MethodPost, "/selection/all", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("select all = %d", res.StatusCode)
	}
	var sel struct {
		IDs   []string `json:"ids"`
		Count int      `json:"count"`
	}
	if err := json.Unmarshal(data, &sel); err != nil || len(sel.IDs) != 2 {
		t.Fatalf("selection = %s", data)
	}

	res, data = f.do(t, http.MethodGet, "/selection/download", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("download = %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type = %q", ct)
	}
	if len(data) == 0 {
		t.Fatal("empty archive")
	}
}

func TestDeleteArtifact(t *testing.T) {
	f := newFixture(t, RouterOptions{})
	f.backend.AddImage(backendtest.ImageRecord{ID: "img-1", Filename: "a.png"})
	if _, err := http.Post(f.api.URL+"/gallery/refresh", "", nil); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	res, _ := f.do(t, http.MethodDelete, "/artifacts/img-1", nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d, want 204", res.StatusCode)
	}
	if f.backend.ImageCount() != 0 {
		t.Fatal("backend still holds the artifact")
	}
}

func TestAPIKeyGate(t *testing.T) {
	f := newFixture(t, RouterOptions{APIKey: "front-key"})

	res, _ := f.do(t, http.MethodGet, "/gallery/", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing key = %d, want 401", res.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, f.api.URL+"/gallery/", nil)
	req.Header.Set("X-Studio-Key", "front-key")
	res2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("valid key = %d, want 200", res2.StatusCode)
	}
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

func TestSubmitLocalAppliesStoredOverrides(t *testing.T) {
	f := newFixture(t, RouterOptions{SubmitRate: 100, SubmitBurst: 100})

	res, _ := f.do(t, http.MethodPut, "/prefs/overrides/wf-1", map[string]any{"steps": 42, "cfg": 7.5})
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("put overrides = %d, want 204", res.StatusCode)
	}

	// an overrides-free submit still carries the stored map
	res, data := f.do(t, http.MethodPost, "/jobs/local", map[string]any{
		"workflow_id":   "wf-1",
		"workflow_name": "flux_dev",
		"prompt":        "a lighthouse",
	})
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("submit = %d (%s), want 202", res.StatusCode, data)
	}

	waitFor(t, "monitor frame", func() bool { return len(f.backend.Monitors()) == 1 })
	got := f.backend.Monitors()[0].OverrideParams
	if got["steps"] != float64(42) || got["cfg"] != 7.5 {
		t.Fatalf("monitor overrides = %v, want stored steps=42 cfg=7.5", got)
	}
}

func TestSubmitLocalInlineOverridesWin(t *testing.T) {
	f := newFixture(t, RouterOptions{SubmitRate: 100, SubmitBurst: 100})

	res, _ := f.do(t, http.MethodPut, "/prefs/overrides/wf-1", map[string]any{"steps": 42, "cfg": 7.5})
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("put overrides = %d, want 204", res.StatusCode)
	}

	res, data := f.do(t, http.MethodPost, "/jobs/local", map[string]any{
		"workflow_id":   "wf-1",
		"workflow_name": "flux_dev",
		"prompt":        "a lighthouse",
		"overrides":     map[string]any{"steps": 30},
	})
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("submit = %d (%s), want 202", res.StatusCode, data)
	}

	waitFor(t, "monitor frame", func() bool { return len(f.backend.Monitors()) == 1 })
	got := f.backend.Monitors()[0].OverrideParams
	if got["steps"] != float64(30) {
		t.Fatalf("monitor steps = %v, want inline 30", got["steps"])
	}
	if got["cfg"] != 7.5 {
		t.Fatalf("monitor cfg = %v, want stored 7.5", got["cfg"])
	}
}
