// Package backendtest provides an in-process stand-in for the dashboard
// backend: generation submit, per-job progress websocket, paginated image
// history, uploads and the synchronous remote image API. It exists for tests
// and for the studio's offline demo mode.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ImageRecord is the wire shape of one history entry.
type ImageRecord struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	WorkflowID   string         `json:"workflow_id"`
	WorkflowName string         `json:"workflow_name"`
	Prompt       string         `json:"prompt"`
	PromptID     string         `json:"prompt_id"`
	Width        int            `json:"width,omitempty"`
	Height       int            `json:"height,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Frame is one scripted websocket message. Raw, when set, is sent verbatim
// (used to exercise malformed-payload handling).
type Frame struct {
	Type string
	Data map[string]any
	Raw  []byte
}

// ProgressFrame builds a processing update.
func ProgressFrame(percent int, step string) Frame {
	return Frame{Type: "progress", Data: map[string]any{
		"status": "processing", "progress_percent": percent, "node_title": step,
	}}
}

// CompletedFrame builds the terminal success update.
func CompletedFrame() Frame {
	return Frame{Type: "progress", Data: map[string]any{"status": "completed"}}
}

// ErrorStatusFrame builds a progress frame with a nested error status.
func ErrorStatusFrame(msg string) Frame {
	return Frame{Type: "progress", Data: map[string]any{"status": "error", "error": msg}}
}

// ErrorFrame builds an error-tagged frame.
func ErrorFrame(msg string) Frame {
	return Frame{Type: "error", Data: map[string]any{"error": msg}}
}

// RawFrame sends arbitrary bytes.
func RawFrame(raw string) Frame {
	return Frame{Raw: []byte(raw)}
}

// MonitorRequest records one monitor frame received on a channel.
type MonitorRequest struct {
	PromptID       string         `json:"prompt_id"`
	WorkflowID     string         `json:"workflow_id"`
	Prompt         string         `json:"prompt"`
	SaveToDisk     bool           `json:"save_to_disk"`
	OverrideParams map[string]any `json:"override_params"`
	ImageFilename  string         `json:"image_filename"`
}

// RemoteResult configures the synchronous remote generate endpoint.
type RemoteResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	ImageID string `json:"image_id,omitempty"`
	URL     string `json:"image_url,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// Server is the fake backend.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu         sync.Mutex
	images     []ImageRecord
	scripts    map[string][]Frame
	monitors   []MonitorRequest
	auths      []string
	uploads    []string
	submitErr  string
	remote     RemoteResult
	frameDelay time.Duration
}

// New starts the fake backend.
func New() *Server {
	s := &Server{
		scripts:    make(map[string][]Frame),
		remote:     RemoteResult{Status: "success", Message: "ok"},
		frameDelay: 5 * time.Millisecond,
	}

	r := chi.NewRouter()
	r.Post("/generate", s.handleGenerate)
	r.Get("/generate/ws/{clientID}", s.handleChannel)
	r.Post("/generate/upload-image", s.handleUpload)
	r.Get("/images", s.handleListImages)
	r.Get("/images/{id}/download", s.handleDownload)
	r.Delete("/images/{id}", s.handleDeleteImage)
	r.Post("/google-ai/generate", s.handleRemoteGenerate)

	s.srv = httptest.NewServer(r)
	return s
}

// URL is the backend base URL.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the server down.
func (s *Server) Close() { s.srv.Close() }

// AddImage appends a record to the history (newest records should be added
// last; the list endpoint serves newest first).
func (s *Server) AddImage(rec ImageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.images = append(s.images, rec)
}

// Script sets the frames played back after a monitor request for promptID.
func (s *Server) Script(promptID string, frames ...Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[promptID] = frames
}

// FailSubmit makes the generate endpoint answer with a failed status.
func (s *Server) FailSubmit(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErr = message
}

// SetRemote configures the next remote generate response.
func (s *Server) SetRemote(res RemoteResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = res
}

// Monitors returns the monitor requests received so far.
func (s *Server) Monitors() []MonitorRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MonitorRequest, len(s.monitors))
	copy(out, s.monitors)
	return out
}

// Uploads returns the stored filenames of uploaded input images.
func (s *Server) Uploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.uploads))
	copy(out, s.uploads)
	return out
}

// ImageCount reports the current history size.
func (s *Server) ImageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkflowID string `json:"workflow_id"`
		Prompt     string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	submitErr := s.submitErr
	s.mu.Unlock()

	if submitErr != "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"prompt_id": "", "workflow_id": req.WorkflowID, "status": "failed", "message": submitErr,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prompt_id":   uuid.NewString(),
		"workflow_id": req.WorkflowID,
		"status":      "queued",
		"message":     "generation task submitted",
	})
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var auth struct {
		Type   string `json:"type"`
		APIKey string `json:"api_key"`
	}
	if err := conn.ReadJSON(&auth); err != nil || auth.Type != "auth" {
		return
	}
	s.mu.Lock()
	s.auths = append(s.auths, auth.APIKey)
	s.mu.Unlock()

	var monitor MonitorRequest
	var envelope struct {
		Type string `json:"type"`
		MonitorRequest
	}
	if err := conn.ReadJSON(&envelope); err != nil || envelope.Type != "monitor" {
		return
	}
	monitor = envelope.MonitorRequest

	s.mu.Lock()
	s.monitors = append(s.monitors, monitor)
	frames := s.scripts[monitor.PromptID]
	delay := s.frameDelay
	s.mu.Unlock()

	for _, f := range frames {
		time.Sleep(delay)
		if f.Raw != nil {
			if err := conn.WriteMessage(websocket.TextMessage, f.Raw); err != nil {
				return
			}
			continue
		}
		msg := map[string]any{"type": f.Type, "data": f.Data}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}

	// keep the connection open until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "bad multipart", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	_ = file.Close()

	stored := fmt.Sprintf("upload-%s-%s", uuid.NewString()[:8], header.Filename)
	s.mu.Lock()
	s.uploads = append(s.uploads, stored)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true, "filename": stored, "original_filename": header.Filename,
	})
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 {
		pageSize = 20
	}

	s.mu.Lock()
	// newest first
	ordered := make([]ImageRecord, len(s.images))
	for i, rec := range s.images {
		ordered[len(s.images)-1-i] = rec
	}
	s.mu.Unlock()

	start := (page - 1) * pageSize
	if start > len(ordered) {
		start = len(ordered)
	}
	end := start + pageSize
	if end > len(ordered) {
		end = len(ordered)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"images":    ordered[start:end],
		"total":     len(ordered),
		"page":      page,
		"page_size": pageSize,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	found := false
	for _, rec := range s.images {
		if rec.ID == id {
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write([]byte("png-bytes-" + id))
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range s.images {
		if rec.ID == id {
			s.images = append(s.images[:i], s.images[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.Error(w, "not found", http.StatusNotFound)
}

func (s *Server) handleRemoteGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
		Model  string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	res := s.remote
	s.mu.Unlock()

	if res.Status == "success" && res.ImageID != "" {
		// the backend persists the artifact before answering
		s.AddImage(ImageRecord{
			ID:           res.ImageID,
			Filename:     res.ImageID + ".png",
			WorkflowName: "Google AI",
			Prompt:       req.Prompt,
			Width:        res.Width,
			Height:       res.Height,
		})
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
