// Package channel owns one push-based websocket connection per active
// generation job and translates inbound frames into placeholder state
// transitions.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
)

// Events are the transition callbacks invoked from a session's read loop.
// The consumer is responsible for serializing them.
type Events struct {
	Progress  func(jobID string, percent int, step string)
	Completed func(jobID string)
	Failed    func(jobID string, message string)
}

// Options configures the manager.
type Options struct {
	BaseURL      string // backend base URL, http(s) or ws(s) scheme
	APIKey       string
	MonitorDelay time.Duration // wait between auth and monitor frames
	Dialer       *websocket.Dialer
	Logger       *infra.Logger
}

// Manager multiplexes the per-job progress channels. The session table is the
// only shared state and is guarded by mu; at most one live channel exists per
// job id.
type Manager struct {
	baseURL      string
	apiKey       string
	monitorDelay time.Duration
	dialer       *websocket.Dialer
	events       Events
	log          infra.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager constructs a manager with sane defaults and injected callbacks.
func NewManager(opts Options, events Events) *Manager {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	delay := opts.MonitorDelay
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	log := infra.NewLogger("production")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Manager{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		monitorDelay: delay,
		dialer:       dialer,
		events:       events,
		log:          infra.Component(log, "channel"),
		sessions:     make(map[string]*session),
	}
}

type session struct {
	jobID string
	conn  *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// outbound frames

type authFrame struct {
	Type   string `json:"type"`
	APIKey string `json:"api_key"`
}

type monitorFrame struct {
	Type           string         `json:"type"`
	PromptID       string         `json:"prompt_id"`
	WorkflowID     string         `json:"workflow_id"`
	Prompt         string         `json:"prompt"`
	SaveToDisk     bool           `json:"save_to_disk"`
	OverrideParams map[string]any `json:"override_params,omitempty"`
	ImageFilename  string         `json:"image_filename,omitempty"`
}

// inbound frames

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type progressData struct {
	Status          string `json:"status"`
	NodeTitle       string `json:"node_title"`
	ProgressPercent *int   `json:"progress_percent"`
	Error           string `json:"error"`
}

type errorData struct {
	Error string `json:"error"`
}

// Open establishes the dedicated channel for the job. If a live channel for
// the same job id already exists it is closed first. The monitor frame
// carries the full request parameters so a resumed session needs no other
// context.
func (m *Manager) Open(ctx context.Context, job domain.Job) error {
	wsURL, err := m.channelURL()
	if err != nil {
		return &domain.ChannelError{JobID: job.ID, Message: err.Error()}
	}

	conn, resp, err := m.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return &domain.ChannelError{JobID: job.ID, Message: fmt.Sprintf("dial %s: %v", wsURL, err)}
	}

	s := &session{jobID: job.ID, conn: conn, done: make(chan struct{})}

	m.mu.Lock()
	if prev, ok := m.sessions[job.ID]; ok {
		m.log.Debug().Str("job_id", job.ID).Msg("closing superseded channel")
		prev.close()
	}
	m.sessions[job.ID] = s
	m.mu.Unlock()

	if err := conn.WriteJSON(authFrame{Type: "auth", APIKey: m.apiKey}); err != nil {
		m.drop(job.ID, s)
		return &domain.ChannelError{JobID: job.ID, Message: fmt.Sprintf("send auth: %v", err)}
	}

	go m.run(s, job)

	m.log.Info().Str("job_id", job.ID).Msg("channel opened")
	return nil
}

// Close terminates the channel for jobID, discarding any further inbound
// messages. Idempotent.
func (m *Manager) Close(jobID string) {
	m.mu.Lock()
	s, ok := m.sessions[jobID]
	if ok {
		delete(m.sessions, jobID)
	}
	m.mu.Unlock()
	if ok {
		s.close()
		m.log.Info().Str("job_id", jobID).Msg("channel closed")
	}
}

// CloseAll terminates every live channel. Used on logout and teardown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
	if len(sessions) > 0 {
		m.log.Info().Int("count", len(sessions)).Msg("all channels closed")
	}
}

// Live reports whether a channel currently exists for jobID.
func (m *Manager) Live(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[jobID]
	return ok
}

// LiveCount returns the number of open channels.
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// drop removes the session from the table if it is still the registered one,
// then closes it.
func (m *Manager) drop(jobID string, s *session) {
	m.mu.Lock()
	if cur, ok := m.sessions[jobID]; ok && cur == s {
		delete(m.sessions, jobID)
	}
	m.mu.Unlock()
	s.close()
}

func (m *Manager) channelURL() (string, error) {
	u, err := url.Parse(m.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/generate/ws/" + uuid.NewString()
	return u.String(), nil
}

// run sends the monitor frame after the fixed handshake delay and then pumps
// inbound frames until a terminal message arrives or the session is closed.
func (m *Manager) run(s *session, job domain.Job) {
	defer m.drop(s.jobID, s)

	timer := time.NewTimer(m.monitorDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.done:
		return
	}

	monitor := monitorFrame{
		Type:           "monitor",
		PromptID:       job.ID,
		WorkflowID:     job.WorkflowID,
		Prompt:         job.Prompt,
		SaveToDisk:     true,
		OverrideParams: job.Params,
		ImageFilename:  job.InputImage,
	}
	if err := s.conn.WriteJSON(monitor); err != nil {
		if !s.closed() {
			m.fail(s, fmt.Sprintf("send monitor: %v", err))
		}
		return
	}

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed() {
				m.fail(s, fmt.Sprintf("connection lost: %v", err))
			}
			return
		}
		if s.closed() {
			return
		}
		if terminal := m.dispatch(s, raw); terminal {
			return
		}
	}
}

// dispatch handles one inbound frame and reports whether it was terminal.
// Malformed payloads are logged and ignored; a parse failure never tears the
// channel down.
func (m *Manager) dispatch(s *session, raw []byte) bool {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		m.log.Warn().Str("job_id", s.jobID).Err(err).Msg("malformed frame ignored")
		return false
	}

	switch frame.Type {
	case "progress":
		var data progressData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			m.log.Warn().Str("job_id", s.jobID).Err(err).Msg("malformed progress data ignored")
			return false
		}
		switch data.Status {
		case "queued":
			return false
		case "processing":
			percent := 0
			if data.ProgressPercent != nil {
				percent = *data.ProgressPercent
			}
			if m.events.Progress != nil {
				m.events.Progress(s.jobID, percent, data.NodeTitle)
			}
			return false
		case "completed":
			if m.events.Completed != nil {
				m.events.Completed(s.jobID)
			}
			return true
		case "error":
			m.fail(s, data.Error)
			return true
		default:
			m.log.Debug().Str("job_id", s.jobID).Str("status", data.Status).Msg("unknown progress status ignored")
			return false
		}
	case "error":
		var data errorData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			m.log.Warn().Str("job_id", s.jobID).Err(err).Msg("malformed error data ignored")
			return false
		}
		m.fail(s, data.Error)
		return true
	case "pong":
		return false
	default:
		m.log.Debug().Str("job_id", s.jobID).Str("type", frame.Type).Msg("unknown frame type ignored")
		return false
	}
}

func (m *Manager) fail(s *session, message string) {
	if message == "" {
		message = "unknown error"
	}
	m.log.Warn().Str("job_id", s.jobID).Str("error", message).Msg("job failed on channel")
	if m.events.Failed != nil {
		m.events.Failed(s.jobID, message)
	}
}
