// Package remote is the adapter for the hosted image API. Unlike the local
// workflow backend it is request/response driven: Generate blocks until the
// service itself reports success or failure, and the caller then resolves the
// artifact directly instead of listening on a progress channel.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
)

// Options configures the remote image API client.
type Options struct {
	BaseURL        string
	APIKey         string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs synchronous generation calls against the remote image API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	log        infra.Logger
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			// the call blocks for the whole generation
			timeout = 3 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	log := infra.NewLogger("production")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
		httpClient: httpClient,
		log:        infra.Component(log, "backend.remote"),
	}
}

// GenerateRequest carries the inputs for one remote generation.
type GenerateRequest struct {
	Prompt      string
	Model       string // overrides the configured default when set
	AspectRatio string
}

// Result is the normalized outcome of a successful remote generation.
type Result struct {
	ArtifactID string
	URL        string
	Width      int
	Height     int
	Message    string
}

type generateBody struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

type generateResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	ImageID string `json:"image_id"`
	URL     string `json:"image_url"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// Generate submits the request and blocks until the remote service answers.
// An empty prompt fails before any network call.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{}, &domain.ValidationError{Field: "prompt", Reason: "must not be empty"}
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	raw, err := json.Marshal(generateBody{Prompt: req.Prompt, Model: model, AspectRatio: req.AspectRatio})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(raw))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, &domain.SubmitError{Backend: domain.BackendRemote, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, &domain.SubmitError{
			Backend: domain.BackendRemote,
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}

	var res generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, &domain.SubmitError{Backend: domain.BackendRemote, Message: "invalid response", Err: err}
	}
	if res.Status != "success" {
		return Result{}, &domain.SubmitError{Backend: domain.BackendRemote, Message: res.Message}
	}

	c.log.Info().Str("image_id", res.ImageID).Msg("remote generation finished")
	return Result{ArtifactID: res.ImageID, URL: res.URL, Width: res.Width, Height: res.Height, Message: res.Message}, nil
}
