// Package local is the adapter for the workflow-engine backend. Submission is
// asynchronous: the backend answers with a prompt id and progress arrives on a
// per-job websocket channel.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
)

// Options configures the workflow backend client.
type Options struct {
	BaseURL        string
	APIKey         string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the workflow backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        infra.Logger
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
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
		httpClient: httpClient,
		log:        infra.Component(log, "backend.local"),
	}
}

// SubmitRequest carries the inputs for one local generation.
type SubmitRequest struct {
	WorkflowID    string
	WorkflowName  string
	Prompt        string
	Overrides     map[string]any
	ImageFilename string // stored name of an uploaded input image, when used
}

type submitBody struct {
	WorkflowID     string         `json:"workflow_id"`
	Prompt         string         `json:"prompt"`
	OverrideParams map[string]any `json:"override_params,omitempty"`
	SaveToDisk     bool           `json:"save_to_disk"`
	ImageFilename  string         `json:"image_filename,omitempty"`
}

type submitResponse struct {
	PromptID   string `json:"prompt_id"`
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// Submit validates preconditions, sends the generation request and returns
// the queued placeholder. A missing workflow fails before any network call.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (domain.Job, error) {
	if strings.TrimSpace(req.WorkflowID) == "" {
		return domain.Job{}, &domain.ValidationError{Field: "workflow", Reason: "must be selected"}
	}

	overrides := PruneOverrides(req.Overrides)
	body := submitBody{
		WorkflowID:     req.WorkflowID,
		Prompt:         req.Prompt,
		OverrideParams: overrides,
		SaveToDisk:     true,
		ImageFilename:  req.ImageFilename,
	}

	var res submitResponse
	if err := c.postJSON(ctx, "/generate", body, &res); err != nil {
		return domain.Job{}, &domain.SubmitError{Backend: domain.BackendLocal, Message: "request failed", Err: err}
	}
	if res.Status == "failed" || res.PromptID == "" {
		return domain.Job{}, &domain.SubmitError{Backend: domain.BackendLocal, Message: res.Message}
	}

	c.log.Info().Str("job_id", res.PromptID).Str("workflow_id", req.WorkflowID).Msg("generation submitted")
	return domain.Job{
		ID:          res.PromptID,
		Backend:     domain.BackendLocal,
		WorkflowID:  req.WorkflowID,
		Prompt:      req.Prompt,
		Label:       domain.DisplayLabel(req.WorkflowName),
		State:       domain.JobStateQueued,
		SubmittedAt: time.Now().UTC(),
		InputImage:  req.ImageFilename,
		Params:      overrides,
	}, nil
}

// UploadInputImage stores an auxiliary input image on the backend and returns
// the stored filename. Required before submitting workflows with an image node.
func (c *Client) UploadInputImage(ctx context.Context, filename string, r io.Reader) (string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("read input image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finish multipart: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate/upload-image", buf)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload image: unexpected status %d", resp.StatusCode)
	}

	var res struct {
		Success  bool   `json:"success"`
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if !res.Success || res.Filename == "" {
		return "", fmt.Errorf("upload image: backend rejected file")
	}
	return res.Filename, nil
}

type imageRecord struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	WorkflowID   string         `json:"workflow_id"`
	WorkflowName string         `json:"workflow_name"`
	Prompt       string         `json:"prompt"`
	PromptID     string         `json:"prompt_id"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	CreatedAt    time.Time      `json:"created_at"`
	Metadata     map[string]any `json:"metadata"`
}

type imageListResponse struct {
	Images   []imageRecord `json:"images"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// ListImages fetches one page of the artifact history, newest first.
func (c *Client) ListImages(ctx context.Context, page, pageSize int) (domain.ArtifactPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/images?"+q.Encode(), nil)
	if err != nil {
		return domain.ArtifactPage{}, err
	}
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.ArtifactPage{}, fmt.Errorf("list images: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.ArtifactPage{}, fmt.Errorf("list images: unexpected status %d", resp.StatusCode)
	}

	var res imageListResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return domain.ArtifactPage{}, fmt.Errorf("decode image list: %w", err)
	}

	items := make([]domain.Artifact, 0, len(res.Images))
	for _, rec := range res.Images {
		items = append(items, domain.Artifact{
			ID:          rec.ID,
			JobID:       rec.PromptID,
			Filename:    rec.Filename,
			CreatedAt:   rec.CreatedAt,
			Prompt:      rec.Prompt,
			SourceLabel: domain.DisplayLabel(rec.WorkflowName),
			Width:       rec.Width,
			Height:      rec.Height,
			Params:      rec.Metadata,
		})
	}
	return domain.ArtifactPage{Items: items, Total: res.Total, Page: res.Page, PageSize: res.PageSize}, nil
}

// DeleteImage removes one artifact from the history.
func (c *Client) DeleteImage(ctx context.Context, id string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/images/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("delete image %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("delete image %s: unexpected status %d", id, resp.StatusCode)
	}
	return nil
}

// DownloadImage fetches the raw bytes of one artifact.
func (c *Client) DownloadImage(ctx context.Context, id string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/images/"+url.PathEscape(id)+"/download", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download image %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image %s: unexpected status %d", id, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PruneOverrides drops entries whose value is empty or nil so only
// non-default values are transmitted.
func PruneOverrides(overrides map[string]any) map[string]any {
	if len(overrides) == 0 {
		return nil
	}
	pruned := make(map[string]any, len(overrides))
	for k, v := range overrides {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		pruned[k] = v
	}
	if len(pruned) == 0 {
		return nil
	}
	return pruned
}
