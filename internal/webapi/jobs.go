package webapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"genstudio/internal/backends/remote"
	"genstudio/internal/domain"
	"genstudio/internal/store"
	"genstudio/internal/tracker"
)

type submitLocalBody struct {
	WorkflowID   string         `json:"workflow_id"`
	WorkflowName string         `json:"workflow_name"`
	Prompt       string         `json:"prompt"`
	Overrides    map[string]any `json:"overrides"`
}

// SubmitLocal launches a workflow job. A multipart request carries an input
// image under "image" next to the form fields; a JSON body carries the same
// fields without one.
func (a *App) SubmitLocal(w http.ResponseWriter, r *http.Request) {
	var body submitLocalBody
	params := tracker.SubmitLocalParams{}

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			a.fail(w, r, &domain.ValidationError{Field: "body", Reason: "invalid multipart form"})
			return
		}
		body.WorkflowID = r.FormValue("workflow_id")
		body.WorkflowName = r.FormValue("workflow_name")
		body.Prompt = r.FormValue("prompt")
		if raw := r.FormValue("overrides"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &body.Overrides); err != nil {
				a.fail(w, r, &domain.ValidationError{Field: "overrides", Reason: "invalid JSON"})
				return
			}
		}
		if file, header, err := r.FormFile("image"); err == nil {
			defer file.Close()
			params.InputImage = file
			params.InputImageName = header.Filename
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			a.fail(w, r, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
			return
		}
	}

	// Persisted per-workflow overrides fill in whatever this request omitted;
	// values supplied inline win.
	if stored, err := a.Prefs.Overrides(r.Context(), body.WorkflowID); err != nil {
		a.Log.Warn().Err(err).Str("workflow_id", body.WorkflowID).Msg("load stored overrides failed")
	} else if len(stored) > 0 {
		merged := make(map[string]any, len(stored)+len(body.Overrides))
		for k, v := range stored {
			merged[k] = v
		}
		for k, v := range body.Overrides {
			merged[k] = v
		}
		body.Overrides = merged
	}

	params.WorkflowID = body.WorkflowID
	params.WorkflowName = body.WorkflowName
	params.Prompt = body.Prompt
	params.Overrides = body.Overrides

	id, err := a.Tracker.SubmitLocal(r.Context(), params)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.rememberInputs(r, body)
	a.json(w, http.StatusAccepted, map[string]string{"job_id": id})
}

// rememberInputs persists the last-used workflow and prompt so the dashboard
// can restore them after a reload. Failures only log; the submit already
// succeeded.
func (a *App) rememberInputs(r *http.Request, body submitLocalBody) {
	ctx := r.Context()
	if err := a.Prefs.Set(ctx, store.PrefLastWorkflow, body.WorkflowID); err != nil {
		a.Log.Warn().Err(err).Msg("persist last workflow failed")
	}
	if err := a.Prefs.Set(ctx, store.PrefLastPrompt, body.Prompt); err != nil {
		a.Log.Warn().Err(err).Msg("persist last prompt failed")
	}
	if len(body.Overrides) > 0 {
		if err := a.Prefs.SetOverrides(ctx, body.WorkflowID, body.Overrides); err != nil {
			a.Log.Warn().Err(err).Msg("persist overrides failed")
		}
	}
}

type submitRemoteBody struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	AspectRatio string `json:"aspect_ratio"`
}

// SubmitRemote launches a synchronous remote generation. The response is not
// sent until the remote call resolved, mirroring the blocking backend API.
func (a *App) SubmitRemote(w http.ResponseWriter, r *http.Request) {
	var body submitRemoteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.fail(w, r, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	id, err := a.Tracker.SubmitRemote(r.Context(), remote.GenerateRequest{
		Prompt:      body.Prompt,
		Model:       body.Model,
		AspectRatio: body.AspectRatio,
	})
	if err != nil {
		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) {
			// the placeholder exists and carries the failure; report it
			a.json(w, http.StatusBadGateway, map[string]string{"job_id": id, "error": err.Error()})
			return
		}
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"job_id": id})
}

// DismissJob drops a placeholder on user request.
func (a *App) DismissJob(w http.ResponseWriter, r *http.Request) {
	a.Tracker.Dismiss(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// Logout closes every channel and clears tracked state and preferences.
func (a *App) Logout(w http.ResponseWriter, r *http.Request) {
	if err := a.Tracker.Logout(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Prefs.ClearAll(r.Context()); err != nil {
		a.Log.Warn().Err(err).Msg("clear preferences failed")
	}
	w.WriteHeader(http.StatusNoContent)
}
