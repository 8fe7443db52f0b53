package webapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"genstudio/internal/domain"
	"genstudio/internal/store"
)

type prefsBody struct {
	LastWorkflow string `json:"last_workflow"`
	LastPrompt   string `json:"last_prompt"`
}

// GetPrefs returns the persisted shell state.
func (a *App) GetPrefs(w http.ResponseWriter, r *http.Request) {
	workflow, err := a.Prefs.Get(r.Context(), store.PrefLastWorkflow)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	prompt, err := a.Prefs.Get(r.Context(), store.PrefLastPrompt)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, prefsBody{LastWorkflow: workflow, LastPrompt: prompt})
}

// PutPrefs stores the shell state.
func (a *App) PutPrefs(w http.ResponseWriter, r *http.Request) {
	var body prefsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.fail(w, r, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	if err := a.Prefs.Set(r.Context(), store.PrefLastWorkflow, body.LastWorkflow); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Prefs.Set(r.Context(), store.PrefLastPrompt, body.LastPrompt); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetOverrides returns the saved parameter overrides for one workflow.
func (a *App) GetOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := a.Prefs.Overrides(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if overrides == nil {
		overrides = map[string]any{}
	}
	a.json(w, http.StatusOK, overrides)
}

// PutOverrides saves the parameter overrides for one workflow.
func (a *App) PutOverrides(w http.ResponseWriter, r *http.Request) {
	var overrides map[string]any
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		a.fail(w, r, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	if err := a.Prefs.SetOverrides(r.Context(), chi.URLParam(r, "workflowID"), overrides); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
