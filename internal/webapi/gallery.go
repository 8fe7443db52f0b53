package webapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Gallery returns the current visible rows: live placeholders followed by
// the loaded history pages.
func (a *App) Gallery(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"entries":        a.Tracker.Snapshot(),
		"end_of_history": a.Tracker.EndOfHistory(),
	})
}

// RefreshGallery reloads page 1, replacing the held history.
func (a *App) RefreshGallery(w http.ResponseWriter, r *http.Request) {
	if err := a.Tracker.Refresh(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	a.Gallery(w, r)
}

// LoadMoreGallery appends the next history page when the scroll gate allows.
func (a *App) LoadMoreGallery(w http.ResponseWriter, r *http.Request) {
	if err := a.Tracker.LoadMore(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	a.Gallery(w, r)
}

// DeleteArtifact removes one artifact from the backend and the list.
func (a *App) DeleteArtifact(w http.ResponseWriter, r *http.Request) {
	if err := a.Tracker.DeleteArtifact(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toggleBody struct {
	ID    string `json:"id"`
	Shift bool   `json:"shift"`
}

// Selection returns the selected ids as resolved against the current list.
func (a *App) Selection(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"ids":   a.Tracker.Selected(),
		"count": a.Tracker.SelectionCount(),
	})
}

// ToggleSelection applies one click, with optional shift-range semantics.
func (a *App) ToggleSelection(w http.ResponseWriter, r *http.Request) {
	var body toggleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		a.json(w, http.StatusUnprocessableEntity, map[string]string{"error": "id required"})
		return
	}
	a.Tracker.Toggle(body.ID, body.Shift)
	a.Selection(w, r)
}

// SelectAll selects every visible row.
func (a *App) SelectAll(w http.ResponseWriter, r *http.Request) {
	a.Tracker.SelectAll()
	a.Selection(w, r)
}

// ClearSelection empties the selection.
func (a *App) ClearSelection(w http.ResponseWriter, r *http.Request) {
	a.Tracker.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

// BatchDownload streams a zip of the selected artifacts.
func (a *App) BatchDownload(w http.ResponseWriter, r *http.Request) {
	data, err := a.Tracker.BatchDownload(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="artifacts.zip"`)
	_, _ = w.Write(data)
}
