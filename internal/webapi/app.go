// Package webapi exposes the studio's tracking core to the dashboard
// frontend as a small JSON API.
package webapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/store"
	"genstudio/internal/tracker"
)

// App bundles the handler dependencies.
type App struct {
	Tracker *tracker.Tracker
	Prefs   *store.Prefs
	Log     infra.Logger
}

// NewApp constructs the handler set.
func NewApp(tr *tracker.Tracker, prefs *store.Prefs, log infra.Logger) *App {
	return &App{Tracker: tr, Prefs: prefs, Log: infra.Component(log, "webapi")}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps domain errors onto HTTP statuses and a uniform error body.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var vErr *domain.ValidationError
	var sErr *domain.SubmitError
	var pErr *domain.PageFetchError
	switch {
	case errors.As(err, &vErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &sErr), errors.As(err, &pErr):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrArtifactNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		a.Log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	a.json(w, status, map[string]string{"error": err.Error()})
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
