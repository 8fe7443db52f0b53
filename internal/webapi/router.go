package webapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"genstudio/internal/middleware"
)

// RouterOptions carries the surface-level knobs.
type RouterOptions struct {
	APIKey      string   // inbound key; empty disables the check
	CORSOrigins []string // allowed frontend origins
	SubmitRate  float64  // submit requests per second per client
	SubmitBurst int
}

// NewRouter wires the API routes. Everything except the health probe sits
// behind the inbound key check.
func NewRouter(app *App, opts RouterOptions) http.Handler {
	if opts.SubmitRate <= 0 {
		opts.SubmitRate = 1
	}
	if opts.SubmitBurst <= 0 {
		opts.SubmitBurst = 3
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Log),
	)
	if len(opts.CORSOrigins) > 0 {
		r.Use(middleware.CORS(opts.CORSOrigins))
	}

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(opts.APIKey))

		r.Route("/jobs", func(r chi.Router) {
			r.With(middleware.RateLimit(opts.SubmitRate, opts.SubmitBurst)).
				Post("/local", app.SubmitLocal)
			r.With(middleware.RateLimit(opts.SubmitRate, opts.SubmitBurst)).
				Post("/remote", app.SubmitRemote)
			r.Delete("/{id}", app.DismissJob)
		})

		r.Route("/gallery", func(r chi.Router) {
			r.Get("/", app.Gallery)
			r.Post("/refresh", app.RefreshGallery)
			r.Post("/more", app.LoadMoreGallery)
		})

		r.Route("/artifacts", func(r chi.Router) {
			r.Delete("/{id}", app.DeleteArtifact)
		})

		r.Route("/selection", func(r chi.Router) {
			r.Get("/", app.Selection)
			r.Post("/toggle", app.ToggleSelection)
			r.Post("/all", app.SelectAll)
			r.Delete("/", app.ClearSelection)
			r.Get("/download", app.BatchDownload)
		})

		r.Route("/prefs", func(r chi.Router) {
			r.Get("/", app.GetPrefs)
			r.Put("/", app.PutPrefs)
			r.Get("/overrides/{workflowID}", app.GetOverrides)
			r.Put("/overrides/{workflowID}", app.PutOverrides)
		})

		r.Post("/session/logout", app.Logout)
	})

	return r
}
