package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/ocrbatch/internal/api/middleware"
	"github.com/kiranshivaraju/ocrbatch/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	CreateJob     http.HandlerFunc
	ListJobs      http.HandlerFunc
	GetJob        http.HandlerFunc
	GetJobStatus  http.HandlerFunc
	RenameJob     http.HandlerFunc
	DeleteJob     http.HandlerFunc
	ListJobEvents http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth.Authenticate)
		}
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Route("/api/v1/jobs", func(r chi.Router) {
			r.Post("/", orNotImplemented(deps.CreateJob))
			r.Get("/", orNotImplemented(deps.ListJobs))

			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", orNotImplemented(deps.GetJob))
				r.Patch("/", orNotImplemented(deps.RenameJob))
				r.Delete("/", orNotImplemented(deps.DeleteJob))
				r.Get("/status", orNotImplemented(deps.GetJobStatus))
				r.Get("/events", orNotImplemented(deps.ListJobEvents))
			})
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
