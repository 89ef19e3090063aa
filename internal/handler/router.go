package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Shivanand-hulikatti/club-registration/internal/auth"
	"github.com/Shivanand-hulikatti/club-registration/internal/model"
)

// RouterConfig carries everything NewRouter mounts.
type RouterConfig struct {
	Registrations *RegistrationHandler
	Entities      *EntityHandler
	Requests      *RequestHandler
	Validator     auth.Validator
	Logger        *slog.Logger
	AllowedOrigin string
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) chi.Router {
	log := cfg.Logger
	origin := cfg.AllowedOrigin
	if origin == "" {
		origin = "*"
	}

	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(log))             // structured access log
	r.Use(CORS(origin))

	r.Get("/health", HealthCheck)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(cfg.Validator, log))

		r.Route("/registrations", func(r chi.Router) {
			// Anonymous callers may ask whether they are registered.
			r.Get("/", cfg.Registrations.List)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth(log))
				r.Post("/", cfg.Registrations.Register)
				r.Delete("/{id}", cfg.Registrations.Cancel)
				r.Get("/{id}/can-cancel", cfg.Registrations.CanCancel)
			})
		})

		r.Route("/requests", func(r chi.Router) {
			r.Use(auth.RequireAuth(log))
			r.Post("/", cfg.Requests.Submit)
			r.Get("/", cfg.Requests.Mine)
			r.Get("/{id}", cfg.Requests.Get)
		})

		r.Get("/clubs", cfg.Entities.List(model.KindClub))
		r.Get("/clubs/{id}", cfg.Entities.Get(model.KindClub))
		r.Get("/events", cfg.Entities.List(model.KindEvent))
		r.Get("/events/{id}", cfg.Entities.Get(model.KindEvent))

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin(log))
			r.Post("/entities", cfg.Entities.Create)
			r.Post("/{kind}/{id}/deactivate", cfg.Entities.Deactivate)
			r.Post("/{kind}/{id}/reactivate", cfg.Entities.Reactivate)
			r.Get("/requests", cfg.Requests.List)
			r.Post("/requests/{id}/approve", cfg.Requests.Approve)
			r.Post("/requests/{id}/reject", cfg.Requests.Reject)
		})
	})

	return r
}
