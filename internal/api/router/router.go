package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/http/handlers"
	httpmiddleware "github.com/atticusjxn/FlynnAIapp-sub006/internal/http/middleware"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/jobs"
	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger *logging.Logger

	// Webhooks are signature-gated, never bearer-authed.
	Telephony *handlers.TelephonyHandler

	// Authenticated API surface.
	Jobs         *jobs.Handler
	Availability *handlers.AvailabilityHandler
	JWTSecret    string

	MetricsHandler http.Handler
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: provider webhooks and operational probes.
	r.Group(func(public chi.Router) {
		public.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.Telephony != nil {
			cfg.Telephony.Routes(public)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Bearer-authed app API.
	r.Group(func(api chi.Router) {
		api.Use(httpmiddleware.BearerAuth(cfg.JWTSecret))
		if cfg.Jobs != nil {
			cfg.Jobs.Routes(api)
		}
		if cfg.Availability != nil {
			cfg.Availability.Routes(api)
		}
	})

	return r
}
