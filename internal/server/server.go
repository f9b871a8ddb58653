package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"paintEstimator/internal/estimates"
)

// NewRouter wires routes and middleware.
func NewRouter(estimateHandler estimates.Handler, logger zerolog.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Get("/defaults", estimateHandler.Defaults)
		r.Post("/prompt", estimateHandler.Prompt)
		r.Route("/estimates", func(r chi.Router) {
			r.Get("/", estimateHandler.List)
			r.Post("/", estimateHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", estimateHandler.Get)
				r.Post("/json", estimateHandler.RefineJSON)
				r.Delete("/", estimateHandler.Delete)
			})
		})
		r.Get("/events", estimateHandler.StreamEvents)
	})

	return router
}

// New constructs the HTTP server. Write timeouts leave room for a model call
// plus the JSON refinement. Shutdown cancels request contexts so event
// streams end.
func New(port string, estimateHandler estimates.Handler, logger zerolog.Logger) *http.Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		Addr:              ":" + port,
		Handler:           NewRouter(estimateHandler, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	srv.RegisterOnShutdown(cancel)

	logger.Info().Str("addr", srv.Addr).Msg("server ready")
	return srv
}
