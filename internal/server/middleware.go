package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"paintEstimator/internal/metrics"
)

// requestLogger writes one zerolog line per request and records HTTP metrics
// against the matched route pattern.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				route := r.URL.Path
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					route = rctx.RoutePattern()
				}
				elapsed := time.Since(start)

				metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
				metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

				evt := logger.Info()
				switch {
				case status >= 500:
					evt = logger.Error()
				case status >= 400:
					evt = logger.Warn()
				}
				evt.Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("route", route).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Str("remote", r.RemoteAddr).
					Dur("duration", elapsed).
					Msg("request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
