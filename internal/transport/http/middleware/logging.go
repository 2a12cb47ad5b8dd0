package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kpiboard/internal/platform/logger"
	"kpiboard/internal/platform/requestctx"
)

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.written {
		s.status = code
		s.written = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.written = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func record(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// routePattern is the matched chi pattern, empty when nothing matched.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// Logger writes one structured line per request.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := record(w)
		next.ServeHTTP(recorder, r)

		log := logger.From(r.Context())
		event := log.Info()
		switch {
		case recorder.status >= 500:
			event = log.Error()
		case recorder.status >= 400:
			event = log.Warn()
		}
		if info := requestctx.From(r.Context()); info != nil && info.PrincipalID != "" {
			event = event.Str("principal_id", info.PrincipalID)
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", routePattern(r)).
			Int("status", recorder.status).
			Int64("durationMs", time.Since(start).Milliseconds()).
			Msg("request")
	})
}
