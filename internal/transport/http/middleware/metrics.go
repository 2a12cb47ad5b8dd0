package middleware

import (
	"net/http"
	"time"
)

// MetricsRecorder receives one observation per finished request.
type MetricsRecorder interface {
	Record(method, route string, status int, duration time.Duration)
}

func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if recorder == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := record(w)
			next.ServeHTTP(rec, r)
			recorder.Record(r.Method, routePattern(r), rec.status, time.Since(start))
		})
	}
}
