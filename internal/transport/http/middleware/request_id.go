package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kpiboard/internal/platform/logger"
	"kpiboard/internal/platform/requestctx"
)

// RequestID tags the request with an id and binds base, enriched with that
// id, as the request logger.
func RequestID(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" || len(reqID) > 128 {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)
			ctx := requestctx.With(r.Context(), &requestctx.Info{RequestID: reqID})
			ctx = base.WithContext(ctx)
			ctx = logger.WithRequestID(ctx, reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetRequestID(ctx context.Context) string {
	return requestctx.GetRequestID(ctx)
}
