package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kpiboard/internal/platform/logger"
	"kpiboard/internal/transport/http/api"
)

// Limiter counts requests per scope in fixed windows.
type Limiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type RateLimitKeyFunc func(r *http.Request) string

type RateLimitOption func(*rateLimiter)

type rateLimiter struct {
	store  Limiter
	name   string
	limit  int
	window time.Duration
	keyFn  RateLimitKeyFunc
}

func WithKeyFunc(fn RateLimitKeyFunc) RateLimitOption {
	return func(rl *rateLimiter) {
		if fn != nil {
			rl.keyFn = fn
		}
	}
}

func WithName(name string) RateLimitOption {
	return func(rl *rateLimiter) {
		if name != "" {
			rl.name = name
		}
	}
}

func RateLimit(store Limiter, limit int, window time.Duration, opts ...RateLimitOption) func(http.Handler) http.Handler {
	rl := newRateLimiter(store, "api", limit, window, actorOrIPKey)
	for _, opt := range opts {
		opt(rl)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.enforce(w, r) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SensitiveMutationRateLimit applies tighter budgets to sign-in attempts and
// to bulk or account-creating mutations.
func SensitiveMutationRateLimit(store Limiter, baseLimit int, window time.Duration) func(http.Handler) http.Handler {
	authLimit := max(baseLimit/4, 1)
	mutationLimit := max(baseLimit/2, 1)
	authByIP := newRateLimiter(store, "auth_ip", authLimit, window, clientIPKey)
	authByIdentifier := newRateLimiter(store, "auth_id", authLimit, window, AuthIdentifierOrIPKey("identifier"))
	sensitiveByActor := newRateLimiter(store, "sensitive", mutationLimit, window, actorOrIPKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch sensitiveRateScope(r) {
			case sensitiveScopeAuth:
				if !authByIP.enforce(w, r) {
					return
				}
				if !authByIdentifier.enforce(w, r) {
					return
				}
			case sensitiveScopeActor:
				if !sensitiveByActor.enforce(w, r) {
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthIdentifierOrIPKey keys sign-in attempts by the submitted login
// identifier, falling back to the client address.
func AuthIdentifierOrIPKey(field string) RateLimitKeyFunc {
	normalizedField := strings.TrimSpace(field)
	if normalizedField == "" {
		normalizedField = "identifier"
	}
	return func(r *http.Request) string {
		identifier := extractJSONField(r, normalizedField)
		if identifier == "" {
			return clientIPKey(r)
		}
		return "id:" + strings.ToLower(identifier)
	}
}

func actorOrIPKey(r *http.Request) string {
	if caller, ok := GetCaller(r.Context()); ok && caller.Principal.ID != "" {
		return "user:" + caller.Principal.ID
	}
	return clientIPKey(r)
}

func clientIPKey(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if value := strings.TrimSpace(first); value != "" {
			return "ip:" + value
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return "ip:" + host
	}
	return "ip:" + strings.TrimSpace(r.RemoteAddr)
}

func newRateLimiter(store Limiter, name string, limit int, window time.Duration, keyFn RateLimitKeyFunc) *rateLimiter {
	if keyFn == nil {
		keyFn = actorOrIPKey
	}
	return &rateLimiter{store: store, name: name, limit: limit, window: window, keyFn: keyFn}
}

// enforce fails open when the counter store is unavailable.
func (rl *rateLimiter) enforce(w http.ResponseWriter, r *http.Request) bool {
	if rl.limit <= 0 || rl.store == nil {
		return true
	}

	key := rl.keyFn(r)
	if key == "" {
		key = clientIPKey(r)
	}
	allowed, count, err := rl.store.FixedWindowAllow(r.Context(), rl.name+":"+key, int64(rl.limit), rl.window)
	if err != nil {
		logger.From(r.Context()).Warn().Err(err).Str("limiter", rl.name).Msg("rate limit check failed")
		return true
	}

	remaining := int64(rl.limit) - count
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max(remaining, 0), 10))

	if !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(max(int(rl.window.Seconds()), 1)))
		logger.From(r.Context()).Warn().
			Str("limiter", rl.name).
			Str("key", key).
			Str("path", r.URL.Path).
			Str("method", r.Method).
			Int("limit", rl.limit).
			Msg("rate limit exceeded")
		api.Fail(w, http.StatusTooManyRequests, "rate_limited", "too many requests", GetRequestID(r.Context()))
		return false
	}
	return true
}

func extractJSONField(r *http.Request, field string) string {
	if r == nil || r.Body == nil {
		return ""
	}
	contentType := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
	if !strings.Contains(contentType, "application/json") {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		return ""
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if len(raw) == 0 {
		return ""
	}
	payload := map[string]any{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	value, _ := payload[field].(string)
	return strings.TrimSpace(value)
}

type sensitiveScope string

const (
	sensitiveScopeNone  sensitiveScope = ""
	sensitiveScopeAuth  sensitiveScope = "auth"
	sensitiveScopeActor sensitiveScope = "actor"
)

func sensitiveRateScope(r *http.Request) sensitiveScope {
	if r == nil {
		return sensitiveScopeNone
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return sensitiveScopeNone
	}

	path := normalizedAPIPath(r.URL.Path)
	switch path {
	case "/auth/login":
		return sensitiveScopeAuth
	case "/backup/import", "/operators":
		return sensitiveScopeActor
	}
	if strings.HasPrefix(path, "/operators/") && strings.HasSuffix(path, "/access") {
		return sensitiveScopeActor
	}
	return sensitiveScopeNone
}

func normalizedAPIPath(path string) string {
	cleaned := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(path), "/api/v1"), "/")
	if cleaned == "" {
		return "/"
	}
	if !strings.HasPrefix(cleaned, "/") {
		return "/" + cleaned
	}
	return cleaned
}
