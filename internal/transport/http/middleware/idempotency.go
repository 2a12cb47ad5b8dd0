package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kpiboard/internal/platform/logger"
	"kpiboard/internal/transport/http/api"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replay"
	maxIdempotencyKey = 200
)

var ErrIdempotencyConflict = errors.New("idempotency key conflicts with existing request")

// StoredResponse is a completed response kept for replay.
type StoredResponse struct {
	Status int
	Body   []byte
}

type IdempotencyKeys interface {
	Check(ctx context.Context, principalID, endpoint, key, requestHash string) (*StoredResponse, error)
	Save(ctx context.Context, principalID, endpoint, key, requestHash string, resp StoredResponse) error
}

type IdempotencyStore struct {
	db *pgxpool.Pool
}

func NewIdempotencyStore(db *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

func RequestHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Check returns the stored response for key, nil when the key is new.
func (s *IdempotencyStore) Check(ctx context.Context, principalID, endpoint, key, requestHash string) (*StoredResponse, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var storedHash string
	var stored StoredResponse
	err := s.db.QueryRow(ctx, `
    SELECT request_hash, status, response_body
    FROM idempotency_keys
    WHERE principal_id = $1 AND key = $2 AND endpoint = $3
  `, principalID, key, endpoint).Scan(&storedHash, &stored.Status, &stored.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if storedHash != requestHash {
		return nil, ErrIdempotencyConflict
	}
	return &stored, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, principalID, endpoint, key, requestHash string, resp StoredResponse) error {
	if s == nil || s.db == nil {
		return nil
	}
	tag, err := s.db.Exec(ctx, `
    INSERT INTO idempotency_keys (principal_id, key, endpoint, request_hash, status, response_body)
    VALUES ($1, $2, $3, $4, $5, $6)
    ON CONFLICT (principal_id, key, endpoint)
    DO UPDATE SET status = EXCLUDED.status, response_body = EXCLUDED.response_body
    WHERE idempotency_keys.request_hash = EXCLUDED.request_hash
  `, principalID, key, endpoint, requestHash, resp.Status, resp.Body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// bufferedWriter keeps a copy of the body written through it.
type bufferedWriter struct {
	*statusRecorder
	body bytes.Buffer
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.body.Write(p)
	return b.statusRecorder.Write(p)
}

// Idempotency replays the stored response of a POST that carries an
// Idempotency-Key already used by the same principal with the same body. A
// reused key with a different body is rejected with 409. Only successful
// responses are stored. It must run after Auth.
func Idempotency(keys IdempotencyKeys) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if keys == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			caller, ok := GetCaller(r.Context())
			if r.Method != http.MethodPost || key == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}
			requestID := GetRequestID(r.Context())
			if len(key) > maxIdempotencyKey {
				api.Fail(w, http.StatusBadRequest, "invalid_idempotency_key", "idempotency key too long", requestID)
				return
			}
			payload, err := io.ReadAll(r.Body)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					api.Fail(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large", requestID)
					return
				}
				api.Fail(w, http.StatusBadRequest, "invalid_payload", "could not read request body", requestID)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(payload))

			log := logger.From(r.Context())
			endpoint := r.Method + " " + r.URL.Path
			hash := RequestHash(payload)
			stored, err := keys.Check(r.Context(), caller.Principal.ID, endpoint, key, hash)
			switch {
			case errors.Is(err, ErrIdempotencyConflict):
				api.Fail(w, http.StatusConflict, "idempotency_conflict", "idempotency key reused with a different request", requestID)
				return
			case err != nil:
				log.Warn().Err(err).Msg("idempotency check failed")
			case stored != nil:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(replayHeader, "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Body)
				return
			}

			buffered := &bufferedWriter{statusRecorder: record(w)}
			next.ServeHTTP(buffered, r)
			if buffered.status < 200 || buffered.status >= 300 {
				return
			}
			resp := StoredResponse{Status: buffered.status, Body: buffered.body.Bytes()}
			if err := keys.Save(context.WithoutCancel(r.Context()), caller.Principal.ID, endpoint, key, hash, resp); err != nil {
				log.Warn().Err(err).Msg("idempotency save failed")
			}
		})
	}
}
