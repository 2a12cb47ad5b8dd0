package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyNamespace    = "kpiboard"
	revokedPrefix   = "revoked"
	draftPrefix     = "draft"
	rateLimitPrefix = "rate_limit"
)

var errNotInitialized = errors.New("redis client not initialized")

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	Exists(context.Context, ...string) *redis.IntCmd
	Incr(context.Context, string) *redis.IntCmd
	Expire(context.Context, string, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
}

// Client wraps the redis helpers the service needs: revoked sessions,
// reply drafts and rate-limit counters.
type Client struct {
	store cmdable
	raw   *redis.Client
}

// New parses url, connects and verifies connectivity.
func New(ctx context.Context, url string) (*Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{store: raw, raw: raw}, nil
}

// RevokeSession marks a session id as signed out for ttl.
func (c *Client) RevokeSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	if c.store == nil {
		return errNotInitialized
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return c.store.Set(ctx, c.RevokedKey(sessionID), "1", ttl).Err()
}

// SessionRevoked reports whether RevokeSession was called for the id and
// has not expired yet.
func (c *Client) SessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	n, err := c.store.Exists(ctx, c.RevokedKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveDraft stores an unsent reply.
func (c *Client) SaveDraft(ctx context.Context, principalID, feedbackID, text string, ttl time.Duration) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Set(ctx, c.DraftKey(principalID, feedbackID), text, ttl).Err()
}

// Draft returns the stored reply. A missing draft is "" without error.
func (c *Client) Draft(ctx context.Context, principalID, feedbackID string) (string, error) {
	if c.store == nil {
		return "", errNotInitialized
	}
	text, err := c.store.Get(ctx, c.DraftKey(principalID, feedbackID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return text, err
}

func (c *Client) ClearDraft(ctx context.Context, principalID, feedbackID string) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Del(ctx, c.DraftKey(principalID, feedbackID)).Err()
}

// FixedWindowAllow applies a fixed-window rate limit to scope.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if c.store == nil {
		return false, 0, errNotInitialized
	}
	key := c.RateLimitKey(scope)
	count, err := c.store.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if window > 0 && count == 1 {
		if err := c.store.Expire(ctx, key, window).Err(); err != nil {
			return false, count, err
		}
	}
	return count <= limit, count, nil
}

func (c *Client) RevokedKey(sessionID string) string {
	return c.buildKey(revokedPrefix, sessionID)
}

func (c *Client) DraftKey(principalID, feedbackID string) string {
	return c.buildKey(draftPrefix, principalID, feedbackID)
}

func (c *Client) RateLimitKey(scope string) string {
	return c.buildKey(rateLimitPrefix, scope)
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

func (c *Client) buildKey(parts ...string) string {
	clean := []string{keyNamespace}
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		clean = append(clean, part)
	}
	return strings.Join(clean, ":")
}
