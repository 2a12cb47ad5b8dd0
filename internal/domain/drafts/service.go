package drafts

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxLength bounds a stored reply draft.
const MaxLength = 4000

var (
	ErrEmptyKey = errors.New("draft needs a principal and a feedback id")
	ErrTooLong  = errors.New("draft exceeds maximum length")
)

// Store is the key-value cache behind drafts.
type Store interface {
	SaveDraft(ctx context.Context, principalID, feedbackID, text string, ttl time.Duration) error
	Draft(ctx context.Context, principalID, feedbackID string) (string, error)
	ClearDraft(ctx context.Context, principalID, feedbackID string) error
}

// Service keeps unsent feedback replies per principal so they survive page
// reloads and sign-outs until sent or expired.
type Service struct {
	store Store
	ttl   time.Duration
}

func NewService(store Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Service{store: store, ttl: ttl}
}

// Save stores text, or clears the draft when text is blank.
func (s *Service) Save(ctx context.Context, principalID, feedbackID, text string) error {
	if principalID == "" || feedbackID == "" {
		return ErrEmptyKey
	}
	if strings.TrimSpace(text) == "" {
		return s.store.ClearDraft(ctx, principalID, feedbackID)
	}
	if utf8.RuneCountInString(text) > MaxLength {
		return ErrTooLong
	}
	return s.store.SaveDraft(ctx, principalID, feedbackID, text, s.ttl)
}

func (s *Service) Get(ctx context.Context, principalID, feedbackID string) (string, error) {
	if principalID == "" || feedbackID == "" {
		return "", ErrEmptyKey
	}
	return s.store.Draft(ctx, principalID, feedbackID)
}

// Clear drops the draft once the reply was sent.
func (s *Service) Clear(ctx context.Context, principalID, feedbackID string) error {
	if principalID == "" || feedbackID == "" {
		return ErrEmptyKey
	}
	return s.store.ClearDraft(ctx, principalID, feedbackID)
}
