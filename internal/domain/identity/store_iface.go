package identity

import (
	"context"
	"time"

	"kpiboard/internal/domain/workforce"
)

// Provider is the identity-provider contract the adapter depends on.
type Provider interface {
	// SignInWithPassword returns workforce.ErrInvalidCredentials on any mismatch.
	SignInWithPassword(ctx context.Context, address, password string) (Principal, error)
	// SignUp never establishes a session for the created account.
	SignUp(ctx context.Context, address, password string, role workforce.Role, metadata map[string]string) (Principal, error)
	PrincipalByID(ctx context.Context, id string) (Principal, error)
}

// Directory is the slice of the operators table used to bind principals.
type Directory interface {
	OperatorByPrincipal(ctx context.Context, principalID string) (workforce.Operator, error)
	OperatorByRegistration(ctx context.Context, registration string) (workforce.Operator, error)
	LinkPrincipal(ctx context.Context, registration, principalID string) error
}

// Revocations remembers signed-out session ids until their tokens expire.
type Revocations interface {
	RevokeSession(ctx context.Context, sessionID string, ttl time.Duration) error
	SessionRevoked(ctx context.Context, sessionID string) (bool, error)
}
