package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"kpiboard/internal/domain/workforce"
)

// MetadataRegistration is the principal metadata key written when an operator
// account is provisioned.
const MetadataRegistration = "registration"

// Principal is an authenticated identity-provider account.
type Principal struct {
	ID    string
	Email string
	// Role is the backend-enforced claim. Empty for accounts created before
	// claims existed.
	Role     workforce.Role
	Metadata map[string]string
}

// Profile is the operator record bound to a principal plus the effective role.
type Profile struct {
	Operator workforce.Operator
	Role     workforce.Role
	// Placeholder is set when the profile was synthesized for a supervisor
	// without an operator record.
	Placeholder bool
}

type Claims struct {
	PrincipalID string `json:"uid"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	// Registration is set when a legacy account signed in by registration.
	Registration string `json:"reg,omitempty"`
	jwt.RegisteredClaims
}

// SessionID is the token id shared by every request of one login.
func (c Claims) SessionID() string {
	return c.ID
}

// Expiry is the token expiry, zero when the token has none.
func (c Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
