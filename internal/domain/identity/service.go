package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"kpiboard/internal/domain/workforce"
)

type Adapter struct {
	provider    Provider
	directory   Directory
	revocations Revocations
	secret      string
	ttl         time.Duration
	timeout     time.Duration
	log         zerolog.Logger
}

type AdapterOptions struct {
	JWTSecret      string
	TokenTTL       time.Duration
	BackendTimeout time.Duration
	Logger         zerolog.Logger
}

func NewAdapter(provider Provider, directory Directory, revocations Revocations, opts AdapterOptions) *Adapter {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 12 * time.Hour
	}
	if opts.BackendTimeout <= 0 {
		opts.BackendTimeout = 10 * time.Second
	}
	return &Adapter{
		provider:    provider,
		directory:   directory,
		revocations: revocations,
		secret:      opts.JWTSecret,
		ttl:         opts.TokenTTL,
		timeout:     opts.BackendTimeout,
		log:         opts.Logger.With().Str("component", "identity").Logger(),
	}
}

// SignIn accepts an address or a bare registration. Registrations are tried
// against the current derived handle first and then the legacy handles.
func (a *Adapter) SignIn(ctx context.Context, identifier, password string) (Principal, string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return Principal{}, "", workforce.ErrInvalidCredentials
	}

	addresses := []string{identifier}
	if !strings.Contains(identifier, "@") {
		addresses = append([]string{DeriveSystemAddress(identifier)}, LegacyAddresses(identifier)...)
	}

	var lastErr error
	for i, address := range addresses {
		principal, err := a.signInOnce(ctx, address, password)
		if err == nil {
			if i > 0 {
				a.log.Info().Str("address", address).Msg("signed in with legacy address")
				principal = withRegistration(principal, identifier)
			}
			token, err := a.IssueToken(principal)
			if err != nil {
				return Principal{}, "", fmt.Errorf("issuing token: %w", err)
			}
			return principal, token, nil
		}
		if !errors.Is(err, workforce.ErrInvalidCredentials) {
			return Principal{}, "", err
		}
		lastErr = err
	}
	return Principal{}, "", lastErr
}

func (a *Adapter) signInOnce(ctx context.Context, address, password string) (Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.provider.SignInWithPassword(ctx, address, password)
}

func (a *Adapter) IssueToken(p Principal) (string, error) {
	return GenerateToken(a.secret, Claims{
		PrincipalID:  p.ID,
		Email:        p.Email,
		Role:         string(p.Role),
		Registration: p.Metadata[MetadataRegistration],
	}, a.ttl)
}

// withRegistration records the registration a legacy account signed in with.
// Legacy handles do not always decode back to it, so it travels in the token.
func withRegistration(p Principal, registration string) Principal {
	if registration == "" || p.Metadata[MetadataRegistration] != "" {
		return p
	}
	metadata := make(map[string]string, len(p.Metadata)+1)
	for k, v := range p.Metadata {
		metadata[k] = v
	}
	metadata[MetadataRegistration] = registration
	p.Metadata = metadata
	return p
}

// Authenticate validates an access token and returns its claims and the
// current principal. Revoked sessions are rejected.
func (a *Adapter) Authenticate(ctx context.Context, token string) (*Claims, Principal, error) {
	claims, err := ParseToken(a.secret, token)
	if err != nil {
		return nil, Principal{}, fmt.Errorf("%w: %v", workforce.ErrUnauthenticated, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if a.revocations != nil {
		revoked, err := a.revocations.SessionRevoked(ctx, claims.SessionID())
		if err != nil {
			return nil, Principal{}, fmt.Errorf("checking revocation: %w", err)
		}
		if revoked {
			return nil, Principal{}, workforce.ErrUnauthenticated
		}
	}

	principal, err := a.provider.PrincipalByID(ctx, claims.PrincipalID)
	if err != nil {
		return nil, Principal{}, fmt.Errorf("%w: %v", workforce.ErrUnauthenticated, err)
	}
	return claims, withRegistration(principal, claims.Registration), nil
}

// SignOut revokes the session id carried by the token.
func (a *Adapter) SignOut(ctx context.Context, sessionID string) error {
	if a.revocations == nil || sessionID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.revocations.RevokeSession(ctx, sessionID, a.ttl)
}

// ResolveProfile binds a principal to its operator record. A record found by
// registration but missing the principal link is linked once. Supervisors
// without a record get a placeholder; anyone else without a record is
// unresolved.
func (a *Adapter) ResolveProfile(ctx context.Context, p Principal) (Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	op, err := a.directory.OperatorByPrincipal(ctx, p.ID)
	switch {
	case err == nil:
		return Profile{Operator: op, Role: effectiveRole(p, op)}, nil
	case !errors.Is(err, workforce.ErrOperatorNotFound):
		return Profile{}, fmt.Errorf("looking up operator by principal: %w", err)
	}

	for _, registration := range registrationCandidates(p) {
		op, err := a.directory.OperatorByRegistration(ctx, registration)
		if errors.Is(err, workforce.ErrOperatorNotFound) {
			continue
		}
		if err != nil {
			return Profile{}, fmt.Errorf("looking up operator %s: %w", registration, err)
		}
		if op.UserID != "" && op.UserID != p.ID {
			a.log.Warn().
				Str("registration", op.Registration).
				Str("principal_id", p.ID).
				Msg("operator already linked to another principal")
			continue
		}
		if op.UserID == "" {
			if err := a.directory.LinkPrincipal(ctx, op.Registration, p.ID); err != nil {
				return Profile{}, fmt.Errorf("linking principal to %s: %w", op.Registration, err)
			}
			a.log.Info().
				Str("registration", op.Registration).
				Str("principal_id", p.ID).
				Msg("linked principal to operator by registration")
			op.UserID = p.ID
		}
		return Profile{Operator: op, Role: effectiveRole(p, op)}, nil
	}

	if p.Role.IsSupervisor() {
		return Profile{Operator: placeholderProfile(p), Role: workforce.RoleSupervisor, Placeholder: true}, nil
	}
	return Profile{}, workforce.ErrProfileUnresolved
}

// CreateAccount provisions an account for someone else. No session is
// created or altered.
func (a *Adapter) CreateAccount(ctx context.Context, address, password string, role workforce.Role, metadata map[string]string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("address is required")
	}
	if len(password) < MinPasswordLength {
		return "", workforce.ErrWeakPassword
	}
	if role == "" {
		role = workforce.RoleOperator
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	principal, err := a.provider.SignUp(ctx, address, password, role, metadata)
	if err != nil {
		return "", err
	}
	return principal.ID, nil
}

func effectiveRole(p Principal, op workforce.Operator) workforce.Role {
	if p.Role != "" {
		return p.Role
	}
	if workforce.Role(op.Role).IsSupervisor() {
		return workforce.RoleSupervisor
	}
	return workforce.RoleOperator
}

func placeholderProfile(p Principal) workforce.Operator {
	name := strings.TrimSpace(p.Metadata["name"])
	if name == "" {
		name = "Administrador"
	}
	return workforce.Normalize(workforce.Operator{
		UserID:        p.ID,
		Registration:  "SUPERVISOR",
		Name:          name,
		Role:          string(workforce.RoleSupervisor),
		LinkType:      workforce.LinkTypeEfetivo,
		WorkMode:      workforce.WorkModePresential,
		CostCenter:    "ADM",
		AdmissionDate: time.Now().Format("02/01/2006"),
		Active:        true,
	})
}
