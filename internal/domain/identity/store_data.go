package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"kpiboard/internal/domain/workforce"
)

const pgUniqueViolation = "23505"

// Store is the identity provider backed by the auth_users table.
type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func (s *Store) SignInWithPassword(ctx context.Context, address, password string) (Principal, error) {
	var (
		out  Principal
		hash string
		role *string
	)
	err := s.DB.QueryRow(ctx, `
    SELECT id::text, email, password_hash, role, metadata
    FROM auth_users
    WHERE lower(email) = lower($1)
  `, strings.TrimSpace(address)).Scan(&out.ID, &out.Email, &hash, &role, &out.Metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, workforce.ErrInvalidCredentials
	}
	if err != nil {
		return Principal{}, fmt.Errorf("loading account: %w", err)
	}
	if CheckPassword(hash, password) != nil {
		return Principal{}, workforce.ErrInvalidCredentials
	}
	if role != nil {
		out.Role = workforce.Role(*role)
	}
	if _, err := s.DB.Exec(ctx, "UPDATE auth_users SET last_sign_in_at = now() WHERE id = $1", out.ID); err != nil {
		return Principal{}, fmt.Errorf("updating last sign in: %w", err)
	}
	return out, nil
}

func (s *Store) SignUp(ctx context.Context, address, password string, role workforce.Role, metadata map[string]string) (Principal, error) {
	if len(password) < MinPasswordLength {
		return Principal{}, workforce.ErrWeakPassword
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Principal{}, err
	}
	if metadata == nil {
		metadata = map[string]string{}
	}

	out := Principal{Email: strings.TrimSpace(address), Role: role, Metadata: metadata}
	err = s.DB.QueryRow(ctx, `
    INSERT INTO auth_users (email, password_hash, role, metadata)
    VALUES ($1, $2, NULLIF($3, ''), $4)
    RETURNING id::text
  `, out.Email, hash, string(role), metadata).Scan(&out.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Principal{}, workforce.ErrAccountExists
		}
		return Principal{}, fmt.Errorf("creating account: %w", err)
	}
	return out, nil
}

func (s *Store) PrincipalByID(ctx context.Context, id string) (Principal, error) {
	var (
		out  Principal
		role *string
	)
	err := s.DB.QueryRow(ctx, `
    SELECT id::text, email, role, metadata
    FROM auth_users
    WHERE id::text = $1
  `, id).Scan(&out.ID, &out.Email, &role, &out.Metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, workforce.ErrUnauthenticated
	}
	if err != nil {
		return Principal{}, err
	}
	if role != nil {
		out.Role = workforce.Role(*role)
	}
	return out, nil
}

// UpsertSupervisor creates or refreshes a supervisor account. Used by seeding.
func (s *Store) UpsertSupervisor(ctx context.Context, address, password, name string) (string, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return "", err
	}
	var id string
	err = s.DB.QueryRow(ctx, `
    INSERT INTO auth_users (email, password_hash, role, metadata)
    VALUES ($1, $2, $3, jsonb_build_object('name', $4::text))
    ON CONFLICT (email) DO UPDATE SET role = EXCLUDED.role
    RETURNING id::text
  `, strings.TrimSpace(address), hash, string(workforce.RoleSupervisor), name).Scan(&id)
	return id, err
}
