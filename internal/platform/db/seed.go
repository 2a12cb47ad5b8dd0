package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"kpiboard/internal/domain/identity"
	"kpiboard/internal/domain/roster"
	"kpiboard/internal/domain/workforce"
	"kpiboard/internal/platform/config"
)

func Seed(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if err := ensureSupervisor(ctx, identity.NewStore(pool), cfg.SeedAdminEmail, cfg.SeedAdminPassword); err != nil {
		return err
	}

	store := roster.NewStore(pool)
	if err := ensureGoals(ctx, store); err != nil {
		return err
	}

	if cfg.SeedRoster {
		if err := ensureRoster(ctx, store); err != nil {
			return err
		}
	}
	return nil
}

func ensureSupervisor(ctx context.Context, accounts *identity.Store, email, password string) error {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" {
		return nil
	}
	if _, err := accounts.UpsertSupervisor(ctx, email, password, "Administrador"); err != nil {
		return fmt.Errorf("seeding supervisor: %w", err)
	}
	return nil
}

func ensureGoals(ctx context.Context, store *roster.Store) error {
	goals, err := store.LoadGoals(ctx)
	if err != nil {
		return fmt.Errorf("reading goals: %w", err)
	}
	if goals != nil {
		return nil
	}
	return store.SaveGoals(ctx, workforce.DefaultGoals())
}

// ensureRoster loads the sample roster into an empty operators table.
func ensureRoster(ctx context.Context, store *roster.Store) error {
	existing, err := store.ListOperators(ctx)
	if err != nil {
		return fmt.Errorf("reading operators: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	_, err = store.UpsertOperators(ctx, workforce.FallbackRoster())
	return err
}
