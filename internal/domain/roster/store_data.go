package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kpiboard/internal/domain/workforce"
)

// RoleSystem is the scope used by server-side lookups that run before a
// principal is bound, such as profile resolution and seeding.
const RoleSystem = "system"

// Store is the pgx backend. Every statement runs in a transaction carrying
// the principal id and role that the row-level policies read.
type Store struct {
	DB          *pgxpool.Pool
	principalID string
	role        string
}

// NewStore returns a system-scoped store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db, role: RoleSystem}
}

// As returns a store scoped to one principal.
func (s *Store) As(principalID string, role workforce.Role) *Store {
	r := string(role)
	if r == "" {
		r = string(workforce.RoleOperator)
	}
	return &Store{DB: s.DB, principalID: principalID, role: r}
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
    SELECT set_config('app.principal_id', $1, true), set_config('app.principal_role', $2, true)
  `, s.principalID, s.role); err != nil {
			return fmt.Errorf("setting row scope: %w", err)
		}
		return fn(tx)
	})
}

const operatorColumns = `registration, user_id, name, admission_date, role, link_type, cost_center,
    work_mode, birth_date, photo_url, active, kpis, feedbacks, documents`

func scanOperator(row pgx.Row) (workforce.Operator, error) {
	var (
		r                         workforce.OperatorRow
		kpis, feedbacks, documents []byte
	)
	if err := row.Scan(&r.Registration, &r.UserID, &r.Name, &r.AdmissionDate, &r.Role, &r.LinkType, &r.CostCenter,
		&r.WorkMode, &r.BirthDate, &r.PhotoURL, &r.Active, &kpis, &feedbacks, &documents); err != nil {
		return workforce.Operator{}, err
	}
	if err := unmarshalColumn(kpis, &r.KPIs); err != nil {
		return workforce.Operator{}, fmt.Errorf("decoding kpis of %s: %w", r.Registration, err)
	}
	if err := unmarshalColumn(feedbacks, &r.Feedbacks); err != nil {
		return workforce.Operator{}, fmt.Errorf("decoding feedbacks of %s: %w", r.Registration, err)
	}
	if err := unmarshalColumn(documents, &r.Documents); err != nil {
		return workforce.Operator{}, fmt.Errorf("decoding documents of %s: %w", r.Registration, err)
	}
	return workforce.NormalizeOperator(r), nil
}

func unmarshalColumn(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// operatorArgs returns the column values in operatorColumns order.
func operatorArgs(op workforce.Operator) ([]any, error) {
	op = workforce.Normalize(op)
	kpis, err := json.Marshal(op.KPIs)
	if err != nil {
		return nil, err
	}
	feedbacks, err := json.Marshal(op.Feedbacks)
	if err != nil {
		return nil, err
	}
	documents, err := json.Marshal(op.Documents)
	if err != nil {
		return nil, err
	}
	return []any{
		op.Registration, nullable(op.UserID), op.Name, op.AdmissionDate, op.Role, string(op.LinkType), op.CostCenter,
		string(op.WorkMode), op.BirthDate, nullable(op.PhotoURL), op.Active, string(kpis), string(feedbacks), string(documents),
	}, nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

const upsertOperatorSQL = `
    INSERT INTO operators (` + operatorColumns + `)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13::jsonb, $14::jsonb)
    ON CONFLICT (registration) DO UPDATE SET
      user_id = EXCLUDED.user_id,
      name = EXCLUDED.name,
      admission_date = EXCLUDED.admission_date,
      role = EXCLUDED.role,
      link_type = EXCLUDED.link_type,
      cost_center = EXCLUDED.cost_center,
      work_mode = EXCLUDED.work_mode,
      birth_date = EXCLUDED.birth_date,
      photo_url = EXCLUDED.photo_url,
      active = EXCLUDED.active,
      kpis = EXCLUDED.kpis,
      feedbacks = EXCLUDED.feedbacks,
      documents = EXCLUDED.documents,
      updated_at = now()
  `

func (s *Store) ListOperators(ctx context.Context) ([]workforce.Operator, error) {
	var out []workforce.Operator
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, "SELECT "+operatorColumns+" FROM operators ORDER BY name")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			op, err := scanOperator(rows)
			if err != nil {
				return err
			}
			out = append(out, op)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	workforce.SortByName(out)
	return out, nil
}

func (s *Store) GetOperator(ctx context.Context, registration string) (workforce.Operator, error) {
	return s.operatorWhere(ctx, "registration = $1", registration)
}

func (s *Store) operatorWhere(ctx context.Context, where string, arg string) (workforce.Operator, error) {
	var out workforce.Operator
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		op, err := scanOperator(tx.QueryRow(ctx, "SELECT "+operatorColumns+" FROM operators WHERE "+where, arg))
		if err != nil {
			return err
		}
		out = op
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return workforce.Operator{}, workforce.ErrOperatorNotFound
	}
	return out, err
}

func (s *Store) UpsertOperators(ctx context.Context, ops []workforce.Operator) (int64, error) {
	var affected int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, op := range ops {
			args, err := operatorArgs(op)
			if err != nil {
				return err
			}
			batch.Queue(upsertOperatorSQL, args...)
		}
		results := tx.SendBatch(ctx, batch)
		for range ops {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return err
			}
			affected += tag.RowsAffected()
		}
		return results.Close()
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func (s *Store) UpsertOperator(ctx context.Context, op workforce.Operator) error {
	n, err := s.UpsertOperators(ctx, []workforce.Operator{op})
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("upsert of %s affected %d rows", op.Registration, n)
	}
	return nil
}

func (s *Store) UpdateOwnOperator(ctx context.Context, principalID string, op workforce.Operator) (int64, error) {
	args, err := operatorArgs(op)
	if err != nil {
		return 0, err
	}
	var affected int64
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
    UPDATE operators SET
      name = $3, admission_date = $4, role = $5, link_type = $6, cost_center = $7,
      work_mode = $8, birth_date = $9, photo_url = $10, active = $11,
      kpis = $12::jsonb, feedbacks = $13::jsonb, documents = $14::jsonb, updated_at = now()
    WHERE registration = $1 AND user_id = $2
  `, append(args[:1:1], append([]any{principalID}, args[2:]...)...)...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

func (s *Store) InsertOperator(ctx context.Context, op workforce.Operator) error {
	args, err := operatorArgs(op)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
    INSERT INTO operators (`+operatorColumns+`)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13::jsonb, $14::jsonb)
  `, args...)
		return err
	})
}

func (s *Store) DeleteOperator(ctx context.Context, registration string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "DELETE FROM operators WHERE registration = $1", registration)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return workforce.ErrOperatorNotFound
		}
		return nil
	})
}

// LinkPrincipal binds a principal to an unlinked operator row.
func (s *Store) LinkPrincipal(ctx context.Context, registration, principalID string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
    UPDATE operators SET user_id = $2, updated_at = now()
    WHERE registration = $1 AND (user_id IS NULL OR user_id = $2)
  `, registration, principalID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return workforce.ErrOperatorNotFound
		}
		return nil
	})
}

func (s *Store) OperatorByPrincipal(ctx context.Context, principalID string) (workforce.Operator, error) {
	return s.operatorWhere(ctx, "user_id = $1", principalID)
}

func (s *Store) OperatorByRegistration(ctx context.Context, registration string) (workforce.Operator, error) {
	return s.GetOperator(ctx, registration)
}

func (s *Store) LoadGoals(ctx context.Context) (*workforce.TeamGoals, error) {
	var raw []byte
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, "SELECT value FROM config WHERE key = $1", workforce.GoalsConfigKey).Scan(&raw)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var goals workforce.TeamGoals
	if err := json.Unmarshal(raw, &goals); err != nil {
		return nil, fmt.Errorf("decoding goals: %w", err)
	}
	return &goals, nil
}

func (s *Store) SaveGoals(ctx context.Context, goals workforce.TeamGoals) error {
	raw, err := json.Marshal(goals)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
    INSERT INTO config (key, value) VALUES ($1, $2::jsonb)
    ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
  `, workforce.GoalsConfigKey, string(raw))
		return err
	})
}
