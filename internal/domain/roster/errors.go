package roster

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"kpiboard/internal/domain/workforce"
)

const (
	pgRecursivePolicy = "42P17"
	pgUndefinedTable  = "42P01"
)

type Kind string

const (
	KindRecursivePolicy Kind = "recursive_policy"
	KindMissingTable    Kind = "missing_table"
	KindNetwork         Kind = "network"
	KindPersistence     Kind = "persistence"
)

// SyncError is the classified failure shown to the user until the backend is
// fixed out of band. Remediation is only set for policy recursion.
type SyncError struct {
	Kind        Kind   `json:"kind"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
	cause       error
}

func (e *SyncError) Error() string {
	if e.cause != nil {
		return e.Title + ": " + e.cause.Error()
	}
	return e.Title + ": " + e.Message
}

func (e *SyncError) Unwrap() []error {
	out := []error{kindSentinel(e.Kind)}
	if e.cause != nil {
		out = append(out, e.cause)
	}
	return out
}

func kindSentinel(kind Kind) error {
	switch kind {
	case KindRecursivePolicy:
		return workforce.ErrRecursivePolicy
	case KindMissingTable:
		return workforce.ErrMissingTable
	case KindPersistence:
		return workforce.ErrPersistence
	default:
		return workforce.ErrNetwork
	}
}

// Classify maps a backend read failure onto a SyncError.
func Classify(err error) *SyncError {
	if err == nil {
		return nil
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}

	var pgErr *pgconn.PgError
	isPg := errors.As(err, &pgErr)
	switch {
	case (isPg && pgErr.Code == pgRecursivePolicy) || errors.Is(err, workforce.ErrRecursivePolicy):
		return &SyncError{
			Kind:        KindRecursivePolicy,
			Title:       "Erro Crítico: Recursão Infinita (RLS)",
			Message:     "A política de segurança da tabela operators entrou em recursão. Aplique o script de correção no banco.",
			Remediation: RemediationScript,
			cause:       err,
		}
	case (isPg && pgErr.Code == pgUndefinedTable) || errors.Is(err, workforce.ErrMissingTable):
		return &SyncError{
			Kind:    KindMissingTable,
			Title:   "Tabela não encontrada",
			Message: "As tabelas operators/config não existem. Execute as migrações do servidor.",
			cause:   err,
		}
	default:
		return &SyncError{
			Kind:    KindNetwork,
			Title:   "Falha de conexão",
			Message: "Não foi possível ler os dados do servidor. Exibindo dados locais.",
			cause:   err,
		}
	}
}

func persistenceError(err error) *SyncError {
	return &SyncError{
		Kind:    KindPersistence,
		Title:   "Erro ao salvar",
		Message: "As alterações não foram gravadas e foram desfeitas.",
		cause:   err,
	}
}

// RemediationScript recreates the operators policies without self-reference.
const RemediationScript = `BEGIN;
DROP POLICY IF EXISTS operators_supervisor_all ON operators;
DROP POLICY IF EXISTS operators_self_select ON operators;
DROP POLICY IF EXISTS operators_self_update ON operators;

CREATE POLICY operators_supervisor_all ON operators
  USING (current_setting('app.principal_role', true) IN ('Supervisor', 'system'))
  WITH CHECK (current_setting('app.principal_role', true) IN ('Supervisor', 'system'));

CREATE POLICY operators_self_select ON operators FOR SELECT
  USING (user_id = current_setting('app.principal_id', true));

CREATE POLICY operators_self_update ON operators FOR UPDATE
  USING (user_id = current_setting('app.principal_id', true))
  WITH CHECK (user_id = current_setting('app.principal_id', true));
COMMIT;`
