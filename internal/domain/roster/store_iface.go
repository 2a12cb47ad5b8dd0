package roster

import (
	"context"

	"kpiboard/internal/domain/identity"
	"kpiboard/internal/domain/workforce"
)

// Backend is the operators/config store as seen by one principal.
type Backend interface {
	// ListOperators returns every permitted row ordered by name.
	ListOperators(ctx context.Context) ([]workforce.Operator, error)
	// GetOperator returns workforce.ErrOperatorNotFound when the row is absent
	// or not visible.
	GetOperator(ctx context.Context, registration string) (workforce.Operator, error)
	// UpsertOperators writes the collection keyed by registration and reports
	// affected rows.
	UpsertOperators(ctx context.Context, ops []workforce.Operator) (int64, error)
	UpsertOperator(ctx context.Context, op workforce.Operator) error
	// UpdateOwnOperator updates the row linked to principalID.
	UpdateOwnOperator(ctx context.Context, principalID string, op workforce.Operator) (int64, error)
	InsertOperator(ctx context.Context, op workforce.Operator) error
	DeleteOperator(ctx context.Context, registration string) error
	LinkPrincipal(ctx context.Context, registration, principalID string) error
	// LoadGoals returns nil when no goals row exists.
	LoadGoals(ctx context.Context) (*workforce.TeamGoals, error)
	SaveGoals(ctx context.Context, goals workforce.TeamGoals) error
}

// Caller is the signed-in session the service acts for.
type Caller interface {
	Principal() (identity.Principal, bool)
	Profile() (workforce.Operator, bool)
	IsAdmin() bool
	Visible() bool
}

// AccountProvisioner creates identity accounts without touching the caller's
// session.
type AccountProvisioner interface {
	CreateAccount(ctx context.Context, address, password string, role workforce.Role, metadata map[string]string) (string, error)
}

// Metrics receives sync events. A nil Metrics is ignored.
type Metrics interface {
	SyncEvent(source, outcome string)
}
