package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"kpiboard/internal/domain/workforce"
)

// Export serializes the current collection as a backup document.
func (s *Service) Export() ([]byte, error) {
	return json.MarshalIndent(s.Snapshot(), "", "  ")
}

// ParseBackup decodes and validates a backup document.
func ParseBackup(data []byte) ([]workforce.Operator, error) {
	var rows []workforce.OperatorRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", workforce.ErrInvalidBackup, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no operators", workforce.ErrInvalidBackup)
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([]workforce.Operator, 0, len(rows))
	for i, row := range rows {
		op := workforce.NormalizeOperator(row)
		if op.Registration == "" {
			return nil, fmt.Errorf("%w: entry %d has no registration", workforce.ErrInvalidBackup, i)
		}
		if strings.TrimSpace(op.Name) == "" {
			return nil, fmt.Errorf("%w: operator %s has no name", workforce.ErrInvalidBackup, op.Registration)
		}
		if _, dup := seen[op.Registration]; dup {
			return nil, fmt.Errorf("%w: registration %s repeated", workforce.ErrInvalidBackup, op.Registration)
		}
		seen[op.Registration] = struct{}{}
		out = append(out, op)
	}
	workforce.SortByName(out)
	return out, nil
}

// Import replaces the collection with a backup document. Records missing
// from the document are not deleted from the backend.
func (s *Service) Import(ctx context.Context, data []byte) (int, error) {
	if !s.caller.IsAdmin() {
		return 0, workforce.ErrForbidden
	}
	ops, err := ParseBackup(data)
	if err != nil {
		return 0, err
	}
	if err := s.MutateAll(ctx, Replace(ops)); err != nil {
		return 0, err
	}
	return len(ops), nil
}
