package roster

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"kpiboard/internal/domain/identity"
	"kpiboard/internal/domain/workforce"
)

const displayDateLayout = "02/01/2006"

var now = time.Now

// NewOperator is the input for creating a roster entry. A non-empty Password
// also provisions a login for the operator.
type NewOperator struct {
	Registration  string
	Name          string
	AdmissionDate string
	Role          string
	LinkType      workforce.LinkType
	CostCenter    string
	WorkMode      workforce.WorkMode
	BirthDate     string
	Active        bool
	Password      string
}

// OperatorPatch carries editable registration data. Nil fields are kept.
type OperatorPatch struct {
	Name          *string
	AdmissionDate *string
	Role          *string
	LinkType      *workforce.LinkType
	CostCenter    *string
	WorkMode      *workforce.WorkMode
	BirthDate     *string
	Active        *bool
}

type KPIInput struct {
	// ID selects the entry to edit. Empty adds a new entry.
	ID        string
	Month     string
	TMA       *string
	NPS       *float64
	Monitoria *float64
}

type Author struct {
	ID   string
	Name string
}

// CreateOperator adds an operator, optionally provisioning its login first.
// The returned principal id is empty when no login was requested.
func (s *Service) CreateOperator(ctx context.Context, in NewOperator, accounts AccountProvisioner) (string, error) {
	if !s.caller.IsAdmin() {
		return "", workforce.ErrForbidden
	}
	in.Registration = strings.TrimSpace(in.Registration)
	if _, err := s.Operator(in.Registration); err == nil {
		return "", workforce.ErrDuplicateRegistration
	}

	op := workforce.Normalize(workforce.Operator{
		Registration:  in.Registration,
		Name:          strings.TrimSpace(in.Name),
		AdmissionDate: in.AdmissionDate,
		Role:          in.Role,
		LinkType:      in.LinkType,
		CostCenter:    in.CostCenter,
		WorkMode:      in.WorkMode,
		BirthDate:     in.BirthDate,
		Active:        in.Active,
	})
	if op.Role == "" {
		op.Role = string(workforce.RoleOperator)
	}

	if in.Password != "" && accounts != nil {
		principalID, err := accounts.CreateAccount(ctx, identity.DeriveSystemAddress(op.Registration), in.Password, workforce.RoleOperator, map[string]string{
			identity.MetadataRegistration: op.Registration,
			"role":                        string(workforce.RoleOperator),
			"name":                        op.Name,
		})
		if err != nil {
			return "", err
		}
		op.UserID = principalID
	}

	s.mu.Lock()
	if workforce.Find(s.operators, op.Registration) >= 0 {
		s.mu.Unlock()
		return "", workforce.ErrDuplicateRegistration
	}
	s.operators = workforce.InsertSorted(s.operators, op)
	s.mu.Unlock()

	bctx, cancel := s.backendCtx(ctx)
	defer cancel()
	if err := s.backend.InsertOperator(bctx, op); err != nil {
		s.mu.Lock()
		s.operators = removeRegistration(s.operators, op.Registration)
		s.mu.Unlock()
		s.log.Warn().Err(err).Str("registration", op.Registration).Msg("inserting operator failed, removed locally")
		return op.UserID, persistenceError(err)
	}
	s.record(SourceMutation, "ok")
	return op.UserID, nil
}

// GrantAccess provisions a login for an existing operator and links it.
func (s *Service) GrantAccess(ctx context.Context, registration, password string, accounts AccountProvisioner) (string, error) {
	if !s.caller.IsAdmin() {
		return "", workforce.ErrForbidden
	}
	op, err := s.Operator(registration)
	if err != nil {
		return "", err
	}
	principalID, err := accounts.CreateAccount(ctx, identity.DeriveSystemAddress(op.Registration), password, workforce.RoleOperator, map[string]string{
		identity.MetadataRegistration: op.Registration,
		"role":                        string(workforce.RoleOperator),
		"name":                        op.Name,
	})
	if err != nil {
		return "", err
	}

	bctx, cancel := s.backendCtx(ctx)
	defer cancel()
	if err := s.backend.LinkPrincipal(bctx, op.Registration, principalID); err != nil {
		return principalID, persistenceError(err)
	}

	s.mu.Lock()
	if idx := workforce.Find(s.operators, op.Registration); idx >= 0 {
		next := append([]workforce.Operator(nil), s.operators...)
		next[idx].UserID = principalID
		s.operators = next
	}
	s.mu.Unlock()
	return principalID, nil
}

// DeleteOperator removes an operator locally and in the backend, restoring
// the local collection if the delete fails.
func (s *Service) DeleteOperator(ctx context.Context, registration string) error {
	if !s.caller.IsAdmin() {
		return workforce.ErrForbidden
	}

	s.mu.Lock()
	if workforce.Find(s.operators, registration) < 0 {
		s.mu.Unlock()
		return workforce.ErrOperatorNotFound
	}
	snapshot := s.operators
	s.operators = removeRegistration(s.operators, registration)
	s.mu.Unlock()

	bctx, cancel := s.backendCtx(ctx)
	defer cancel()
	if err := s.backend.DeleteOperator(bctx, registration); err != nil {
		s.mu.Lock()
		s.operators = snapshot
		s.mu.Unlock()
		s.record(SourceMutation, "rolled_back")
		s.log.Warn().Err(err).Str("registration", registration).Msg("deleting operator failed, reverted")
		return persistenceError(err)
	}
	s.record(SourceMutation, "ok")
	return nil
}

// UpdateOperator edits registration data through the single-record path.
func (s *Service) UpdateOperator(ctx context.Context, registration string, patch OperatorPatch) (workforce.Operator, error) {
	if !s.caller.IsAdmin() {
		return workforce.Operator{}, workforce.ErrForbidden
	}
	op, err := s.Operator(registration)
	if err != nil {
		return workforce.Operator{}, err
	}
	applyPatch(&op, patch)
	if err := s.MutateOne(ctx, op); err != nil {
		return workforce.Operator{}, err
	}
	return op, nil
}

func applyPatch(op *workforce.Operator, p OperatorPatch) {
	if p.Name != nil {
		op.Name = strings.TrimSpace(*p.Name)
	}
	if p.AdmissionDate != nil {
		op.AdmissionDate = *p.AdmissionDate
	}
	if p.Role != nil {
		op.Role = *p.Role
	}
	if p.LinkType != nil {
		op.LinkType = *p.LinkType
	}
	if p.CostCenter != nil {
		op.CostCenter = *p.CostCenter
	}
	if p.WorkMode != nil {
		op.WorkMode = *p.WorkMode
	}
	if p.BirthDate != nil {
		op.BirthDate = *p.BirthDate
	}
	if p.Active != nil {
		op.Active = *p.Active
	}
}

// ToggleActive flips the active flag through the single-record path.
func (s *Service) ToggleActive(ctx context.Context, registration string) (bool, error) {
	if !s.caller.IsAdmin() {
		return false, workforce.ErrForbidden
	}
	op, err := s.Operator(registration)
	if err != nil {
		return false, err
	}
	op.Active = !op.Active
	if err := s.MutateOne(ctx, op); err != nil {
		return false, err
	}
	return op.Active, nil
}

// SetPhoto stores an inline image. Operators may only change their own.
func (s *Service) SetPhoto(ctx context.Context, registration, dataURL string) error {
	principal, ok := s.caller.Principal()
	if !ok {
		return workforce.ErrUnauthenticated
	}
	admin := s.caller.IsAdmin()
	return s.updateRecord(ctx, registration, func(op *workforce.Operator) error {
		if !admin && op.UserID != principal.ID {
			return workforce.ErrForbidden
		}
		op.PhotoURL = dataURL
		return nil
	})
}

// SaveKPI edits the entry with in.ID or appends a new one, keeping entries
// newest month first.
func (s *Service) SaveKPI(ctx context.Context, registration string, in KPIInput) (workforce.KPI, error) {
	if !s.caller.IsAdmin() {
		return workforce.KPI{}, workforce.ErrForbidden
	}
	var saved workforce.KPI
	err := s.updateRecord(ctx, registration, func(op *workforce.Operator) error {
		if in.ID != "" {
			for i := range op.KPIs {
				if op.KPIs[i].ID == in.ID {
					op.KPIs[i].Month = in.Month
					op.KPIs[i].TMA = in.TMA
					op.KPIs[i].NPS = in.NPS
					op.KPIs[i].Monitoria = in.Monitoria
					saved = op.KPIs[i]
					return nil
				}
			}
			return workforce.ErrKPINotFound
		}
		saved = workforce.KPI{ID: uuid.NewString(), Month: in.Month, TMA: in.TMA, NPS: in.NPS, Monitoria: in.Monitoria}
		op.KPIs = append(op.KPIs, saved)
		sort.SliceStable(op.KPIs, func(i, j int) bool {
			return op.KPIs[i].Month > op.KPIs[j].Month
		})
		return nil
	})
	return saved, err
}

func (s *Service) DeleteKPI(ctx context.Context, registration, kpiID string) error {
	if !s.caller.IsAdmin() {
		return workforce.ErrForbidden
	}
	return s.updateRecord(ctx, registration, func(op *workforce.Operator) error {
		for i := range op.KPIs {
			if op.KPIs[i].ID == kpiID {
				op.KPIs = append(op.KPIs[:i], op.KPIs[i+1:]...)
				return nil
			}
		}
		return workforce.ErrKPINotFound
	})
}

// AddFeedback prepends a supervisor note.
func (s *Service) AddFeedback(ctx context.Context, registration, comment string, author Author) (workforce.Feedback, error) {
	if !s.caller.IsAdmin() {
		return workforce.Feedback{}, workforce.ErrForbidden
	}
	fb := workforce.Feedback{
		ID:             uuid.NewString(),
		Date:           now().Format(displayDateLayout),
		SupervisorID:   author.ID,
		SupervisorName: author.Name,
		Comment:        strings.TrimSpace(comment),
	}
	err := s.updateRecord(ctx, registration, func(op *workforce.Operator) error {
		op.Feedbacks = append([]workforce.Feedback{fb}, op.Feedbacks...)
		return nil
	})
	return fb, err
}

func (s *Service) EditFeedback(ctx context.Context, registration, feedbackID, comment string) error {
	if !s.caller.IsAdmin() {
		return workforce.ErrForbidden
	}
	return s.updateFeedback(ctx, registration, feedbackID, func(fb *workforce.Feedback) error {
		fb.Comment = strings.TrimSpace(comment)
		return nil
	})
}

func (s *Service) DeleteFeedback(ctx context.Context, registration, feedbackID string) error {
	if !s.caller.IsAdmin() {
		return workforce.ErrForbidden
	}
	return s.updateRecord(ctx, registration, func(op *workforce.Operator) error {
		for i := range op.Feedbacks {
			if op.Feedbacks[i].ID == feedbackID {
				op.Feedbacks = append(op.Feedbacks[:i], op.Feedbacks[i+1:]...)
				return nil
			}
		}
		return workforce.ErrFeedbackNotFound
	})
}

// RespondFeedback records the operator's answer. Only the operator owning
// the record may answer, and only once.
func (s *Service) RespondFeedback(ctx context.Context, registration, feedbackID, response string) error {
	principal, ok := s.caller.Principal()
	if !ok {
		return workforce.ErrUnauthenticated
	}
	response = strings.TrimSpace(response)
	if response == "" {
		return fmt.Errorf("response is empty")
	}
	return s.mutateAll(ctx, func(ops []workforce.Operator) ([]workforce.Operator, error) {
		idx := workforce.Find(ops, registration)
		if idx < 0 {
			return nil, workforce.ErrOperatorNotFound
		}
		if ops[idx].UserID != principal.ID {
			return nil, workforce.ErrForbidden
		}
		for i := range ops[idx].Feedbacks {
			fb := &ops[idx].Feedbacks[i]
			if fb.ID != feedbackID {
				continue
			}
			if fb.Responded() {
				return nil, workforce.ErrResponseAlreadySent
			}
			unread := false
			fb.OperatorResponse = response
			fb.IsRead = &unread
			return ops, nil
		}
		return nil, workforce.ErrFeedbackNotFound
	})
}

// MarkFeedbackRead acknowledges an operator response.
func (s *Service) MarkFeedbackRead(ctx context.Context, registration, feedbackID string) error {
	if !s.caller.IsAdmin() {
		return workforce.ErrForbidden
	}
	return s.updateFeedback(ctx, registration, feedbackID, func(fb *workforce.Feedback) error {
		read := true
		fb.IsRead = &read
		return nil
	})
}

// AddDocument attaches an inline file. The type is the uppercased extension.
func (s *Service) AddDocument(ctx context.Context, registration, name, dataURL string) (workforce.Document, error) {
	if !s.caller.IsAdmin() {
		return workforce.Document{}, workforce.ErrForbidden
	}
	doc := workforce.Document{
		ID:   uuid.NewString(),
		Name: name,
		Type: DocumentType(name),
		URL:  dataURL,
		Date: now().Format(displayDateLayout),
	}
	err := s.updateRecord(ctx, registration, func(op *workforce.Operator) error {
		op.Documents = append(op.Documents, doc)
		return nil
	})
	return doc, err
}

func (s *Service) DeleteDocument(ctx context.Context, registration, documentID string) error {
	if !s.caller.IsAdmin() {
		return workforce.ErrForbidden
	}
	return s.updateRecord(ctx, registration, func(op *workforce.Operator) error {
		for i := range op.Documents {
			if op.Documents[i].ID == documentID {
				op.Documents = append(op.Documents[:i], op.Documents[i+1:]...)
				return nil
			}
		}
		return workforce.ErrDocumentNotFound
	})
}

// DocumentType derives the display type from a file name, "PDF" when the
// name has no extension.
func DocumentType(name string) string {
	ext := strings.TrimPrefix(filepath.Ext(strings.TrimSpace(name)), ".")
	if ext == "" {
		return "PDF"
	}
	return strings.ToUpper(ext)
}

func (s *Service) updateRecord(ctx context.Context, registration string, fn func(*workforce.Operator) error) error {
	return s.mutateAll(ctx, func(ops []workforce.Operator) ([]workforce.Operator, error) {
		idx := workforce.Find(ops, registration)
		if idx < 0 {
			return nil, workforce.ErrOperatorNotFound
		}
		if err := fn(&ops[idx]); err != nil {
			return nil, err
		}
		return ops, nil
	})
}

func (s *Service) updateFeedback(ctx context.Context, registration, feedbackID string, fn func(*workforce.Feedback) error) error {
	return s.updateRecord(ctx, registration, func(op *workforce.Operator) error {
		for i := range op.Feedbacks {
			if op.Feedbacks[i].ID == feedbackID {
				return fn(&op.Feedbacks[i])
			}
		}
		return workforce.ErrFeedbackNotFound
	})
}

// IsNotFound reports errors that map to a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, workforce.ErrOperatorNotFound) ||
		errors.Is(err, workforce.ErrKPINotFound) ||
		errors.Is(err, workforce.ErrFeedbackNotFound) ||
		errors.Is(err, workforce.ErrDocumentNotFound)
}
