package shared

import (
	"errors"
	"net/http"

	"kpiboard/internal/domain/drafts"
	"kpiboard/internal/domain/roster"
	"kpiboard/internal/domain/workforce"
	"kpiboard/internal/platform/requestctx"
	"kpiboard/internal/transport/http/api"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{workforce.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid credentials"},
	{workforce.ErrUnauthenticated, http.StatusUnauthorized, "unauthorized", "authentication required"},
	{workforce.ErrProfileUnresolved, http.StatusForbidden, "profile_unresolved", "account is not linked to an operator"},
	{workforce.ErrForbidden, http.StatusForbidden, "forbidden", "insufficient permissions"},
	{workforce.ErrAccountExists, http.StatusConflict, "account_exists", "account already registered"},
	{workforce.ErrDuplicateRegistration, http.StatusConflict, "duplicate_registration", "registration already exists"},
	{workforce.ErrResponseAlreadySent, http.StatusConflict, "already_answered", "feedback already answered"},
	{workforce.ErrWeakPassword, http.StatusBadRequest, "weak_password", "password must have at least 6 characters"},
	{workforce.ErrInvalidBackup, http.StatusBadRequest, "invalid_backup", "invalid backup document"},
	{drafts.ErrTooLong, http.StatusBadRequest, "draft_too_long", "draft exceeds maximum length"},
	{workforce.ErrOperatorNotFound, http.StatusNotFound, "operator_not_found", "operator not found"},
	{workforce.ErrFeedbackNotFound, http.StatusNotFound, "feedback_not_found", "feedback not found"},
	{workforce.ErrKPINotFound, http.StatusNotFound, "kpi_not_found", "kpi not found"},
	{workforce.ErrDocumentNotFound, http.StatusNotFound, "document_not_found", "document not found"},
}

// FailError writes the envelope for a domain error. Sync failures carry
// their classification as details.
func FailError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := requestctx.GetRequestID(r.Context())
	var syncErr *roster.SyncError
	if errors.As(err, &syncErr) {
		status := http.StatusBadGateway
		if syncErr.Kind == roster.KindPersistence {
			status = http.StatusConflict
		}
		api.FailWithDetails(w, status, string(syncErr.Kind), syncErr.Title, syncErr, requestID)
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			api.Fail(w, m.status, m.code, m.message, requestID)
			return
		}
	}
	api.Fail(w, http.StatusInternalServerError, "internal_error", "request failed", requestID)
}
