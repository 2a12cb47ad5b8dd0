package workforce

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrAccountExists      = errors.New("account already registered")
	ErrWeakPassword       = errors.New("password must have at least 6 characters")
	ErrProfileUnresolved  = errors.New("signed-in account has no linked operator record")
	ErrUnauthenticated    = errors.New("no active session")

	ErrRecursivePolicy = errors.New("row-level security policy recursion")
	ErrMissingTable    = errors.New("backend table missing")
	ErrPersistence     = errors.New("backend write failed")
	ErrNetwork         = errors.New("backend read failed")

	ErrOperatorNotFound      = errors.New("operator not found")
	ErrDuplicateRegistration = errors.New("registration already exists")
	ErrForbidden             = errors.New("operation not allowed for this role")
	ErrResponseAlreadySent   = errors.New("feedback already answered")
	ErrFeedbackNotFound      = errors.New("feedback not found")
	ErrKPINotFound           = errors.New("kpi not found")
	ErrDocumentNotFound      = errors.New("document not found")
	ErrInvalidBackup         = errors.New("invalid backup document")
)
