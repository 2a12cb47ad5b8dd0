package authhandler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kpiboard/internal/app/workspace"
	"kpiboard/internal/domain/identity"
	"kpiboard/internal/domain/workforce"
	"kpiboard/internal/platform/logger"
	"kpiboard/internal/transport/http/api"
	"kpiboard/internal/transport/http/middleware"
	"kpiboard/internal/transport/http/shared"
)

type Identity interface {
	SignIn(ctx context.Context, identifier, password string) (identity.Principal, string, error)
	Authenticate(ctx context.Context, token string) (*identity.Claims, identity.Principal, error)
	SignOut(ctx context.Context, sessionID string) error
}

type Workspaces interface {
	Open(ctx context.Context, sessionID string, principal identity.Principal, expiresAt time.Time) (*workspace.Workspace, error)
	Close(sessionID string)
}

type Handler struct {
	Identity   Identity
	Workspaces Workspaces
}

func NewHandler(id Identity, spaces Workspaces) *Handler {
	return &Handler{Identity: id, Workspaces: spaces}
}

// RegisterPublic mounts the routes reachable without a session.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/auth/login", h.HandleLogin)
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/logout", h.HandleLogout)
	r.Get("/auth/session", h.HandleSession)
	r.Post("/auth/visibility", h.HandleVisibility)
}

type loginRequest struct {
	// Identifier is an address or a bare operator registration.
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=128"`
}

type visibilityRequest struct {
	Visible *bool `json:"visible" validate:"required"`
}

type sessionView struct {
	PrincipalID string             `json:"principalId"`
	Email       string             `json:"email"`
	Role        workforce.Role     `json:"role"`
	IsAdmin     bool               `json:"isAdmin"`
	Profile     workforce.Operator `json:"profile"`
}

func viewOf(ws *workspace.Workspace) sessionView {
	principal, _ := ws.Session.Principal()
	profile, _ := ws.Session.Profile()
	return sessionView{
		PrincipalID: principal.ID,
		Email:       principal.Email,
		Role:        ws.Session.Role(),
		IsAdmin:     ws.Session.IsAdmin(),
		Profile:     profile,
	}
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if !shared.Decode(w, r, &payload) {
		return
	}

	principal, token, err := h.Identity.SignIn(r.Context(), payload.Identifier, payload.Password)
	if err != nil {
		if !errors.Is(err, workforce.ErrInvalidCredentials) {
			logger.From(r.Context()).Error().Err(err).Msg("sign-in failed")
		}
		shared.FailError(w, r, err)
		return
	}
	claims, _, err := h.Identity.Authenticate(r.Context(), token)
	if err != nil {
		shared.FailError(w, r, err)
		return
	}

	ws, err := h.Workspaces.Open(r.Context(), claims.SessionID(), principal, claims.Expiry())
	if err != nil {
		if signOutErr := h.Identity.SignOut(r.Context(), claims.SessionID()); signOutErr != nil {
			logger.From(r.Context()).Warn().Err(signOutErr).Msg("revoking unusable session failed")
		}
		shared.FailError(w, r, err)
		return
	}

	api.Success(w, map[string]any{
		"token":     token,
		"expiresAt": claims.Expiry(),
		"session":   viewOf(ws),
	}, middleware.GetRequestID(r.Context()))
}

// HandleLogout revokes the token and tears down the session's workspace.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCaller(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	if err := h.Identity.SignOut(r.Context(), caller.SessionID); err != nil {
		logger.From(r.Context()).Warn().Err(err).Msg("logout session revoke failed")
	}
	h.Workspaces.Close(caller.SessionID)
	api.Success(w, map[string]string{"status": "logged_out"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCaller(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, viewOf(caller.Workspace), middleware.GetRequestID(r.Context()))
}

// HandleVisibility records whether the client tab is in the foreground. The
// roster poll only runs for visible sessions.
func (h *Handler) HandleVisibility(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCaller(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	var payload visibilityRequest
	if !shared.Decode(w, r, &payload) {
		return
	}
	if *payload.Visible {
		caller.Workspace.Session.Touch()
	} else {
		caller.Workspace.Session.Hide()
	}
	api.Success(w, map[string]bool{"visible": caller.Workspace.Session.Visible()}, middleware.GetRequestID(r.Context()))
}
