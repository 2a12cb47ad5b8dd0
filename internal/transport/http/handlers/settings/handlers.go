package settingshandler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kpiboard/internal/domain/roster"
	"kpiboard/internal/domain/workforce"
	"kpiboard/internal/platform/logger"
	"kpiboard/internal/transport/http/api"
	"kpiboard/internal/transport/http/middleware"
	"kpiboard/internal/transport/http/shared"
)

// Traffic summarizes HTTP metrics for the status view.
type Traffic interface {
	Snapshot() map[string]any
}

type Handler struct {
	Traffic Traffic
	now     func() time.Time
}

func NewHandler(traffic Traffic) *Handler {
	return &Handler{Traffic: traffic, now: time.Now}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/settings/goals", h.handleGetGoals)
	r.Get("/sync/status", h.handleSyncStatus)
	r.Post("/sync/reload", h.handleReload)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSupervisor)
		r.Put("/settings/goals", h.handleUpdateGoals)
		r.Get("/backup/export", h.handleExport)
		r.Post("/backup/import", h.handleImport)
	})
}

type goalsRequest struct {
	TMA       string   `json:"tma" validate:"required,duration"`
	NPS       *float64 `json:"nps" validate:"required,gte=0,lte=100"`
	Monitoria *float64 `json:"monitoria" validate:"required,gte=0,lte=100"`
}

type syncStatus struct {
	Loading   bool              `json:"loading"`
	Operators int               `json:"operators"`
	Visible   bool              `json:"visible"`
	LastError *roster.SyncError `json:"lastError"`
	Traffic   map[string]any    `json:"traffic,omitempty"`
}

func requireCaller(w http.ResponseWriter, r *http.Request) (middleware.Caller, bool) {
	caller, ok := middleware.GetCaller(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
	}
	return caller, ok
}

func (h *Handler) handleGetGoals(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	api.Success(w, caller.Workspace.Roster.Goals(), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdateGoals(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var payload goalsRequest
	if !shared.Decode(w, r, &payload) {
		return
	}
	goals := workforce.TeamGoals{TMA: payload.TMA, NPS: *payload.NPS, Monitoria: *payload.Monitoria}
	if err := caller.Workspace.Roster.UpdateGoals(context.WithoutCancel(r.Context()), goals); err != nil {
		shared.FailError(w, r, err)
		return
	}
	logger.From(r.Context()).Info().Str("tma", goals.TMA).Float64("nps", goals.NPS).Float64("monitoria", goals.Monitoria).Msg("team goals updated")
	api.Success(w, goals, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	api.Success(w, h.status(caller), middleware.GetRequestID(r.Context()))
}

func (h *Handler) status(caller middleware.Caller) syncStatus {
	svc := caller.Workspace.Roster
	out := syncStatus{
		Loading:   svc.Loading(),
		Operators: len(svc.Snapshot()),
		Visible:   caller.Workspace.Session.Visible(),
		LastError: svc.LastError(),
	}
	if h.Traffic != nil && caller.IsAdmin() {
		out.Traffic = h.Traffic.Snapshot()
	}
	return out
}

// handleReload refetches the roster. A classified failure is reported with
// the status so the client can show the remediation.
func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := caller.Workspace.Roster.Load(r.Context()); err != nil {
		logger.From(r.Context()).Warn().Err(err).Msg("manual roster reload failed")
		shared.FailError(w, r, err)
		return
	}
	api.Success(w, h.status(caller), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	doc, err := caller.Workspace.Roster.Export()
	if err != nil {
		logger.From(r.Context()).Error().Err(err).Msg("exporting backup failed")
		api.Fail(w, http.StatusInternalServerError, "export_failed", "failed to export backup", middleware.GetRequestID(r.Context()))
		return
	}
	name := fmt.Sprintf("backup-central156-%s.json", h.now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// handleImport replaces the roster with an uploaded backup document. The
// request body is the document itself.
func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	doc, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.Fail(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large", middleware.GetRequestID(r.Context()))
			return
		}
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "could not read request body", middleware.GetRequestID(r.Context()))
		return
	}
	n, err := caller.Workspace.Roster.Import(context.WithoutCancel(r.Context()), doc)
	if err != nil {
		shared.FailError(w, r, err)
		return
	}
	logger.From(r.Context()).Info().Int("operators", n).Msg("backup imported")
	api.Success(w, map[string]int{"imported": n}, middleware.GetRequestID(r.Context()))
}
