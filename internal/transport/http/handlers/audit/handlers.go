package audithandler

import (
	"context"
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"kpiboard/internal/domain/audit"
	"kpiboard/internal/platform/logger"
	"kpiboard/internal/transport/http/api"
	"kpiboard/internal/transport/http/middleware"
	"kpiboard/internal/transport/http/shared"
)

// Events is the read side of the audit trail.
type Events interface {
	Count(ctx context.Context, filter audit.Filter) (int, error)
	List(ctx context.Context, filter audit.Filter, limit, offset int) ([]audit.Event, error)
}

type Handler struct {
	Events Events
}

func NewHandler(events Events) *Handler {
	return &Handler{Events: events}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/audit", func(r chi.Router) {
		r.Use(middleware.RequireSupervisor)
		r.Get("/events", h.handleListEvents)
		r.Get("/events/export", h.handleExportEvents)
	})
}

func filterFrom(r *http.Request) audit.Filter {
	q := r.URL.Query()
	return audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("registration"),
		ActorID:    q.Get("actorId"),
	}
}

func (h *Handler) available(w http.ResponseWriter, r *http.Request) bool {
	if h.Events == nil {
		api.Fail(w, http.StatusServiceUnavailable, "audit_unavailable", "audit trail is not configured", middleware.GetRequestID(r.Context()))
		return false
	}
	return true
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	page := shared.ParsePagination(r, 100, 500)
	filter := filterFrom(r)
	total, err := h.Events.Count(r.Context(), filter)
	if err != nil {
		logger.From(r.Context()).Warn().Err(err).Msg("audit count failed")
	}

	events, err := h.Events.List(r.Context(), filter, page.Limit, page.Offset)
	if err != nil {
		logger.From(r.Context()).Error().Err(err).Msg("audit list failed")
		api.Fail(w, http.StatusInternalServerError, "audit_list_failed", "failed to list audit events", middleware.GetRequestID(r.Context()))
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, events, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleExportEvents(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	events, err := h.Events.List(r.Context(), filterFrom(r), 0, 0)
	if err != nil {
		logger.From(r.Context()).Error().Err(err).Msg("audit export failed")
		api.Fail(w, http.StatusInternalServerError, "audit_export_failed", "failed to export audit events", middleware.GetRequestID(r.Context()))
		return
	}

	log := logger.From(r.Context())
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=audit-events.csv")
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"id", "actor_id", "action", "entity_type", "entity_id", "request_id", "ip", "status", "created_at"}); err != nil {
		log.Warn().Err(err).Msg("audit export header failed")
	}
	for _, evt := range events {
		row := []string{
			evt.ID, evt.ActorID, evt.Action, evt.EntityType, evt.EntityID, evt.RequestID, evt.IP,
			strconv.Itoa(evt.Status), evt.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			log.Warn().Err(err).Msg("audit export row failed")
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		log.Warn().Err(err).Msg("audit export flush failed")
	}
}
