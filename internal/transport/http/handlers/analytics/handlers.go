package analyticshandler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kpiboard/internal/domain/analytics"
	"kpiboard/internal/transport/http/api"
	"kpiboard/internal/transport/http/middleware"
)

// Handler serves the supervisor views computed from the session's roster.
type Handler struct {
	now func() time.Time
}

func NewHandler() *Handler {
	return &Handler{now: time.Now}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSupervisor)
		r.Get("/dashboard", h.handleDashboard)
		r.Get("/indicators", h.handleIndicators)
		r.Get("/pending", h.handlePending)
		r.Get("/tv", h.handleTV)
		r.Get("/responses/unread", h.handleUnread)
	})
}

// period reads year and month from the query, defaulting to the current
// month.
func (h *Handler) period(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	now := h.now()
	year, month := now.Year(), int(now.Month())
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("year")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 2000 || v > 2100 {
			api.Fail(w, http.StatusBadRequest, "invalid_year", "year must be between 2000 and 2100", middleware.GetRequestID(r.Context()))
			return 0, 0, false
		}
		year = v
	}
	if raw := strings.TrimSpace(query.Get("month")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 12 {
			api.Fail(w, http.StatusBadRequest, "invalid_month", "month must be between 1 and 12", middleware.GetRequestID(r.Context()))
			return 0, 0, false
		}
		month = v
	}
	return year, month, true
}

func parseMode(raw string) (analytics.Mode, bool) {
	switch analytics.Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", analytics.ModeBest:
		return analytics.ModeBest, true
	case analytics.ModeWorst:
		return analytics.ModeWorst, true
	}
	return "", false
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetCaller(r.Context())
	year, month, ok := h.period(w, r)
	if !ok {
		return
	}
	roster := caller.Workspace.Roster
	api.Success(w, analytics.BuildDashboard(roster.Snapshot(), roster.Goals(), year, month), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleIndicators(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetCaller(r.Context())
	year, month, ok := h.period(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	var modes analytics.ChartModes
	for _, m := range []struct {
		param string
		dest  *analytics.Mode
	}{
		{"monitoriaMode", &modes.Monitoria},
		{"npsMode", &modes.NPS},
		{"tmaMode", &modes.TMA},
	} {
		mode, valid := parseMode(query.Get(m.param))
		if !valid {
			api.Fail(w, http.StatusBadRequest, "invalid_mode", m.param+" must be best or worst", middleware.GetRequestID(r.Context()))
			return
		}
		*m.dest = mode
	}
	roster := caller.Workspace.Roster
	view := analytics.BuildIndicators(roster.Snapshot(), roster.Goals(), year, month, query.Get("search"), modes)
	api.Success(w, view, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetCaller(r.Context())
	api.Success(w, analytics.Pending(caller.Workspace.Roster.Snapshot(), r.URL.Query().Get("search")), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleTV(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetCaller(r.Context())
	roster := caller.Workspace.Roster
	api.Success(w, analytics.BuildTVBoard(roster.Snapshot(), roster.Goals()), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUnread(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetCaller(r.Context())
	api.Success(w, analytics.UnreadResponses(caller.Workspace.Roster.Snapshot()), middleware.GetRequestID(r.Context()))
}
