package operatorshandler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"kpiboard/internal/domain/analytics"
	"kpiboard/internal/domain/reports"
	"kpiboard/internal/domain/roster"
	"kpiboard/internal/domain/workforce"
	"kpiboard/internal/platform/logger"
	"kpiboard/internal/transport/http/api"
	"kpiboard/internal/transport/http/middleware"
	"kpiboard/internal/transport/http/shared"
)

type Drafts interface {
	Save(ctx context.Context, principalID, feedbackID, text string) error
	Get(ctx context.Context, principalID, feedbackID string) (string, error)
	Clear(ctx context.Context, principalID, feedbackID string) error
}

type Reports interface {
	Render(w io.Writer, detail analytics.OperatorDetail, goals workforce.TeamGoals) error
	Archive(detail analytics.OperatorDetail, goals workforce.TeamGoals) (string, error)
}

type Handler struct {
	Accounts roster.AccountProvisioner
	Drafts   Drafts
	Reports  Reports
}

func NewHandler(accounts roster.AccountProvisioner, drafts Drafts, reports Reports) *Handler {
	return &Handler{Accounts: accounts, Drafts: drafts, Reports: reports}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	supervisor := middleware.RequireSupervisor
	r.Route("/operators", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.With(supervisor).Post("/", h.handleCreate)
		r.Route("/{registration}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.With(supervisor).Patch("/", h.handleUpdate)
			r.With(supervisor).Delete("/", h.handleDelete)
			r.With(supervisor).Post("/toggle", h.handleToggle)
			r.With(supervisor).Post("/access", h.handleGrantAccess)
			r.Put("/photo", h.handlePhoto)
			r.Get("/report", h.handleReport)
			r.With(supervisor).Post("/report/archive", h.handleArchiveReport)

			r.With(supervisor).Post("/kpis", h.handleSaveKPI)
			r.With(supervisor).Put("/kpis/{kpiID}", h.handleSaveKPI)
			r.With(supervisor).Delete("/kpis/{kpiID}", h.handleDeleteKPI)

			r.With(supervisor).Post("/feedbacks", h.handleAddFeedback)
			r.Route("/feedbacks/{feedbackID}", func(r chi.Router) {
				r.With(supervisor).Put("/", h.handleEditFeedback)
				r.With(supervisor).Delete("/", h.handleDeleteFeedback)
				r.With(supervisor).Post("/read", h.handleMarkRead)
				r.Post("/response", h.handleRespond)
				r.Get("/draft", h.handleGetDraft)
				r.Put("/draft", h.handleSaveDraft)
				r.Delete("/draft", h.handleClearDraft)
			})

			r.With(supervisor).Post("/documents", h.handleAddDocument)
			r.With(supervisor).Delete("/documents/{documentID}", h.handleDeleteDocument)
		})
	})
}

type createRequest struct {
	Registration  string             `json:"registration" validate:"required,max=32"`
	Name          string             `json:"name" validate:"required,max=200"`
	AdmissionDate string             `json:"admissionDate" validate:"omitempty,brdate"`
	Role          string             `json:"role" validate:"max=100"`
	LinkType      workforce.LinkType `json:"linkType" validate:"omitempty,oneof=Efetivo Temporário Aprendiz"`
	CostCenter    string             `json:"costCenter" validate:"max=100"`
	WorkMode      workforce.WorkMode `json:"workMode" validate:"omitempty,oneof=Presencial 'Home Office'"`
	BirthDate     string             `json:"birthDate" validate:"omitempty,brdate"`
	Active        *bool              `json:"active"`
	// Password, when present, provisions a login for the new operator.
	Password string `json:"password" validate:"omitempty,min=6,max=128"`
}

type updateRequest struct {
	Name          *string             `json:"name" validate:"omitempty,min=1,max=200"`
	AdmissionDate *string             `json:"admissionDate" validate:"omitempty,brdate"`
	Role          *string             `json:"role" validate:"omitempty,max=100"`
	LinkType      *workforce.LinkType `json:"linkType" validate:"omitempty,oneof=Efetivo Temporário Aprendiz"`
	CostCenter    *string             `json:"costCenter" validate:"omitempty,max=100"`
	WorkMode      *workforce.WorkMode `json:"workMode" validate:"omitempty,oneof=Presencial 'Home Office'"`
	BirthDate     *string             `json:"birthDate" validate:"omitempty,brdate"`
	Active        *bool               `json:"active"`
}

type accessRequest struct {
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type photoRequest struct {
	PhotoURL string `json:"photoUrl" validate:"required,startswith=data:image/"`
}

type kpiRequest struct {
	Month     string   `json:"month" validate:"required,month"`
	TMA       *string  `json:"tma" validate:"omitempty,duration"`
	NPS       *float64 `json:"nps" validate:"omitempty,gte=0,lte=100"`
	Monitoria *float64 `json:"monitoria" validate:"omitempty,gte=0,lte=100"`
}

type feedbackRequest struct {
	Comment string `json:"comment" validate:"required,max=4000"`
}

type responseRequest struct {
	Response string `json:"response" validate:"required,max=4000"`
}

type draftRequest struct {
	Text string `json:"text"`
}

type documentRequest struct {
	Name string `json:"name" validate:"required,max=255"`
	URL  string `json:"url" validate:"required,startswith=data:"`
}

func requireCaller(w http.ResponseWriter, r *http.Request) (middleware.Caller, bool) {
	caller, ok := middleware.GetCaller(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
	}
	return caller, ok
}

// detached keeps a mutation running when the client goes away mid-request.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	mode := workforce.WorkMode(strings.TrimSpace(query.Get("workMode")))
	if mode != "" && !workforce.ValidWorkMode(mode) {
		api.Fail(w, http.StatusBadRequest, "invalid_work_mode", "unknown work mode", middleware.GetRequestID(r.Context()))
		return
	}
	ops := analytics.FilterRoster(caller.Workspace.Roster.Snapshot(), query.Get("search"), mode)
	api.Success(w, ops, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var payload createRequest
	if !shared.Decode(w, r, &payload) {
		return
	}
	active := true
	if payload.Active != nil {
		active = *payload.Active
	}

	principalID, err := caller.Workspace.Roster.CreateOperator(detached(r), roster.NewOperator{
		Registration:  payload.Registration,
		Name:          payload.Name,
		AdmissionDate: payload.AdmissionDate,
		Role:          payload.Role,
		LinkType:      payload.LinkType,
		CostCenter:    payload.CostCenter,
		WorkMode:      payload.WorkMode,
		BirthDate:     payload.BirthDate,
		Active:        active,
		Password:      payload.Password,
	}, h.Accounts)
	if err != nil {
		shared.FailError(w, r, err)
		return
	}
	op, err := caller.Workspace.Roster.Operator(strings.TrimSpace(payload.Registration))
	if err != nil {
		shared.FailError(w, r, err)
		return
	}
	logger.From(r.Context()).Info().
		Str("registration", op.Registration).
		Bool("login_provisioned", principalID != "").
		Msg("operator created")
	api.Created(w, op, middleware.GetRequestID(r.Context()))
}

// handleGet returns the operator with history classified against the goals.
// Non-supervisors only reach their own record.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	detail, _, ok := h.detail(w, r, caller)
	if !ok {
		return
	}
	api.Success(w, detail, middleware.GetRequestID(r.Context()))
}

func (h *Handler) detail(w http.ResponseWriter, r *http.Request, caller middleware.Caller) (analytics.OperatorDetail, workforce.TeamGoals, bool) {
	registration := chi.URLParam(r, "registration")
	if !caller.IsAdmin() && registration != caller.Workspace.Session.Registration() {
		shared.FailError(w, r, workforce.ErrOperatorNotFound)
		return analytics.OperatorDetail{}, workforce.TeamGoals{}, false
	}
	op, err := caller.Workspace.Roster.Operator(registration)
	if err != nil {
		shared.FailError(w, r, err)
		return analytics.OperatorDetail{}, workforce.TeamGoals{}, false
	}
	goals := caller.Workspace.Roster.Goals()
	return analytics.BuildOperatorDetail(op, goals), goals, true
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var payload updateRequest
	if !shared.Decode(w, r, &payload) {
		return
	}
	op, err := caller.Workspace.Roster.UpdateOperator(detached(r), chi.URLParam(r, "registration"), roster.OperatorPatch{
		Name:          payload.Name,
		AdmissionDate: payload.AdmissionDate,
		Role:          payload.Role,
		LinkType:      payload.LinkType,
		CostCenter:    payload.CostCenter,
		WorkMode:      payload.WorkMode,
		BirthDate:     payload.BirthDate,
		Active:        payload.Active,
	})
	if err != nil {
		shared.FailError(w, r, err)
		return
	}
	api.Success(w, op, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	registration := chi.URLParam(r, "registration")
	if err := caller.Workspace.Roster.DeleteOperator(detached(r), registration); err != nil {
		shared.FailError(w, r, err)
		return
	}
	logger.From(r.Context()).Info().Str("registration", registration).Msg("operator deleted")
	api.Success(w, map[string]string{"status": "deleted"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	active, err := caller.Workspace.Roster.ToggleActive(detached(r), chi.URLParam(r, "registration"))
	if err != nil {
		shared.FailError(w, r, err)
		return
	}
	api.Success(w, map[string]bool{"active": active}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGrantAccess(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var payload accessRequest
	if !shared.Decode(w, r, &payload) {
		return
	}
	registration := chi.URLParam(r, "registration")
	principalID, err := caller.Workspace.Roster.GrantAccess(detached(r), registration, payload.Password, h.Accounts)
	if err != nil {
		shared.FailError(w, r, err)
		return
	}
	logger.From(r.Context()).Info().Str("registration", registration).Msg("operator login provisioned")
	api.Success(w, map[string]string{"userId": principalID}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handlePhoto(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var payload photoRequest
	if !shared.Decode(w, r, &payload) {
		return
	}
	if err := caller.Workspace.Roster.SetPhoto(detached(r), chi.URLParam(r, "registration"), payload.PhotoURL); err != nil {
		shared.FailError(w, r, err)
		return
	}
	api.Success(w, map[string]string{"status": "updated"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSaveKPI(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var payload kpiRequest
	if !shared.Decode(w, r, &payload) {
		return
	}
	kpiID := chi.URLParam(r, "kpiID")
	saved, err := caller.Workspace.Roster.SaveKPI(detached(r), chi.URLParam(r, "registration"), roster.KPIInput{
		ID:        kpiID,
		Month:     payload.Month,
		TMA:       payload.TMA,
		NPS:       payload.NPS,
		Monitoria: payload.Monitoria,
	})
	if err != nil {
		shared.FailError(w, r, err)
		return
	}
	if kpiID == "" {
		api.Created(w, saved, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, saved, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeleteKPI(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := caller.Workspace.Roster.DeleteKPI(detached(r), chi.URLParam(r, "registration"), chi.URLParam(r, "kpiID")); err != nil {
		shared.FailError(w, r, err)
		return
	}
	api.Success(w, map[string]string{"status": "deleted"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAddFeedback(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var payload feedbackRequest
	if !shared.Decode(w, r, &payload) {
		return
	}
	author := roster.Author{ID: caller.Principal.ID}
	if profile, ok := caller.Workspace.Session.Profile(); ok {
		author.Name = profile.Name
	}
	fb, err := caller.Workspace.Roster.AddFeedback(detached(r), chi.URLParam(r, "registration"), payload.Comment, author)
	if err != nil {
		shared.FailError(w, r, err)
		return
	}
	api.Created(w, fb, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleEditFeedback(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var payload feedbackRequest
	if !shared.Decode(w, r, &payload) {
		return
	}
	err := caller.Workspace.Roster.EditFeedback(detached(r), chi.URLParam(r, "registration"), chi.URLParam(r, "feedbackID"), payload.Comment)
	if err != nil {
		shared.FailError(w, r, err)
		return
	}
	api.Success(w, map[string]string{"status": "updated"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeleteFeedback(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := caller.Workspace.Roster.DeleteFeedback(detached(r), chi.URLParam(r, "registration"), chi.URLParam(r, "feedbackID")); err != nil {
		shared.FailError(w, r, err)
		return
	}
	api.Success(w, map[string]string{"status": "deleted"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := caller.Workspace.Roster.MarkFeedbackRead(detached(r), chi.URLParam(r, "registration"), chi.URLParam(r, "feedbackID")); err != nil {
		shared.FailError(w, r, err)
		return
	}
	api.Success(w, map[string]string{"status": "read"}, middleware.GetRequestID(r.Context()))
}

// handleRespond records the operator's answer and drops the stored draft.
func (h *Handler) handleRespond(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var payload responseRequest
	if !shared.Decode(w, r, &payload) {
		return
	}
	feedbackID := chi.URLParam(r, "feedbackID")
	ctx := detached(r)
	if err := caller.Workspace.Roster.RespondFeedback(ctx, chi.URLParam(r, "registration"), feedbackID, payload.Response); err != nil {
		shared.FailError(w, r, err)
		return
	}
	if h.Drafts != nil {
		if err := h.Drafts.Clear(ctx, caller.Principal.ID, feedbackID); err != nil {
			logger.From(r.Context()).Warn().Err(err).Str("feedback_id", feedbackID).Msg("clearing reply draft failed")
		}
	}
	api.Success(w, map[string]string{"status": "answered"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok || !h.draftsEnabled(w, r) {
		return
	}
	text, err := h.Drafts.Get(r.Context(), caller.Principal.ID, chi.URLParam(r, "feedbackID"))
	if err != nil {
		shared.FailError(w, r, err)
		return
	}
	api.Success(w, map[string]string{"text": text}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok || !h.draftsEnabled(w, r) {
		return
	}
	var payload draftRequest
	if !shared.Decode(w, r, &payload) {
		return
	}
	if err := h.Drafts.Save(r.Context(), caller.Principal.ID, chi.URLParam(r, "feedbackID"), payload.Text); err != nil {
		shared.FailError(w, r, err)
		return
	}
	api.Success(w, map[string]string{"status": "saved"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleClearDraft(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok || !h.draftsEnabled(w, r) {
		return
	}
	if err := h.Drafts.Clear(r.Context(), caller.Principal.ID, chi.URLParam(r, "feedbackID")); err != nil {
		shared.FailError(w, r, err)
		return
	}
	api.Success(w, map[string]string{"status": "cleared"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) draftsEnabled(w http.ResponseWriter, r *http.Request) bool {
	if h.Drafts == nil {
		api.Fail(w, http.StatusServiceUnavailable, "drafts_unavailable", "draft storage is not configured", middleware.GetRequestID(r.Context()))
		return false
	}
	return true
}

func (h *Handler) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var payload documentRequest
	if !shared.Decode(w, r, &payload) {
		return
	}
	doc, err := caller.Workspace.Roster.AddDocument(detached(r), chi.URLParam(r, "registration"), payload.Name, payload.URL)
	if err != nil {
		shared.FailError(w, r, err)
		return
	}
	api.Created(w, doc, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := caller.Workspace.Roster.DeleteDocument(detached(r), chi.URLParam(r, "registration"), chi.URLParam(r, "documentID")); err != nil {
		shared.FailError(w, r, err)
		return
	}
	api.Success(w, map[string]string{"status": "deleted"}, middleware.GetRequestID(r.Context()))
}

// handleReport streams the operator's indicator report as a PDF download.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	detail, goals, ok := h.detail(w, r, caller)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.Reports.Render(&buf, detail, goals); err != nil {
		logger.From(r.Context()).Error().Err(err).Str("registration", detail.Operator.Registration).Msg("rendering report failed")
		api.Fail(w, http.StatusInternalServerError, "report_failed", "failed to render report", middleware.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+reports.FileName(detail.Operator)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) handleArchiveReport(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	detail, goals, ok := h.detail(w, r, caller)
	if !ok {
		return
	}
	path, err := h.Reports.Archive(detail, goals)
	if err != nil {
		logger.From(r.Context()).Error().Err(err).Str("registration", detail.Operator.Registration).Msg("archiving report failed")
		api.Fail(w, http.StatusInternalServerError, "report_failed", "failed to archive report", middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, map[string]string{"path": path}, middleware.GetRequestID(r.Context()))
}
