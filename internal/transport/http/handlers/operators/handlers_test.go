package operatorshandler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpiboard/internal/domain/analytics"
	"kpiboard/internal/domain/drafts"
	"kpiboard/internal/domain/reports"
	"kpiboard/internal/domain/workforce"
	"kpiboard/internal/transport/http/handlers/handlertest"
	"kpiboard/internal/transport/http/middleware"
)

type memoryDrafts struct {
	mu    sync.Mutex
	items map[string]string
}

func (m *memoryDrafts) SaveDraft(_ context.Context, principalID, feedbackID, text string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[principalID+"/"+feedbackID] = text
	return nil
}

func (m *memoryDrafts) Draft(_ context.Context, principalID, feedbackID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[principalID+"/"+feedbackID], nil
}

func (m *memoryDrafts) ClearDraft(_ context.Context, principalID, feedbackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, principalID+"/"+feedbackID)
	return nil
}

type fixture struct {
	h      *Handler
	env    *handlertest.Env
	drafts *memoryDrafts
	sup    middleware.Caller
	op     middleware.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	roster := workforce.FallbackRoster()
	roster[0].UserID = handlertest.OperatorPrincipal("19186").ID
	env := handlertest.New(t, roster...)
	store := &memoryDrafts{items: map[string]string{}}
	h := NewHandler(env.Adapter, drafts.NewService(store, time.Hour), reports.NewService(t.TempDir(), nil))
	return &fixture{
		h:      h,
		env:    env,
		drafts: store,
		sup:    env.Login(t, handlertest.Supervisor),
		op:     env.Login(t, handlertest.OperatorPrincipal("19186")),
	}
}

func serve(handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestListFiltersBySearchAndWorkMode(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.h.handleList, handlertest.Request(t, http.MethodGet, "/operators?search=ANA", nil, &f.sup))
	require.Equal(t, http.StatusOK, rec.Code)
	var ops []workforce.Operator
	handlertest.Envelope(t, rec, &ops)
	assert.Equal(t, []string{"19186"}, handlertest.Registrations(ops))

	rec = serve(f.h.handleList, handlertest.Request(t, http.MethodGet, "/operators?workMode=Presencial", nil, &f.sup))
	require.Equal(t, http.StatusOK, rec.Code)
	handlertest.Envelope(t, rec, &ops)
	assert.Equal(t, []string{"19336", "55615", "56325"}, handlertest.Registrations(ops))

	rec = serve(f.h.handleList, handlertest.Request(t, http.MethodGet, "/operators?workMode=Remoto", nil, &f.sup))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOperatorOnlySeesOwnRecord(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.h.handleList, handlertest.Request(t, http.MethodGet, "/operators", nil, &f.op))
	require.Equal(t, http.StatusOK, rec.Code)
	var ops []workforce.Operator
	handlertest.Envelope(t, rec, &ops)
	assert.Equal(t, []string{"19186"}, handlertest.Registrations(ops))

	rec = serve(f.h.handleGet, handlertest.Request(t, http.MethodGet, "/operators/19191", nil, &f.op, "registration", "19191"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(f.h.handleGet, handlertest.Request(t, http.MethodGet, "/operators/19186", nil, &f.op, "registration", "19186"))
	require.Equal(t, http.StatusOK, rec.Code)
	var detail analytics.OperatorDetail
	handlertest.Envelope(t, rec, &detail)
	assert.Equal(t, "Ana Paula Ferreira", detail.Operator.Name)
}

func TestCreateOperatorWithLogin(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.h.handleCreate, handlertest.Request(t, http.MethodPost, "/operators", map[string]any{
		"registration": "60001",
		"name":         "Gabriela Torres",
		"birthDate":    "02/03/1999",
		"workMode":     "Home Office",
		"password":     "inicial1",
	}, &f.sup))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created workforce.Operator
	handlertest.Envelope(t, rec, &created)
	assert.Equal(t, "60001", created.Registration)
	assert.True(t, created.Active)
	assert.NotEmpty(t, created.UserID)

	row, ok := f.env.Table.Row("60001")
	require.True(t, ok)
	assert.Equal(t, created.UserID, row.UserID)

	principal, err := f.env.Provider.SignInWithPassword(context.Background(), "op60001@example.com", "inicial1")
	require.NoError(t, err)
	assert.Equal(t, workforce.RoleOperator, principal.Role)
}

func TestCreateOperatorRejectsDuplicatesAndBadInput(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.h.handleCreate, handlertest.Request(t, http.MethodPost, "/operators", map[string]any{
		"registration": "19191",
		"name":         "Outro Bruno",
	}, &f.sup))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(f.h.handleCreate, handlertest.Request(t, http.MethodPost, "/operators", map[string]any{
		"registration": "60002",
		"name":         "Helena",
		"birthDate":    "1999-03-02",
	}, &f.sup))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(f.h.handleCreate, handlertest.Request(t, http.MethodPost, "/operators", map[string]any{
		"registration": "60003",
		"name":         "Igor",
		"password":     "123",
	}, &f.sup))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	_, exists := f.env.Table.Row("60003")
	assert.False(t, exists)
}

func TestUpdateToggleAndDelete(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.h.handleUpdate, handlertest.Request(t, http.MethodPatch, "/operators/19191", map[string]any{
		"name":       "Bruno H. Costa",
		"costCenter": "CENTRAL 156 - NOITE",
	}, &f.sup, "registration", "19191"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	row, _ := f.env.Table.Row("19191")
	assert.Equal(t, "Bruno H. Costa", row.Name)
	assert.Equal(t, workforce.WorkModeHomeOffice, row.WorkMode)

	rec = serve(f.h.handleToggle, handlertest.Request(t, http.MethodPost, "/operators/19191/toggle", nil, &f.sup, "registration", "19191"))
	require.Equal(t, http.StatusOK, rec.Code)
	var toggled map[string]bool
	handlertest.Envelope(t, rec, &toggled)
	assert.False(t, toggled["active"])

	rec = serve(f.h.handleDelete, handlertest.Request(t, http.MethodDelete, "/operators/19191", nil, &f.sup, "registration", "19191"))
	require.Equal(t, http.StatusOK, rec.Code)
	_, exists := f.env.Table.Row("19191")
	assert.False(t, exists)

	rec = serve(f.h.handleDelete, handlertest.Request(t, http.MethodDelete, "/operators/19191", nil, &f.sup, "registration", "19191"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFailedDeleteRollsBack(t *testing.T) {
	f := newFixture(t)
	f.env.Table.WriteErr = errors.New("connection reset")

	rec := serve(f.h.handleDelete, handlertest.Request(t, http.MethodDelete, "/operators/19195", nil, &f.sup, "registration", "19195"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	envelope := handlertest.Envelope(t, rec, nil)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "persistence", envelope.Error.Code)
	_, err := f.sup.Workspace.Roster.Operator("19195")
	assert.NoError(t, err)
}

func TestKPILifecycle(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.h.handleSaveKPI, handlertest.Request(t, http.MethodPost, "/operators/19186/kpis", map[string]any{
		"month":     "2025-03",
		"tma":       "00:04:10",
		"nps":       80,
		"monitoria": 90.5,
	}, &f.sup, "registration", "19186"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var saved workforce.KPI
	handlertest.Envelope(t, rec, &saved)
	require.NotEmpty(t, saved.ID)

	rec = serve(f.h.handleSaveKPI, handlertest.Request(t, http.MethodPut, "/operators/19186/kpis/"+saved.ID, map[string]any{
		"month": "2025-03",
		"nps":   70,
	}, &f.sup, "registration", "19186", "kpiID", saved.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	row, _ := f.env.Table.Row("19186")
	require.Len(t, row.KPIs, 1)
	assert.Equal(t, 70.0, *row.KPIs[0].NPS)

	rec = serve(f.h.handleSaveKPI, handlertest.Request(t, http.MethodPost, "/operators/19186/kpis", map[string]any{
		"month": "2025-13",
		"tma":   "4:10",
	}, &f.sup, "registration", "19186"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, nps := range []float64{-10, 100.5} {
		rec = serve(f.h.handleSaveKPI, handlertest.Request(t, http.MethodPost, "/operators/19186/kpis", map[string]any{
			"month": "2025-04",
			"nps":   nps,
		}, &f.sup, "registration", "19186"))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "nps %v", nps)
	}
	row, _ = f.env.Table.Row("19186")
	assert.Len(t, row.KPIs, 1)

	rec = serve(f.h.handleDeleteKPI, handlertest.Request(t, http.MethodDelete, "/operators/19186/kpis/"+saved.ID, nil, &f.sup, "registration", "19186", "kpiID", saved.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	row, _ = f.env.Table.Row("19186")
	assert.Empty(t, row.KPIs)

	rec = serve(f.h.handleDeleteKPI, handlertest.Request(t, http.MethodDelete, "/operators/19186/kpis/"+saved.ID, nil, &f.sup, "registration", "19186", "kpiID", saved.ID))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeedbackConversation(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.h.handleAddFeedback, handlertest.Request(t, http.MethodPost, "/operators/19186/feedbacks", map[string]string{
		"comment": "Reduzir pausas longas",
	}, &f.sup, "registration", "19186"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var fb workforce.Feedback
	handlertest.Envelope(t, rec, &fb)
	assert.Equal(t, "Marina Supervisora", fb.SupervisorName)

	require.NoError(t, f.op.Workspace.Roster.Load(context.Background()))

	rec = serve(f.h.handleSaveDraft, handlertest.Request(t, http.MethodPut, "/draft", map[string]string{"text": "Vou ajustar"}, &f.op, "feedbackID", fb.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(f.h.handleGetDraft, handlertest.Request(t, http.MethodGet, "/draft", nil, &f.op, "feedbackID", fb.ID))
	var draft map[string]string
	handlertest.Envelope(t, rec, &draft)
	assert.Equal(t, "Vou ajustar", draft["text"])

	respond := func() *httptest.ResponseRecorder {
		return serve(f.h.handleRespond, handlertest.Request(t, http.MethodPost, "/response", map[string]string{
			"response": "Combinado, vou ajustar",
		}, &f.op, "registration", "19186", "feedbackID", fb.ID))
	}
	rec = respond()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, f.drafts.items)

	row, _ := f.env.Table.Row("19186")
	require.Len(t, row.Feedbacks, 1)
	assert.Equal(t, "Combinado, vou ajustar", row.Feedbacks[0].OperatorResponse)
	require.NotNil(t, row.Feedbacks[0].IsRead)
	assert.False(t, *row.Feedbacks[0].IsRead)

	assert.Equal(t, http.StatusConflict, respond().Code)

	require.NoError(t, f.sup.Workspace.Roster.Load(context.Background()))
	rec = serve(f.h.handleMarkRead, handlertest.Request(t, http.MethodPost, "/read", nil, &f.sup, "registration", "19186", "feedbackID", fb.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	row, _ = f.env.Table.Row("19186")
	assert.True(t, *row.Feedbacks[0].IsRead)
}

func TestOperatorCannotAnswerOthers(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.h.handleRespond, handlertest.Request(t, http.MethodPost, "/response", map[string]string{
		"response": "oi",
	}, &f.op, "registration", "19191", "feedbackID", "x"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentsAndPhoto(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.h.handleAddDocument, handlertest.Request(t, http.MethodPost, "/documents", map[string]string{
		"name": "atestado.jpeg",
		"url":  "data:image/jpeg;base64,AAAA",
	}, &f.sup, "registration", "19195"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var doc workforce.Document
	handlertest.Envelope(t, rec, &doc)
	assert.Equal(t, "JPEG", doc.Type)

	rec = serve(f.h.handleDeleteDocument, handlertest.Request(t, http.MethodDelete, "/documents", nil, &f.sup, "registration", "19195", "documentID", doc.ID))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(f.h.handlePhoto, handlertest.Request(t, http.MethodPut, "/photo", map[string]string{
		"photoUrl": "data:image/png;base64,AAAA",
	}, &f.op, "registration", "19186"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	row, _ := f.env.Table.Row("19186")
	assert.Equal(t, "data:image/png;base64,AAAA", row.PhotoURL)

	rec = serve(f.h.handlePhoto, handlertest.Request(t, http.MethodPut, "/photo", map[string]string{
		"photoUrl": "https://example.com/a.png",
	}, &f.op, "registration", "19186"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportDownload(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.h.handleReport, handlertest.Request(t, http.MethodGet, "/report", nil, &f.op, "registration", "19186"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "indicadores-19186.pdf")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))
}

func TestReportArchive(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.h.handleArchiveReport, handlertest.Request(t, http.MethodPost, "/report/archive", nil, &f.sup, "registration", "19336"))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out map[string]string
	handlertest.Envelope(t, rec, &out)
	assert.Contains(t, out["path"], "19336-")
	assert.True(t, strings.HasSuffix(out["path"], ".pdf"))
}

func TestRoutesGuardSupervisorActions(t *testing.T) {
	f := newFixture(t)
	router := chiRouter(f.h)

	req := handlertest.Request(t, http.MethodDelete, "/operators/19186", nil, &f.op)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	_, exists := f.env.Table.Row("19186")
	assert.True(t, exists)
}

func chiRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}
