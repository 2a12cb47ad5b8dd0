package settingshandler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpiboard/internal/domain/workforce"
	"kpiboard/internal/transport/http/handlers/handlertest"
	"kpiboard/internal/transport/http/middleware"
)

type staticTraffic map[string]any

func (s staticTraffic) Snapshot() map[string]any { return s }

type fixture struct {
	router http.Handler
	env    *handlertest.Env
	sup    middleware.Caller
	op     middleware.Caller
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ops := workforce.FallbackRoster()
	ops[0].UserID = handlertest.OperatorPrincipal("19186").ID
	env := handlertest.New(t, ops...)
	h := NewHandler(staticTraffic{"requestsTotal": 3})
	h.now = func() time.Time { return time.Date(2025, time.March, 9, 0, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return &fixture{
		router: r,
		env:    env,
		sup:    env.Login(t, handlertest.Supervisor),
		op:     env.Login(t, handlertest.OperatorPrincipal("19186")),
	}
}

func (f *fixture) do(t *testing.T, method, target string, body any, caller *middleware.Caller) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, handlertest.Request(t, method, target, body, caller))
	return rec
}

func TestGoalsReadAndUpdate(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/settings/goals", nil, &f.op)
	require.Equal(t, http.StatusOK, rec.Code)
	var goals workforce.TeamGoals
	handlertest.Envelope(t, rec, &goals)
	assert.Equal(t, workforce.DefaultGoals(), goals)

	update := map[string]any{"tma": "00:04:00", "nps": 80, "monitoria": 90}
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPut, "/settings/goals", update, &f.op).Code)

	rec = f.do(t, http.MethodPut, "/settings/goals", update, &f.sup)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, f.env.Table.GoalSaves)
	assert.Equal(t, workforce.TeamGoals{TMA: "00:04:00", NPS: 80, Monitoria: 90}, f.sup.Workspace.Roster.Goals())

	rec = f.do(t, http.MethodPut, "/settings/goals", map[string]any{"tma": "4 min", "nps": 80, "monitoria": 90}, &f.sup)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPut, "/settings/goals", map[string]any{"tma": "00:04:00", "monitoria": 90}, &f.sup)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPut, "/settings/goals", map[string]any{"tma": "00:04:00", "nps": -10, "monitoria": 90}, &f.sup)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, f.env.Table.GoalSaves)
}

func TestExportDownloadsCollection(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/backup/export", nil, &f.sup)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "backup-central156-2025-03-09.json")
	var doc []workforce.Operator
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Len(t, doc, 6)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/backup/export", nil, &f.op).Code)
}

func TestImportUpsertsDocument(t *testing.T) {
	f := setup(t)

	doc := `[
		{"registration":"19186","name":"Ana Paula Ferreira","active":true},
		{"registration":"70001","name":"Joana Prado","workMode":"Presencial"}
	]`
	rec := f.do(t, http.MethodPost, "/backup/import", doc, &f.sup)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out map[string]int
	handlertest.Envelope(t, rec, &out)
	assert.Equal(t, 2, out["imported"])
	_, ok := f.env.Table.Row("70001")
	assert.True(t, ok)
	_, kept := f.env.Table.Row("19191")
	assert.True(t, kept)
	assert.Len(t, f.sup.Workspace.Roster.Snapshot(), 2)
}

func TestImportRejectsInvalidDocuments(t *testing.T) {
	f := setup(t)

	for _, doc := range []string{
		`{"registration":"1"}`,
		`[{"registration":"1","name":"A"},{"registration":"1","name":"B"}]`,
		`[{"registration":"","name":"Sem matrícula"}]`,
		`[]`,
	} {
		rec := f.do(t, http.MethodPost, "/backup/import", doc, &f.sup)
		assert.Equal(t, http.StatusBadRequest, rec.Code, doc)
		envelope := handlertest.Envelope(t, rec, nil)
		require.NotNil(t, envelope.Error)
		assert.Equal(t, "invalid_backup", envelope.Error.Code)
	}
	assert.Len(t, f.sup.Workspace.Roster.Snapshot(), 6)
}

func TestSyncStatusAndReload(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/sync/status", nil, &f.sup)
	require.Equal(t, http.StatusOK, rec.Code)
	var status syncStatus
	handlertest.Envelope(t, rec, &status)
	assert.Equal(t, 6, status.Operators)
	assert.Nil(t, status.LastError)
	assert.EqualValues(t, 3, status.Traffic["requestsTotal"])

	rec = f.do(t, http.MethodGet, "/sync/status", nil, &f.op)
	status = syncStatus{}
	handlertest.Envelope(t, rec, &status)
	assert.Equal(t, 1, status.Operators)
	assert.Nil(t, status.Traffic)

	f.env.Table.ReadErr = workforce.ErrMissingTable
	rec = f.do(t, http.MethodPost, "/sync/reload", nil, &f.sup)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	envelope := handlertest.Envelope(t, rec, nil)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "missing_table", envelope.Error.Code)

	rec = f.do(t, http.MethodGet, "/sync/status", nil, &f.sup)
	status = syncStatus{}
	handlertest.Envelope(t, rec, &status)
	require.NotNil(t, status.LastError)
	assert.Equal(t, "missing_table", string(status.LastError.Kind))
	assert.Equal(t, 6, status.Operators)

	f.env.Table.ReadErr = nil
	rec = f.do(t, http.MethodPost, "/sync/reload", nil, &f.sup)
	require.Equal(t, http.StatusOK, rec.Code)
}
