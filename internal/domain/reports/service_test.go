package reports

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpiboard/internal/domain/analytics"
	"kpiboard/internal/domain/workforce"
)

func sampleDetail() analytics.OperatorDetail {
	tma := "00:04:10"
	nps, mon := 80.5, 92.0
	read := false
	op := workforce.Operator{
		Registration:  "19186",
		Name:          "Ana Paula Ferreira",
		AdmissionDate: "05/10/2024",
		Role:          workforce.DefaultOperatorRole,
		LinkType:      workforce.LinkTypeTemporario,
		WorkMode:      workforce.WorkModeHomeOffice,
		Active:        true,
		KPIs:          []workforce.KPI{{ID: "k1", Month: "2025-03", TMA: &tma, NPS: &nps, Monitoria: &mon}},
		Feedbacks: []workforce.Feedback{{
			ID: "f1", Date: "09/03/2025", SupervisorName: "Administrador",
			Comment: "Ótimo atendimento, atenção à pausa.", ActionPlan: "Revisar roteiro",
			OperatorResponse: "Combinado", IsRead: &read,
		}},
	}
	return analytics.BuildOperatorDetail(op, workforce.DefaultGoals())
}

type stubSealer struct {
	configured bool
	err        error
}

func (s stubSealer) Configured() bool { return s.configured }

func (s stubSealer) Encrypt(plain []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]byte("sealed:"), plain...), nil
}

func fixedNow() time.Time { return time.Date(2025, 3, 9, 14, 30, 0, 0, time.UTC) }

func TestRenderProducesPDF(t *testing.T) {
	svc := NewService("", nil)
	var buf bytes.Buffer

	require.NoError(t, svc.Render(&buf, sampleDetail(), workforce.DefaultGoals()))

	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
	assert.Greater(t, buf.Len(), 500)
}

func TestRenderWithoutHistory(t *testing.T) {
	svc := NewService("", nil)
	detail := analytics.BuildOperatorDetail(workforce.Operator{Registration: "1", Name: "Sem Dados"}, workforce.DefaultGoals())
	var buf bytes.Buffer

	require.NoError(t, svc.Render(&buf, detail, workforce.DefaultGoals()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}

func TestArchiveWritesPlainFile(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, stubSealer{})
	svc.now = fixedNow

	path, err := svc.Archive(sampleDetail(), workforce.DefaultGoals())

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "19186-20250309-143000.pdf"), path)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("%PDF")))
}

func TestArchiveSealsWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, stubSealer{configured: true})
	svc.now = fixedNow

	path, err := svc.Archive(sampleDetail(), workforce.DefaultGoals())

	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".pdf.enc"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("sealed:%PDF")))
	_, err = os.Stat(strings.TrimSuffix(path, ".enc"))
	assert.True(t, os.IsNotExist(err))
}

func TestArchiveErrors(t *testing.T) {
	_, err := NewService(" ", nil).Archive(sampleDetail(), workforce.DefaultGoals())
	assert.Error(t, err)

	svc := NewService(t.TempDir(), stubSealer{configured: true, err: errors.New("no key")})
	_, err = svc.Archive(sampleDetail(), workforce.DefaultGoals())
	assert.EqualError(t, err, "no key")
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "indicadores-19186.pdf", FileName(workforce.Operator{Registration: "19186"}))
}
