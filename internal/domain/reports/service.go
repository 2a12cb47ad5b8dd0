package reports

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"kpiboard/internal/domain/analytics"
	"kpiboard/internal/domain/kpi"
	"kpiboard/internal/domain/workforce"
)

// Sealer encrypts archived reports at rest.
type Sealer interface {
	Configured() bool
	Encrypt(plain []byte) ([]byte, error)
}

type Service struct {
	dir    string
	sealer Sealer
	now    func() time.Time
}

func NewService(dir string, sealer Sealer) *Service {
	return &Service{dir: dir, sealer: sealer, now: time.Now}
}

var historyColumns = []struct {
	title string
	width float64
}{
	{"Mês", 30},
	{"TMA", 35},
	{"NPS", 35},
	{"Monitoria", 35},
}

// Render writes the operator indicator report as a PDF.
func (s *Service) Render(w io.Writer, detail analytics.OperatorDetail, goals workforce.TeamGoals) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	op := detail.Operator

	pdf.SetTitle(tr("Indicadores - "+op.Name), false)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, tr("Relatório de Indicadores"))
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	lines := []string{
		fmt.Sprintf("Operador: %s", op.Name),
		fmt.Sprintf("Matrícula: %s", op.Registration),
		fmt.Sprintf("Cargo: %s", op.Role),
		fmt.Sprintf("Vínculo: %s  |  Modalidade: %s", op.LinkType, op.WorkMode),
		fmt.Sprintf("Admissão: %s", op.AdmissionDate),
		fmt.Sprintf("Emitido em: %s", s.now().Format("02/01/2006 15:04")),
	}
	for _, line := range lines {
		pdf.Cell(0, 7, tr(line))
		pdf.Ln(6)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, tr("Médias x Metas"))
	pdf.Ln(9)
	pdf.SetFont("Helvetica", "", 11)
	card := detail.Scorecard
	for _, row := range []struct {
		label string
		stat  analytics.StatCard
	}{
		{"TMA", card.TMA},
		{"NPS", card.NPS},
		{"Monitoria", card.Monitoria},
	} {
		pdf.Cell(0, 7, tr(fmt.Sprintf("%s: %s (meta %s) - %s", row.label, row.stat.Value, row.stat.Goal, statusLabel(row.stat.Status))))
		pdf.Ln(6)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, tr("Histórico mensal"))
	pdf.Ln(9)
	pdf.SetFont("Helvetica", "B", 10)
	for _, col := range historyColumns {
		pdf.CellFormat(col.width, 7, tr(col.title), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Helvetica", "", 10)
	if len(detail.History) == 0 {
		pdf.CellFormat(135, 7, tr("Sem indicadores lançados"), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}
	for _, row := range detail.History {
		tma := "-"
		if kpi.PresentDuration(row.TMA) {
			tma = *row.TMA
		}
		cells := []string{row.Month, tma, row.NPSText, row.MonitoriaText}
		for i, text := range cells {
			pdf.CellFormat(historyColumns[i].width, 7, tr(text), "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, tr("Feedbacks"))
	pdf.Ln(9)
	pdf.SetFont("Helvetica", "", 10)
	if len(op.Feedbacks) == 0 {
		pdf.Cell(0, 6, tr("Nenhum feedback registrado."))
		pdf.Ln(6)
	}
	for _, fb := range op.Feedbacks {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.Cell(0, 6, tr(fmt.Sprintf("%s - %s", fb.Date, fb.SupervisorName)))
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 5, tr(fb.Comment), "", "L", false)
		if fb.ActionPlan != "" {
			pdf.MultiCell(0, 5, tr("Plano de ação: "+fb.ActionPlan), "", "L", false)
		}
		if fb.Responded() {
			pdf.MultiCell(0, 5, tr("Resposta: "+fb.OperatorResponse), "", "L", false)
		}
		pdf.Ln(2)
	}

	pdf.SetFont("Helvetica", "I", 8)
	pdf.Cell(0, 6, tr(fmt.Sprintf("Metas da equipe: TMA %s, NPS %s, Monitoria %s",
		goals.TMA, kpi.FormatDecimal(&goals.NPS), kpi.FormatDecimal(&goals.Monitoria))))

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// Archive renders the report into the reports directory and returns the
// written path. With a configured sealer only the encrypted file is kept.
func (s *Service) Archive(detail analytics.OperatorDetail, goals workforce.TeamGoals) (string, error) {
	if strings.TrimSpace(s.dir) == "" {
		return "", errors.New("reports directory not configured")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := s.Render(&buf, detail, goals); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s.pdf", detail.Operator.Registration, s.now().Format("20060102-150405"))
	filePath := filepath.Join(s.dir, name)

	if s.sealer != nil && s.sealer.Configured() {
		encrypted, err := s.sealer.Encrypt(buf.Bytes())
		if err != nil {
			return "", err
		}
		filePath += ".enc"
		if err := os.WriteFile(filePath, encrypted, 0o600); err != nil {
			return "", err
		}
		return filePath, nil
	}
	if err := os.WriteFile(filePath, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return filePath, nil
}

// FileName is the download name offered to the browser.
func FileName(op workforce.Operator) string {
	return fmt.Sprintf("indicadores-%s.pdf", op.Registration)
}

func statusLabel(status kpi.Status) string {
	switch status {
	case kpi.StatusOK:
		return "dentro da meta"
	case kpi.StatusWarn:
		return "fora da meta"
	}
	return "sem dados"
}
