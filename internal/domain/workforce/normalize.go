package workforce

import (
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// OperatorRow is an operator as stored, where every column except the key
// may be NULL. Backup documents decode into the same shape.
type OperatorRow struct {
	Registration  string     `json:"registration"`
	UserID        *string    `json:"user_id"`
	Name          *string    `json:"name"`
	AdmissionDate *string    `json:"admissionDate"`
	Role          *string    `json:"role"`
	LinkType      *string    `json:"linkType"`
	CostCenter    *string    `json:"costCenter"`
	WorkMode      *string    `json:"workMode"`
	BirthDate     *string    `json:"birthDate"`
	PhotoURL      *string    `json:"photoUrl"`
	Active        *bool      `json:"active"`
	KPIs          []KPI      `json:"kpis"`
	Feedbacks     []Feedback `json:"feedbacks"`
	Documents     []Document `json:"documents"`
}

// NormalizeOperator turns a backend row into a fully populated record.
func NormalizeOperator(row OperatorRow) Operator {
	op := Operator{
		Registration:  strings.TrimSpace(row.Registration),
		UserID:        deref(row.UserID),
		Name:          deref(row.Name),
		AdmissionDate: deref(row.AdmissionDate),
		Role:          deref(row.Role),
		LinkType:      LinkType(deref(row.LinkType)),
		CostCenter:    deref(row.CostCenter),
		WorkMode:      WorkMode(deref(row.WorkMode)),
		BirthDate:     deref(row.BirthDate),
		PhotoURL:      deref(row.PhotoURL),
		Active:        true,
		KPIs:          row.KPIs,
		Feedbacks:     row.Feedbacks,
		Documents:     row.Documents,
	}
	if row.Active != nil {
		op.Active = *row.Active
	}
	return Normalize(op)
}

// Normalize fills absent collections of an already typed record.
func Normalize(op Operator) Operator {
	if op.KPIs == nil {
		op.KPIs = []KPI{}
	}
	if op.Feedbacks == nil {
		op.Feedbacks = []Feedback{}
	}
	if op.Documents == nil {
		op.Documents = []Document{}
	}
	return op
}

func NormalizeAll(ops []Operator) []Operator {
	out := make([]Operator, len(ops))
	for i, op := range ops {
		out[i] = Normalize(op)
	}
	return out
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

var (
	collatorMu sync.Mutex
	collator   = collate.New(language.BrazilianPortuguese, collate.IgnoreCase)
)

// CompareNames orders names the way the roster is displayed.
func CompareNames(a, b string) int {
	collatorMu.Lock()
	defer collatorMu.Unlock()
	return collator.CompareString(a, b)
}

// SortByName sorts in place by collated name.
func SortByName(ops []Operator) {
	sort.SliceStable(ops, func(i, j int) bool {
		return CompareNames(ops[i].Name, ops[j].Name) < 0
	})
}

// InsertSorted appends op and re-sorts the collection by name.
func InsertSorted(ops []Operator, op Operator) []Operator {
	out := make([]Operator, 0, len(ops)+1)
	out = append(out, ops...)
	out = append(out, op)
	SortByName(out)
	return out
}
