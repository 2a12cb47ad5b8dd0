package analytics

import (
	"fmt"
	"sort"
	"strings"

	"kpiboard/internal/domain/kpi"
	"kpiboard/internal/domain/workforce"
)

// MonthNames labels the points of a year series.
var MonthNames = [12]string{"Jan", "Fev", "Mar", "Abr", "Mai", "Jun", "Jul", "Ago", "Set", "Out", "Nov", "Dez"}

// MonthKey formats the "YYYY-MM" key KPIs are filed under.
func MonthKey(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

func Active(ops []workforce.Operator) []workforce.Operator {
	out := make([]workforce.Operator, 0, len(ops))
	for _, op := range ops {
		if op.Active {
			out = append(out, op)
		}
	}
	return out
}

// MonthKPIs flattens the entries of active operators filed under month.
func MonthKPIs(ops []workforce.Operator, month string) []workforce.KPI {
	var out []workforce.KPI
	for _, op := range Active(ops) {
		out = append(out, kpisOf(op, month)...)
	}
	return out
}

func kpisOf(op workforce.Operator, month string) []workforce.KPI {
	var out []workforce.KPI
	for _, k := range op.KPIs {
		if k.Month == month {
			out = append(out, k)
		}
	}
	return out
}

// TeamStats averages every active operator's entries for month.
func TeamStats(ops []workforce.Operator, month string) kpi.Averages {
	return kpi.Average(MonthKPIs(ops, month))
}

// OperatorsWithKPIs counts active operators with at least one entry in month.
func OperatorsWithKPIs(ops []workforce.Operator, month string) int {
	n := 0
	for _, op := range Active(ops) {
		if len(kpisOf(op, month)) > 0 {
			n++
		}
	}
	return n
}

type SeriesPoint struct {
	Name      string  `json:"name"`
	Month     string  `json:"month"`
	TMA       float64 `json:"tma"`
	NPS       float64 `json:"nps"`
	Monitoria float64 `json:"monitoria"`
}

// YearSeries returns twelve monthly team averages, handle time in minutes.
func YearSeries(ops []workforce.Operator, year int) []SeriesPoint {
	out := make([]SeriesPoint, 0, len(MonthNames))
	for i, name := range MonthNames {
		key := MonthKey(year, i+1)
		stats := TeamStats(ops, key)
		out = append(out, SeriesPoint{
			Name:      name,
			Month:     key,
			TMA:       kpi.DurationMinutes(stats.TMA),
			NPS:       stats.NPS,
			Monitoria: stats.Monitoria,
		})
	}
	return out
}

type Performer struct {
	Registration string   `json:"registration"`
	Name         string   `json:"name"`
	PhotoURL     string   `json:"photoUrl,omitempty"`
	Score        float64  `json:"score"`
	TMA          *string  `json:"tma"`
	NPS          *float64 `json:"nps"`
	Monitoria    *float64 `json:"monitoria"`
}

// TopPerformers ranks active operators by the mean of NPS and monitoria in
// their first entry for month. Missing scores count as zero.
func TopPerformers(ops []workforce.Operator, month string, n int) []Performer {
	var out []Performer
	for _, op := range Active(ops) {
		entries := kpisOf(op, month)
		if len(entries) == 0 {
			continue
		}
		k := entries[0]
		out = append(out, Performer{
			Registration: op.Registration,
			Name:         op.Name,
			PhotoURL:     op.PhotoURL,
			Score:        kpi.Round2((value(k.NPS) + value(k.Monitoria)) / 2),
			TMA:          k.TMA,
			NPS:          k.NPS,
			Monitoria:    k.Monitoria,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return limit(out, n)
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

type RankingEntry struct {
	Registration  string  `json:"registration"`
	Name          string  `json:"name"`
	ShortName     string  `json:"shortName"`
	PhotoURL      string  `json:"photoUrl,omitempty"`
	AvgNPS        float64 `json:"avgNps"`
	AvgMonitoria  float64 `json:"avgMonitoria"`
	AvgTMA        string  `json:"avgTma"`
	AvgTMASeconds int     `json:"avgTmaSeconds"`
}

// Rankings computes per-operator averages for month. Operators without
// entries in that month are left out.
func Rankings(ops []workforce.Operator, month string) []RankingEntry {
	var out []RankingEntry
	for _, op := range Active(ops) {
		entries := kpisOf(op, month)
		if len(entries) == 0 {
			continue
		}
		stats := kpi.Average(entries)
		short := op.Name
		if fields := strings.Fields(op.Name); len(fields) > 0 {
			short = fields[0]
		}
		out = append(out, RankingEntry{
			Registration:  op.Registration,
			Name:          op.Name,
			ShortName:     short,
			PhotoURL:      op.PhotoURL,
			AvgNPS:        stats.NPS,
			AvgMonitoria:  stats.Monitoria,
			AvgTMA:        stats.TMA,
			AvgTMASeconds: kpi.DurationToSeconds(stats.TMA),
		})
	}
	return out
}

type Metric string

const (
	MetricMonitoria Metric = "monitoria"
	MetricNPS       Metric = "nps"
	MetricTMA       Metric = "tma"
)

type Mode string

const (
	ModeBest  Mode = "best"
	ModeWorst Mode = "worst"
)

// TopN orders entries for a chart. Best means highest scores or lowest
// handle time.
func TopN(entries []RankingEntry, metric Metric, mode Mode, n int) []RankingEntry {
	out := append([]RankingEntry(nil), entries...)
	key := func(e RankingEntry) float64 {
		switch metric {
		case MetricTMA:
			return float64(e.AvgTMASeconds)
		case MetricNPS:
			return e.AvgNPS
		default:
			return e.AvgMonitoria
		}
	}
	ascending := (metric == MetricTMA) == (mode != ModeWorst)
	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return key(out[i]) < key(out[j])
		}
		return key(out[i]) > key(out[j])
	})
	return limit(out, n)
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	if items == nil {
		return []T{}
	}
	return items
}

// Matches applies the roster search: case-insensitive on name, literal on
// registration.
func Matches(op workforce.Operator, term string) bool {
	term = strings.TrimSpace(term)
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(op.Name), strings.ToLower(term)) ||
		strings.Contains(op.Registration, term)
}

// Pending lists active operators with no KPI entries at all.
func Pending(ops []workforce.Operator, search string) []workforce.Operator {
	out := []workforce.Operator{}
	for _, op := range ops {
		if op.Active && len(op.KPIs) == 0 && Matches(op, search) {
			out = append(out, op)
		}
	}
	return out
}

func PendingCount(ops []workforce.Operator) int {
	return len(Pending(ops, ""))
}

type UnreadResponse struct {
	Registration string             `json:"registration"`
	Name         string             `json:"name"`
	Feedback     workforce.Feedback `json:"feedback"`
}

// UnreadResponses lists operator answers the supervisors have not seen.
func UnreadResponses(ops []workforce.Operator) []UnreadResponse {
	out := []UnreadResponse{}
	for _, op := range ops {
		for _, fb := range op.Feedbacks {
			if fb.Unread() {
				out = append(out, UnreadResponse{Registration: op.Registration, Name: op.Name, Feedback: fb})
			}
		}
	}
	return out
}

// FilterRoster applies the search and work mode filters. An empty mode
// matches all.
func FilterRoster(ops []workforce.Operator, search string, mode workforce.WorkMode) []workforce.Operator {
	out := []workforce.Operator{}
	for _, op := range ops {
		if (mode == "" || op.WorkMode == mode) && Matches(op, search) {
			out = append(out, op)
		}
	}
	return out
}
