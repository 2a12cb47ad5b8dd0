package kpi

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"kpiboard/internal/domain/workforce"
)

// Averages holds per-metric means of a KPI collection.
type Averages struct {
	TMA       string  `json:"tma"`
	NPS       float64 `json:"nps"`
	Monitoria float64 `json:"monitoria"`
}

// DurationToSeconds parses "HH:MM:SS". Empty, malformed and the absent
// sentinel all yield 0.
func DurationToSeconds(text string) int {
	text = strings.TrimSpace(text)
	if text == "" || text == workforce.DurationAbsent {
		return 0
	}
	parts := strings.Split(text, ":")
	if len(parts) != 3 {
		return 0
	}
	var values [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return 0
		}
		values[i] = n
	}
	return values[0]*3600 + values[1]*60 + values[2]
}

// SecondsToDuration formats seconds as zero-padded "HH:MM:SS".
func SecondsToDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// PresentDuration reports whether a stored handle time counts as measured.
func PresentDuration(value *string) bool {
	return value != nil && *value != "" && *value != workforce.DurationAbsent
}

// Average averages each metric over the entries where that metric is present.
func Average(kpis []workforce.KPI) Averages {
	var (
		tmaSum, tmaCount int
		npsSum, npsCount float64
		monSum, monCount float64
	)
	for _, k := range kpis {
		if PresentDuration(k.TMA) {
			tmaSum += DurationToSeconds(*k.TMA)
			tmaCount++
		}
		if k.NPS != nil {
			npsSum += *k.NPS
			npsCount++
		}
		if k.Monitoria != nil {
			monSum += *k.Monitoria
			monCount++
		}
	}

	out := Averages{TMA: workforce.DurationAbsent}
	if tmaCount > 0 {
		out.TMA = SecondsToDuration(tmaSum / tmaCount)
	}
	if npsCount > 0 {
		out.NPS = Round2(npsSum / npsCount)
	}
	if monCount > 0 {
		out.Monitoria = Round2(monSum / monCount)
	}
	return out
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DurationMinutes converts "HH:MM:SS" into fractional minutes for chart series.
func DurationMinutes(text string) float64 {
	return Round2(float64(DurationToSeconds(text)) / 60)
}
