package kpi

import (
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"kpiboard/internal/domain/workforce"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusWarn    Status = "warn"
	StatusNeutral Status = "neutral"
)

type Direction string

const (
	// DirectionLower is used for handle time.
	DirectionLower Direction = "lower"
	// DirectionHigher is used for scores.
	DirectionHigher Direction = "higher"
)

// StatusClass compares a displayed value against its goal. Absent values,
// "-", the duration sentinel and zero are neutral.
func StatusClass(value, goal string, dir Direction) Status {
	value = strings.TrimSpace(value)
	switch value {
	case "", "-", workforce.DurationAbsent:
		return StatusNeutral
	}

	if dir == DirectionLower {
		seconds := DurationToSeconds(value)
		if seconds == 0 {
			return StatusNeutral
		}
		if seconds <= DurationToSeconds(goal) {
			return StatusOK
		}
		return StatusWarn
	}

	v, err := strconv.ParseFloat(value, 64)
	if err != nil || v == 0 {
		return StatusNeutral
	}
	g, err := strconv.ParseFloat(strings.TrimSpace(goal), 64)
	if err != nil {
		return StatusWarn
	}
	if v >= g {
		return StatusOK
	}
	return StatusWarn
}

func DurationStatus(value *string, goal string) Status {
	if !PresentDuration(value) {
		return StatusNeutral
	}
	return StatusClass(*value, goal, DirectionLower)
}

func ScoreStatus(value *float64, goal float64) Status {
	if value == nil || *value == 0 {
		return StatusNeutral
	}
	if *value >= goal {
		return StatusOK
	}
	return StatusWarn
}

var (
	printerMu sync.Mutex
	printer   = message.NewPrinter(language.BrazilianPortuguese)
)

// FormatDecimal renders a score with Brazilian separators and at most two
// fraction digits. Absent values render as "-".
func FormatDecimal(value *float64) string {
	if value == nil {
		return "-"
	}
	printerMu.Lock()
	defer printerMu.Unlock()
	return printer.Sprint(number.Decimal(*value, number.MaxFractionDigits(2)))
}
