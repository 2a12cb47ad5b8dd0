package analytics

import (
	"sort"

	"kpiboard/internal/domain/kpi"
	"kpiboard/internal/domain/workforce"
)

// StatCard is one averaged metric next to its goal.
type StatCard struct {
	Value  string     `json:"value"`
	Goal   string     `json:"goal"`
	Status kpi.Status `json:"status"`
}

type Scorecard struct {
	TMA       StatCard `json:"tma"`
	NPS       StatCard `json:"nps"`
	Monitoria StatCard `json:"monitoria"`
}

// NewScorecard classifies averages against the team goals.
func NewScorecard(avg kpi.Averages, goals workforce.TeamGoals) Scorecard {
	nps, monitoria := avg.NPS, avg.Monitoria
	return Scorecard{
		TMA: StatCard{
			Value:  avg.TMA,
			Goal:   goals.TMA,
			Status: kpi.StatusClass(avg.TMA, goals.TMA, kpi.DirectionLower),
		},
		NPS: StatCard{
			Value:  kpi.FormatDecimal(&nps),
			Goal:   kpi.FormatDecimal(&goals.NPS),
			Status: kpi.ScoreStatus(&nps, goals.NPS),
		},
		Monitoria: StatCard{
			Value:  kpi.FormatDecimal(&monitoria),
			Goal:   kpi.FormatDecimal(&goals.Monitoria),
			Status: kpi.ScoreStatus(&monitoria, goals.Monitoria),
		},
	}
}

type Dashboard struct {
	Month             string        `json:"month"`
	ActiveOperators   int           `json:"activeOperators"`
	OperatorsWithKPIs int           `json:"operatorsWithKpis"`
	Averages          kpi.Averages  `json:"averages"`
	Scorecard         Scorecard     `json:"scorecard"`
	Series            []SeriesPoint `json:"series"`
	TopPerformers     []Performer   `json:"topPerformers"`
	PendingCount      int           `json:"pendingCount"`
	UnreadCount       int           `json:"unreadCount"`
}

func BuildDashboard(ops []workforce.Operator, goals workforce.TeamGoals, year, month int) Dashboard {
	key := MonthKey(year, month)
	stats := TeamStats(ops, key)
	return Dashboard{
		Month:             key,
		ActiveOperators:   len(Active(ops)),
		OperatorsWithKPIs: OperatorsWithKPIs(ops, key),
		Averages:          stats,
		Scorecard:         NewScorecard(stats, goals),
		Series:            YearSeries(ops, year),
		TopPerformers:     TopPerformers(ops, key, 5),
		PendingCount:      PendingCount(ops),
		UnreadCount:       len(UnreadResponses(ops)),
	}
}

// ChartModes selects best or worst ordering for each indicator chart.
type ChartModes struct {
	Monitoria Mode
	NPS       Mode
	TMA       Mode
}

type Indicators struct {
	Month     string         `json:"month"`
	Averages  kpi.Averages   `json:"averages"`
	Scorecard Scorecard      `json:"scorecard"`
	Monitoria []RankingEntry `json:"monitoria"`
	NPS       []RankingEntry `json:"nps"`
	TMA       []RankingEntry `json:"tma"`
	List      []RankingEntry `json:"list"`
}

func BuildIndicators(ops []workforce.Operator, goals workforce.TeamGoals, year, month int, search string, modes ChartModes) Indicators {
	key := MonthKey(year, month)
	stats := TeamStats(ops, key)
	ranking := Rankings(ops, key)

	list := []RankingEntry{}
	for _, e := range ranking {
		if Matches(workforce.Operator{Name: e.Name, Registration: e.Registration}, search) {
			list = append(list, e)
		}
	}
	return Indicators{
		Month:     key,
		Averages:  stats,
		Scorecard: NewScorecard(stats, goals),
		Monitoria: TopN(ranking, MetricMonitoria, modes.Monitoria, 10),
		NPS:       TopN(ranking, MetricNPS, modes.NPS, 10),
		TMA:       TopN(ranking, MetricTMA, modes.TMA, 10),
		List:      list,
	}
}

// TVBoard averages every entry of every operator, regardless of month.
type TVBoard struct {
	Averages  kpi.Averages `json:"averages"`
	Scorecard Scorecard    `json:"scorecard"`
}

func BuildTVBoard(ops []workforce.Operator, goals workforce.TeamGoals) TVBoard {
	var all []workforce.KPI
	for _, op := range ops {
		all = append(all, op.KPIs...)
	}
	stats := kpi.Average(all)
	return TVBoard{Averages: stats, Scorecard: NewScorecard(stats, goals)}
}

// KPIRow is a history entry classified against the goals.
type KPIRow struct {
	workforce.KPI
	TMAStatus       kpi.Status `json:"tmaStatus"`
	NPSStatus       kpi.Status `json:"npsStatus"`
	MonitoriaStatus kpi.Status `json:"monitoriaStatus"`
	NPSText         string     `json:"npsText"`
	MonitoriaText   string     `json:"monitoriaText"`
}

type OperatorDetail struct {
	Operator     workforce.Operator `json:"operator"`
	Averages     kpi.Averages       `json:"averages"`
	Scorecard    Scorecard          `json:"scorecard"`
	History      []KPIRow           `json:"history"`
	UnreadCount  int                `json:"unreadCount"`
	PendingReply int                `json:"pendingReply"`
}

// BuildOperatorDetail summarizes one operator's history, newest month first.
func BuildOperatorDetail(op workforce.Operator, goals workforce.TeamGoals) OperatorDetail {
	entries := append([]workforce.KPI(nil), op.KPIs...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Month > entries[j].Month })

	history := make([]KPIRow, 0, len(entries))
	for _, k := range entries {
		history = append(history, KPIRow{
			KPI:             k,
			TMAStatus:       kpi.DurationStatus(k.TMA, goals.TMA),
			NPSStatus:       kpi.ScoreStatus(k.NPS, goals.NPS),
			MonitoriaStatus: kpi.ScoreStatus(k.Monitoria, goals.Monitoria),
			NPSText:         kpi.FormatDecimal(k.NPS),
			MonitoriaText:   kpi.FormatDecimal(k.Monitoria),
		})
	}

	stats := kpi.Average(op.KPIs)
	detail := OperatorDetail{
		Operator:  op,
		Averages:  stats,
		Scorecard: NewScorecard(stats, goals),
		History:   history,
	}
	for _, fb := range op.Feedbacks {
		if fb.Unread() {
			detail.UnreadCount++
		}
		if !fb.Responded() {
			detail.PendingReply++
		}
	}
	return detail
}
