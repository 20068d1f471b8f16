package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/internal/repository"
)

// CommandUsage is one aggregated row of the usage report.
type CommandUsage struct {
	Module  string `json:"module"`
	Command string `json:"command"`
	Count   int64  `json:"count"`
}

// StatsService aggregates per-day command usage counters. Recording is
// best-effort: a stats failure never fails the request that triggered it.
type StatsService interface {
	Record(ctx context.Context, module, command string)
	Report(ctx context.Context, days int) ([]CommandUsage, error)
}

type statsService struct {
	counters repository.UsageCounters
	log      *slog.Logger

	now func() time.Time
}

// NewStatsService creates a new stats service.
func NewStatsService(counters repository.UsageCounters, log *slog.Logger) StatsService {
	return &statsService{
		counters: counters,
		log:      log.With("component", "stats_service"),
		now:      time.Now,
	}
}

func (s *statsService) Record(ctx context.Context, module, command string) {
	key := module + "|" + command
	if _, err := s.counters.IncrementCounter(ctx, models.CounterScopeStats, key, dayStart(s.now())); err != nil {
		s.log.Warn("failed to record command usage", "module", module, "command", command, "error", err)
	}
}

// Report aggregates usage over the last days calendar days including today,
// sorted by count descending, then module and command for a stable order.
func (s *statsService) Report(ctx context.Context, days int) ([]CommandUsage, error) {
	if days < 1 {
		days = 1
	}
	since := dayStart(s.now().AddDate(0, 0, -(days - 1)))
	counters, err := s.counters.ListCounters(ctx, models.CounterScopeStats, since)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int64)
	for _, c := range counters {
		totals[c.CounterKey] += c.Count
	}
	report := make([]CommandUsage, 0, len(totals))
	for key, count := range totals {
		module, command, _ := strings.Cut(key, "|")
		report = append(report, CommandUsage{Module: module, Command: command, Count: count})
	}
	sort.Slice(report, func(i, j int) bool {
		if report[i].Count != report[j].Count {
			return report[i].Count > report[j].Count
		}
		if report[i].Module != report[j].Module {
			return report[i].Module < report[j].Module
		}
		return report[i].Command < report[j].Command
	})
	return report, nil
}

func dayStart(t time.Time) int64 {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()
}
