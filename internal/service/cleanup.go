package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/internal/ratelimit"
	"github.com/epam/modular-api/internal/repository"
)

// statsRetentionDays is how long per-day usage counters are kept.
const statsRetentionDays = 90

// CleanupService periodically removes expired token allowlist records, stale
// rate-limit windows, and usage counters past retention.
type CleanupService struct {
	store    repository.Store
	limiter  *ratelimit.Limiter
	interval time.Duration
	log      *slog.Logger
	stopCh   chan struct{}
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(store repository.Store, limiter *ratelimit.Limiter, interval time.Duration, log *slog.Logger) *CleanupService {
	return &CleanupService{
		store:    store,
		limiter:  limiter,
		interval: interval,
		log:      log.With("component", "cleanup"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic cleanup in a background goroutine.
func (s *CleanupService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		s.runCleanup(ctx)
		for {
			select {
			case <-ticker.C:
				s.runCleanup(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	s.log.Info("cleanup started", "interval", s.interval)
}

// Stop halts periodic cleanup.
func (s *CleanupService) Stop() {
	close(s.stopCh)
}

func (s *CleanupService) runCleanup(ctx context.Context) {
	start := time.Now()

	tokens, err := s.store.DeleteExpiredTokens(ctx, models.Now())
	if err != nil {
		s.log.Error("failed to delete expired tokens", "error", err)
	}

	var windows int64
	if s.limiter != nil {
		windows, err = s.limiter.Prune(ctx)
		if err != nil {
			s.log.Error("failed to prune rate windows", "error", err)
		}
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -statsRetentionDays).Unix()
	counters, err := s.store.PruneCounters(ctx, models.CounterScopeStats, cutoff)
	if err != nil {
		s.log.Error("failed to prune usage counters", "error", err)
	}

	s.log.Info("cleanup completed",
		"expired_tokens", tokens,
		"rate_windows", windows,
		"stats_counters", counters,
		"duration", time.Since(start))
}
