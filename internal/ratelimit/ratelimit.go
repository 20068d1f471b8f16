// Package ratelimit enforces the per-(user, route) call budget with a
// fixed-window counter kept in the shared store, so every worker sees the
// same spend.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/internal/pkg/metrics"
	"github.com/epam/modular-api/internal/repository"
)

// pruneKeepWindows is how many past windows the janitor retains. Anything
// older can no longer influence a decision.
const pruneKeepWindows = 10

type Limiter struct {
	counters repository.UsageCounters
	ceiling  int64
	window   time.Duration
	disabled bool
	log      *slog.Logger

	now func() time.Time
}

// New returns a limiter allowing up to ceiling calls per window for each
// (user, route) pair.
func New(counters repository.UsageCounters, ceiling int, window time.Duration, log *slog.Logger) *Limiter {
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		counters: counters,
		ceiling:  int64(ceiling),
		window:   window,
		log:      log.With("component", "ratelimit"),
		now:      time.Now,
	}
}

// Disabled returns a limiter that admits everything.
func Disabled() *Limiter {
	return &Limiter{disabled: true}
}

// Allow spends one call from the window budget. Exceeding the ceiling fails
// with RateLimited and a retry-after hint pointing at the next window. A
// store failure admits the call: the limiter protects backends from floods,
// it must not take the facade down with the database.
func (l *Limiter) Allow(ctx context.Context, username, route string) error {
	if l.disabled {
		return nil
	}
	now := l.now()
	windowStart := now.Truncate(l.window).Unix()
	key := username + "|" + route

	count, err := l.counters.IncrementCounter(ctx, models.CounterScopeRate, key, windowStart)
	if err != nil {
		l.log.Warn("rate counter unavailable, admitting call", "error", err)
		return nil
	}
	if count <= l.ceiling {
		return nil
	}

	metrics.RateLimitRejectionsTotal.Inc()
	retry := time.Unix(windowStart, 0).Add(l.window).Sub(now)
	seconds := int(math.Ceil(retry.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return apierr.Newf(apierr.KindRateLimited,
		"rate limit of %d calls per %s exceeded for %s", l.ceiling, l.window, route).
		WithDetail("retry_after_seconds", strconv.Itoa(seconds))
}

// Prune drops counters older than pruneKeepWindows windows. Run periodically
// by the cleanup janitor.
func (l *Limiter) Prune(ctx context.Context) (int64, error) {
	if l.disabled {
		return 0, nil
	}
	cutoff := l.now().Truncate(l.window).Unix() - pruneKeepWindows*int64(l.window/time.Second)
	return l.counters.PruneCounters(ctx, models.CounterScopeRate, cutoff)
}
