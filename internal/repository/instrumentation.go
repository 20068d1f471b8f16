package repository

import (
	"time"

	"github.com/epam/modular-api/internal/pkg/metrics"
)

// timed runs one store operation and records its duration under the
// operation name. Both backends route every query through it so the
// db_query_duration_seconds histogram covers the whole storage surface.
func timed(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.DBQueryDurationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return err
}
