package models

import "time"

// Counter scopes. Rate counters live one window and are pruned aggressively;
// stats counters aggregate command usage per day.
const (
	CounterScopeRate  = "rate"
	CounterScopeStats = "stats"
)

// UsageCounter is a shared fixed-window counter document. Idempotency comes
// from the (scope, key, window_start) primary key: concurrent workers
// increment the same row instead of coordinating.
type UsageCounter struct {
	Scope       string    `json:"scope" db:"scope"`
	CounterKey  string    `json:"counter_key" db:"counter_key"`
	WindowStart int64     `json:"window_start" db:"window_start"`
	Count       int64     `json:"count" db:"count"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
