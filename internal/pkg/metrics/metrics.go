// Package metrics provides Prometheus metrics for the Modular API facade
// (RED plus dispatcher outcomes). Scrapeable via /metrics; dashboards and
// alerts can rely on these names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "modular_api"

var (
	// HTTPRequestTotal counts requests by method, path, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// DispatchTotal counts dispatched module commands by outcome (error kind or "ok").
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Total dispatched module commands by module, command, and outcome.",
		},
		[]string{"module", "command", "outcome"},
	)

	// BackendDurationSeconds is the latency of backend invocations.
	BackendDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_duration_seconds",
			Help:      "Backend invocation duration in seconds by module.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"module"},
	)

	// AuthFailuresTotal counts rejected authentications by kind.
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total failed authentication attempts by failure kind.",
		},
		[]string{"kind"},
	)

	// RateLimitRejectionsTotal counts requests rejected by the fixed-window limiter.
	RateLimitRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Total requests rejected by the per-user rate limiter.",
		},
	)

	// PolicyDenialsTotal counts DENY decisions from the policy engine.
	PolicyDenialsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_denials_total",
			Help:      "Total requests denied by policy evaluation.",
		},
	)

	// AuditRecordsTotal counts appended audit records.
	AuditRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_records_total",
			Help:      "Total audit records appended.",
		},
	)

	// CatalogCommands reports the number of commands in the active catalog.
	CatalogCommands = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_commands",
			Help:      "Number of commands in the active command catalog.",
		},
	)

	// DBQueryDurationSeconds is store operation latency by operation name.
	DBQueryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Document store operation duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"operation"},
	)
)
