package repository

import (
	"fmt"
	"strings"

	"github.com/epam/modular-api/internal/models"
)

// defaultAuditLimit bounds unfiltered audit queries so a busy installation
// cannot pull the whole journal in one call.
const defaultAuditLimit = 1000

// buildAuditQuery renders the audit SELECT for either dialect. Timestamps are
// stored as RFC3339 UTC text, so lexicographic comparison matches
// chronological order and the range conditions stay plain string comparisons.
func buildAuditQuery(q models.AuditQuery, ph func(n int) string) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(expr string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, ph(len(args))))
	}

	if !q.From.IsZero() {
		add("timestamp >= %s", models.CanonicalTime(q.From))
	}
	if !q.To.IsZero() {
		add("timestamp <= %s", models.CanonicalTime(q.To))
	}
	if q.Group != "" {
		add("module_group = %s", q.Group)
	}
	if q.Command != "" {
		add("command = %s", q.Command)
	}

	query := "SELECT * FROM modular_audit"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	args = append(args, limit)
	query += " ORDER BY timestamp DESC, id LIMIT " + ph(len(args))

	return query, args
}

func nextPlaceholderSQLite(int) string { return "?" }

func nextPlaceholderPostgres(n int) string { return fmt.Sprintf("$%d", n) }
