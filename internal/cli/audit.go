package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/epam/modular-api/internal/models"
)

func newAuditCmd(a *app) *cobra.Command {
	var (
		from, to       string
		group, command string
		invalidOnly    bool
		limit          int
		stats          bool
		days           int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit trail, newest first",
		Long: "audit lists dispatch records matching the given filters. Integrity is " +
			"recomputed on every read; --invalid-only keeps the records whose stored " +
			"hash no longer matches. --stats switches to the per-command usage report.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				p := a.printer()
				if stats {
					report, err := rt.stats.Report(cmd.Context(), days)
					if err != nil {
						return err
					}
					if p.JSONMode() {
						p.JSON(report)
						return nil
					}
					rows := make([][]string, 0, len(report))
					for _, r := range report {
						rows = append(rows, []string{r.Module, r.Command, strconv.FormatInt(r.Count, 10)})
					}
					p.Table([]string{"MODULE", "COMMAND", "COUNT"}, rows)
					return nil
				}

				q := models.AuditQuery{
					Group:       group,
					Command:     command,
					InvalidOnly: invalidOnly,
					Limit:       limit,
				}
				var err error
				if q.From, err = parseTimeFlag(from); err != nil {
					return err
				}
				if q.To, err = parseTimeFlag(to); err != nil {
					return err
				}
				records, err := rt.audits.Query(cmd.Context(), q)
				if err != nil {
					return err
				}
				if p.JSONMode() {
					p.JSON(records)
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, r := range records {
					rows = append(rows, []string{
						r.Timestamp.Format(time.RFC3339),
						r.Username,
						r.Group,
						r.Command,
						r.Result,
						r.ConsistencyStatus,
					})
				}
				p.Table([]string{"TIMESTAMP", "USERNAME", "GROUP", "COMMAND", "RESULT", "CONSISTENCY"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "lower timestamp bound (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "upper timestamp bound (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&group, "group", "", "filter by module group")
	cmd.Flags().StringVar(&command, "command", "", "filter by command name")
	cmd.Flags().BoolVar(&invalidOnly, "invalid-only", false, "only records failing the integrity check")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records to return (0 = server default)")
	cmd.Flags().BoolVar(&stats, "stats", false, "print the usage report instead of audit records")
	cmd.Flags().IntVar(&days, "days", 7, "usage report range in days, with --stats")
	return cmd
}

func parseTimeFlag(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q, want RFC3339 or YYYY-MM-DD", s)
}
