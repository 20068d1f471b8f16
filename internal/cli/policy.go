package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/epam/modular-api/internal/cli/output"
	"github.com/epam/modular-api/internal/models"
)

func newPolicyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage access policies",
	}
	cmd.AddCommand(
		newPolicyAddCmd(a),
		newPolicyUpdateCmd(a),
		newPolicyDescribeCmd(a),
		newPolicyDeleteCmd(a),
	)
	return cmd
}

func newPolicyAddCmd(a *app) *cobra.Command {
	var statements, fromFile string
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a policy from a JSON statement list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stmts, err := readStatements(statements, fromFile)
			if err != nil {
				return err
			}
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				p, err := rt.policies.Add(cmd.Context(), args[0], stmts)
				if err != nil {
					return err
				}
				printPolicy(a.printer(), p)
				return nil
			})
		},
	}
	addStatementFlags(cmd, &statements, &fromFile)
	return cmd
}

func newPolicyUpdateCmd(a *app) *cobra.Command {
	var statements, fromFile string
	cmd := &cobra.Command{
		Use:   "update NAME",
		Short: "Replace the statements of an existing policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stmts, err := readStatements(statements, fromFile)
			if err != nil {
				return err
			}
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				p, err := rt.policies.Update(cmd.Context(), args[0], stmts)
				if err != nil {
					return err
				}
				printPolicy(a.printer(), p)
				return nil
			})
		},
	}
	addStatementFlags(cmd, &statements, &fromFile)
	return cmd
}

func newPolicyDescribeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe [NAME]",
		Short: "Show one policy, or list all policies",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				p := a.printer()
				if len(args) == 1 {
					pol, err := rt.policies.Describe(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					printPolicy(p, pol)
					return nil
				}
				list, err := rt.policies.List(cmd.Context())
				if err != nil {
					return err
				}
				if p.JSONMode() {
					p.JSON(list)
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, pol := range list {
					rows = append(rows, []string{
						pol.PolicyName,
						strconv.Itoa(len(pol.Statements)),
						pol.State,
						pol.ConsistencyStatus,
					})
				}
				p.Table([]string{"POLICY", "STATEMENTS", "STATE", "CONSISTENCY"}, rows)
				return nil
			})
		},
	}
}

func newPolicyDeleteCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.policies.Delete(cmd.Context(), args[0], force); err != nil {
					return err
				}
				a.printer().Printf("policy %q deleted\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "detach the policy from referencing groups first")
	return cmd
}

func addStatementFlags(cmd *cobra.Command, statements, fromFile *string) {
	cmd.Flags().StringVar(statements, "statements", "", "statement list as inline JSON")
	cmd.Flags().StringVar(fromFile, "from-file", "", "path to a JSON file with the statement list")
}

// readStatements decodes the statement list from the inline flag or the file
// flag. Exactly one source must be given.
func readStatements(inline, fromFile string) ([]models.PolicyStatement, error) {
	if (inline == "") == (fromFile == "") {
		return nil, fmt.Errorf("exactly one of --statements or --from-file is required")
	}
	raw := []byte(inline)
	if fromFile != "" {
		b, err := os.ReadFile(fromFile)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	var stmts []models.PolicyStatement
	if err := json.Unmarshal(raw, &stmts); err != nil {
		return nil, fmt.Errorf("parse statements: %w", err)
	}
	return stmts, nil
}

func printPolicy(p *output.Printer, pol *models.Policy) {
	if p.JSONMode() {
		p.JSON(pol)
		return
	}
	p.Describe(pol, [][2]string{
		{"Policy", pol.PolicyName},
		{"State", pol.State},
		{"Consistency", pol.ConsistencyStatus},
		{"Created", pol.CreationDate.Format(time.RFC3339)},
		{"Modified", pol.LastModificationDate.Format(time.RFC3339)},
	})
	rows := make([][]string, 0, len(pol.Statements))
	for _, s := range pol.Statements {
		rows = append(rows, []string{s.Effect, s.Module, strings.Join(s.Resources, ","), s.Description})
	}
	p.Println()
	p.Table([]string{"EFFECT", "MODULE", "RESOURCES", "DESCRIPTION"}, rows)
}
