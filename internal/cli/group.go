package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/epam/modular-api/internal/cli/output"
	"github.com/epam/modular-api/internal/models"
)

func newGroupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage user groups and their policy attachments",
	}
	cmd.AddCommand(
		newGroupAddCmd(a),
		newGroupAddPolicyCmd(a),
		newGroupDeletePolicyCmd(a),
		newGroupDescribeCmd(a),
		newGroupDeleteCmd(a),
	)
	return cmd
}

func newGroupAddCmd(a *app) *cobra.Command {
	var policies []string
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a group with an initial set of policies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				g, err := rt.groups.Add(cmd.Context(), args[0], policies)
				if err != nil {
					return err
				}
				printGroup(a.printer(), g)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&policies, "policies", nil, "policies to attach")
	return cmd
}

func newGroupAddPolicyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add_policy GROUP POLICY",
		Short: "Attach a policy to a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				g, err := rt.groups.AddPolicy(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				printGroup(a.printer(), g)
				return nil
			})
		},
	}
}

func newGroupDeletePolicyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete_policy GROUP POLICY",
		Short: "Detach a policy from a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				g, err := rt.groups.DeletePolicy(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				printGroup(a.printer(), g)
				return nil
			})
		},
	}
}

func newGroupDescribeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe [NAME]",
		Short: "Show one group, or list all groups",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				p := a.printer()
				if len(args) == 1 {
					g, err := rt.groups.Describe(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					printGroup(p, g)
					return nil
				}
				list, err := rt.groups.List(cmd.Context())
				if err != nil {
					return err
				}
				if p.JSONMode() {
					p.JSON(list)
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, g := range list {
					rows = append(rows, []string{
						g.GroupName,
						strings.Join(g.Policies, ","),
						g.State,
						g.ConsistencyStatus,
					})
				}
				p.Table([]string{"GROUP", "POLICIES", "STATE", "CONSISTENCY"}, rows)
				return nil
			})
		},
	}
}

func newGroupDeleteCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.groups.Delete(cmd.Context(), args[0], force); err != nil {
					return err
				}
				a.printer().Printf("group %q deleted\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "detach the group from referencing users first")
	return cmd
}

func printGroup(p *output.Printer, g *models.Group) {
	if p.JSONMode() {
		p.JSON(g)
		return
	}
	p.Describe(g, [][2]string{
		{"Group", g.GroupName},
		{"Policies", strings.Join(g.Policies, ",")},
		{"State", g.State},
		{"Consistency", g.ConsistencyStatus},
		{"Created", g.CreationDate.Format(time.RFC3339)},
		{"Modified", g.LastModificationDate.Format(time.RFC3339)},
	})
}
