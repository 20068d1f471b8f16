package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/epam/modular-api/internal/cli/output"
	"github.com/epam/modular-api/internal/models"
)

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts, group membership, and parameter restrictions",
	}
	cmd.AddCommand(
		newUserAddCmd(a),
		newUserDeleteCmd(a),
		newUserDescribeCmd(a),
		newUserBlockCmd(a),
		newUserUnblockCmd(a),
		newUserChangePasswordCmd(a),
		newUserChangeUsernameCmd(a),
		newUserAddToGroupCmd(a),
		newUserRemoveFromGroupCmd(a),
		newUserSetMetaCmd(a),
		newUserUpdateMetaCmd(a),
		newUserDeleteMetaCmd(a),
		newUserResetMetaCmd(a),
		newUserGetMetaCmd(a),
	)
	return cmd
}

func newUserAddCmd(a *app) *cobra.Command {
	var password string
	var groups []string
	cmd := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Create a user",
		Long: "add creates a user in the given groups. With no --password one is " +
			"generated and printed exactly once; it cannot be recovered later.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				u, generated, err := rt.users.Add(cmd.Context(), args[0], password, groups)
				if err != nil {
					return err
				}
				p := a.printer()
				if p.JSONMode() {
					resp := map[string]interface{}{"user": u}
					if generated != "" {
						resp["password"] = generated
					}
					p.JSON(resp)
					return nil
				}
				if generated != "" {
					p.Printf("password: %s\n", generated)
					p.Println("store it now, it is not recoverable")
				}
				printUser(p, u)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "initial password (default: generated)")
	cmd.Flags().StringSliceVar(&groups, "groups", nil, "groups to join")
	return cmd
}

func newUserDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete USERNAME",
		Short: "Delete a user and revoke its tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.users.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				a.printer().Printf("user %q deleted\n", args[0])
				return nil
			})
		},
	}
}

func newUserDescribeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe [USERNAME]",
		Short: "Show one user, or list all users",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				p := a.printer()
				if len(args) == 1 {
					u, err := rt.users.Describe(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					printUser(p, u)
					return nil
				}
				list, err := rt.users.List(cmd.Context())
				if err != nil {
					return err
				}
				if p.JSONMode() {
					p.JSON(list)
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, u := range list {
					rows = append(rows, []string{
						u.Username,
						u.State,
						strings.Join(u.Groups, ","),
						u.ConsistencyStatus,
					})
				}
				p.Table([]string{"USERNAME", "STATE", "GROUPS", "CONSISTENCY"}, rows)
				return nil
			})
		},
	}
}

func newUserBlockCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "block USERNAME",
		Short: "Block a user and revoke its live tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.users.Block(cmd.Context(), args[0], reason); err != nil {
					return err
				}
				a.printer().Printf("user %q blocked\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the user is blocked, kept on the record")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newUserUnblockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock USERNAME",
		Short: "Reactivate a blocked user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.users.Unblock(cmd.Context(), args[0]); err != nil {
					return err
				}
				a.printer().Printf("user %q unblocked\n", args[0])
				return nil
			})
		},
	}
}

func newUserChangePasswordCmd(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "change_password USERNAME",
		Short: "Set a new password and revoke the user's live tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.users.ChangePassword(cmd.Context(), args[0], password); err != nil {
					return err
				}
				a.printer().Printf("password of %q changed, live sessions revoked\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "the new password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserChangeUsernameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "change_username OLD NEW",
		Short: "Rename a user account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.users.ChangeUsername(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				a.printer().Printf("user %q renamed to %q\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newUserAddToGroupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add_to_group USERNAME GROUP",
		Short: "Add a user to a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				u, err := rt.users.AddToGroup(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				printUser(a.printer(), u)
				return nil
			})
		},
	}
}

func newUserRemoveFromGroupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove_from_group USERNAME GROUP",
		Short: "Remove a user from a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				u, err := rt.users.RemoveFromGroup(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				printUser(a.printer(), u)
				return nil
			})
		},
	}
}

func newUserSetMetaCmd(a *app) *cobra.Command {
	var aux bool
	cmd := &cobra.Command{
		Use:   "set_meta_attribute USERNAME OPTION VALUE...",
		Short: "Restrict a command option to the given values for this user",
		Long: "set_meta_attribute lists the values the user may pass for OPTION; anything " +
			"else is rejected at dispatch time. With --aux the single VALUE is instead " +
			"injected into every request as a server-side parameter the user cannot override.",
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, option, values := args[0], args[1], args[2:]
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				var u *models.User
				var err error
				if aux {
					if len(values) != 1 {
						return fmt.Errorf("--aux takes exactly one value")
					}
					u, err = rt.users.SetAuxAttribute(cmd.Context(), username, option, auxValue(values[0]))
				} else {
					u, err = rt.users.SetMetaAttribute(cmd.Context(), username, option, values)
				}
				if err != nil {
					return err
				}
				printMeta(a.printer(), &u.Meta)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&aux, "aux", false, "store an injected parameter instead of an allowed-value list")
	return cmd
}

func newUserUpdateMetaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "update_meta_attribute USERNAME OPTION VALUE...",
		Short: "Replace the allowed values of an already restricted option",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				u, err := rt.users.UpdateMetaAttribute(cmd.Context(), args[0], args[1], args[2:])
				if err != nil {
					return err
				}
				printMeta(a.printer(), &u.Meta)
				return nil
			})
		},
	}
}

func newUserDeleteMetaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete_meta_attribute USERNAME OPTION",
		Short: "Drop the restriction or injected value of one option",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				u, err := rt.users.DeleteMetaAttribute(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				printMeta(a.printer(), &u.Meta)
				return nil
			})
		},
	}
}

func newUserResetMetaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset_meta USERNAME",
		Short: "Drop every restriction and injected value of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				if _, err := rt.users.ResetMeta(cmd.Context(), args[0]); err != nil {
					return err
				}
				a.printer().Printf("meta of %q reset\n", args[0])
				return nil
			})
		},
	}
}

func newUserGetMetaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get_meta USERNAME",
		Short: "Show a user's restrictions and injected values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				meta, err := rt.users.GetMeta(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printMeta(a.printer(), meta)
				return nil
			})
		},
	}
}

// auxValue decodes an injected value. JSON input keeps its type so numbers
// and booleans survive; anything unparseable is stored as the raw string.
func auxValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func printUser(p *output.Printer, u *models.User) {
	if p.JSONMode() {
		p.JSON(u)
		return
	}
	pairs := [][2]string{
		{"Username", u.Username},
		{"State", u.State},
	}
	if u.StateReason != "" {
		pairs = append(pairs, [2]string{"Reason", u.StateReason})
	}
	pairs = append(pairs,
		[2]string{"Groups", strings.Join(u.Groups, ",")},
		[2]string{"Consistency", u.ConsistencyStatus},
		[2]string{"Created", u.CreationDate.Format(time.RFC3339)},
		[2]string{"Modified", u.LastModificationDate.Format(time.RFC3339)},
	)
	p.Describe(u, pairs)
}

func printMeta(p *output.Printer, meta *models.UserMeta) {
	if p.JSONMode() {
		p.JSON(meta)
		return
	}
	if len(meta.AllowedValues) == 0 && len(meta.AuxData) == 0 {
		p.Println("no meta attributes")
		return
	}
	if len(meta.AllowedValues) > 0 {
		rows := make([][]string, 0, len(meta.AllowedValues))
		for option, values := range meta.AllowedValues {
			rows = append(rows, []string{option, strings.Join(values, ",")})
		}
		sortRows(rows)
		p.Table([]string{"OPTION", "ALLOWED VALUES"}, rows)
	}
	if len(meta.AuxData) > 0 {
		rows := make([][]string, 0, len(meta.AuxData))
		for option, value := range meta.AuxData {
			rows = append(rows, []string{option, fmt.Sprintf("%v", value)})
		}
		sortRows(rows)
		p.Println()
		p.Table([]string{"OPTION", "INJECTED VALUE"}, rows)
	}
}
