package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func newSimulatorCmd(a *app) *cobra.Command {
	var kind, subject, module, command string
	cmd := &cobra.Command{
		Use:   "policy_simulator",
		Short: "Explain what the policy engine would decide, without dispatching",
		Long: "policy_simulator evaluates the effective statements of a user, a single " +
			"group, or a single policy against a module and command path, and reports " +
			"the decision together with the statement that produced it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				path := strings.Fields(command)
				res, err := rt.perms.Simulate(cmd.Context(), kind, subject, module, path)
				if err != nil {
					return err
				}
				p := a.printer()
				if p.JSONMode() {
					p.JSON(res)
					return nil
				}
				decision := "denied"
				if res.Allowed {
					decision = "allowed"
				}
				pairs := [][2]string{
					{"Subject", res.SubjectKind + " " + res.Subject},
					{"Module", res.Module},
					{"Command", res.Command},
					{"Decision", decision},
				}
				if res.Policy != "" {
					pairs = append(pairs, [2]string{"Matched", res.Effect + " in policy " + res.Policy})
				} else {
					pairs = append(pairs, [2]string{"Matched", "nothing, default deny"})
				}
				p.Describe(res, pairs)
				for _, w := range res.Warnings {
					p.Printf("warning: %s\n", w)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "user", "subject kind: user, group, or policy")
	cmd.Flags().StringVar(&subject, "subject", "", "subject name")
	cmd.Flags().StringVar(&module, "module", "", "module name as used in statements")
	cmd.Flags().StringVar(&command, "command", "", "command path, space separated (empty = module root)")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("module")
	return cmd
}
