package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/epam/modular-api/internal/service"
)

// initPasswordEnv overrides the seeded admin password without putting it on
// the command line.
const initPasswordEnv = "MODULAR_API_INIT_PASSWORD"

func newInitCmd(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Seed the admin policy, group, and user for a fresh deployment",
		Long: "init creates admin_policy (full access), admin_group, and the admin user. " +
			"With no password given one is generated and printed exactly once; it cannot be recovered later. " +
			"Re-running against an initialized deployment fails instead of resetting the admin password.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv(initPasswordEnv)
			}
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				generated, err := service.Initialize(cmd.Context(), rt.policies, rt.groups, rt.users, password, rt.log)
				if err != nil {
					return err
				}
				p := a.printer()
				if p.JSONMode() {
					resp := map[string]string{"username": service.AdminUsername}
					if generated != "" {
						resp["password"] = generated
					}
					p.JSON(resp)
					return nil
				}
				if generated != "" {
					p.Printf("admin password: %s\n", generated)
					p.Println("store it now, it is not recoverable")
				} else {
					p.Printf("user %q seeded with the supplied password\n", service.AdminUsername)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "admin password (default: "+initPasswordEnv+" or generated)")
	return cmd
}
