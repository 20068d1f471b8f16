package cli

import (
	"github.com/spf13/cobra"

	"github.com/epam/modular-api/internal/version"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := a.printer()
			if p.JSONMode() {
				p.JSON(map[string]string{"version": version.Server})
				return nil
			}
			p.Printf("modular-api %s\n", version.Server)
			return nil
		},
	}
}
