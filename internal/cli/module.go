package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/epam/modular-api/internal/cli/output"
	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/internal/registry"
)

func newInstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "install SOURCE_DIR",
		Short: "Install a module from a directory holding its descriptor and command tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				mod, err := rt.registry.Install(args[0])
				if err != nil {
					return err
				}
				printModule(a.printer(), mod)
				return nil
			})
		},
	}
}

func newUninstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall MODULE",
		Short: "Remove an installed module and its mounted commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				if err := rt.registry.Uninstall(args[0]); err != nil {
					return err
				}
				a.printer().Printf("module %q uninstalled\n", args[0])
				return nil
			})
		},
	}
}

func newDescribeCmd(a *app) *cobra.Command {
	var module string
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Show the installed command catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				p := a.printer()
				if module != "" {
					return describeModule(p, rt, module)
				}
				mods := rt.registry.Catalog().Modules()
				if p.JSONMode() {
					p.JSON(mods)
					return nil
				}
				rows := make([][]string, 0, len(mods))
				for _, m := range mods {
					rows = append(rows, []string{
						m.ModuleName,
						m.Version,
						m.MountPoint,
						strconv.Itoa(m.Commands),
					})
				}
				sortRows(rows)
				p.Table([]string{"MODULE", "VERSION", "MOUNT", "COMMANDS"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&module, "module", "", "show the full command tree of one module")
	return cmd
}

func describeModule(p *output.Printer, rt *runtime, name string) error {
	for _, meta := range rt.registry.Catalog().Meta(nil) {
		if meta.Module != name {
			continue
		}
		if p.JSONMode() {
			p.JSON(meta)
			return nil
		}
		p.Describe(meta, [][2]string{
			{"Module", meta.Module},
			{"Version", meta.Version},
			{"Mount", meta.MountPoint},
			{"Description", meta.Description},
		})
		var rows [][]string
		collectCommandRows(meta.Commands, meta.Groups, &rows)
		sortRows(rows)
		p.Println()
		p.Table([]string{"PATH", "METHOD", "NAME", "DESCRIPTION"}, rows)
		return nil
	}
	return fmt.Errorf("module %q is not installed", name)
}

func collectCommandRows(commands []registry.MetaCommand, groups []registry.MetaGroup, rows *[][]string) {
	for _, c := range commands {
		*rows = append(*rows, []string{c.Path, c.Method, c.Name, c.Description})
	}
	for _, g := range groups {
		collectCommandRows(g.Commands, g.Groups, rows)
	}
}

func printModule(p *output.Printer, mod *models.Module) {
	if p.JSONMode() {
		p.JSON(mod)
		return
	}
	p.Describe(mod, [][2]string{
		{"Module", mod.ModuleName},
		{"Version", mod.Version},
		{"Mount", mod.MountPoint},
		{"Commands", strconv.Itoa(mod.Commands)},
	})
}
