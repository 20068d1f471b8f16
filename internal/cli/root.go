// Package cli implements the modular-api command tree: the server process
// (run), deployment seeding (init), and the local administration commands
// that manage policies, groups, users, modules, and the audit trail directly
// against the configured store.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/epam/modular-api/internal/cli/output"
	"github.com/epam/modular-api/internal/config"
	"github.com/epam/modular-api/internal/integrity"
	"github.com/epam/modular-api/internal/pkg/logger"
	"github.com/epam/modular-api/internal/registry"
	"github.com/epam/modular-api/internal/repository"
	"github.com/epam/modular-api/internal/secretstore"
	"github.com/epam/modular-api/internal/service"
	"github.com/epam/modular-api/internal/version"
)

type app struct {
	jsonOut bool

	cfg    *config.Config
	cfgErr error

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand builds the command tree over the process streams.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

// NewRootCommandWithIO builds the command tree over explicit streams, which
// is how tests drive the CLI.
func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return newRootCommand(in, out, errOut)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	cfg, cfgErr := config.Load()
	a := &app{
		cfg:    cfg,
		cfgErr: cfgErr,
		stdin:  in,
		stdout: out,
		stderr: errOut,
	}

	cmd := &cobra.Command{
		Use:           "modular-api",
		Short:         "Unified API facade over installable command modules",
		Long:          "modular-api serves installed command catalogs behind one authenticated HTTP endpoint and administers the policies, groups, and users that gate access to them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Server,
	}

	cmd.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	cmd.AddCommand(
		newRunCmd(a),
		newInitCmd(a),
		newPolicyCmd(a),
		newGroupCmd(a),
		newUserCmd(a),
		newAuditCmd(a),
		newSimulatorCmd(a),
		newInstallCmd(a),
		newUninstallCmd(a),
		newDescribeCmd(a),
		newVersionCmd(a),
	)

	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd
}

func (a *app) printer() *output.Printer {
	return output.New(a.stdout, a.jsonOut)
}

// runtime bundles the store and the services the administration commands
// operate on. It is opened per command invocation and closed when the
// command returns.
type runtime struct {
	cfg      *config.Config
	log      *slog.Logger
	store    repository.Store
	policies service.PolicyService
	groups   service.GroupService
	users    service.UserService
	perms    service.PermissionService
	audits   service.AuditService
	stats    service.StatsService
	registry *registry.Registry
}

func (rt *runtime) Close() error {
	return rt.store.Close()
}

// withRuntime opens the store and services, runs fn, and closes the store
// regardless of outcome.
func (a *app) withRuntime(ctx context.Context, fn func(rt *runtime) error) error {
	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func (a *app) openRuntime(ctx context.Context) (*runtime, error) {
	if a.cfgErr != nil {
		return nil, fmt.Errorf("load config: %w", a.cfgErr)
	}
	cfg := a.cfg
	if err := resolveSecret(ctx, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.CLILogLevel, cfg.LogPath)
	if err != nil {
		return nil, err
	}

	store, err := repository.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}

	hasher := integrity.New(cfg.SecretKey)
	reg := registry.New(cfg.ModulesPath, cfg.BackendBaseURL, log)
	if err := reg.Load(); err != nil {
		store.Close()
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		log:      log,
		store:    store,
		policies: service.NewPolicyService(store, store, hasher, log),
		groups:   service.NewGroupService(store, store, store, hasher, log),
		users:    service.NewUserService(store, store, store, hasher, log),
		perms:    service.NewPermissionService(store, store, store, hasher, log),
		audits:   service.NewAuditService(store, hasher, log),
		stats:    service.NewStatsService(store, log),
		registry: reg,
	}, nil
}

// sortRows orders table rows by their first column for stable output.
func sortRows(rows [][]string) {
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
}

// resolveSecret fills cfg.SecretKey from the configured secret store when the
// environment did not provide one. Validate rejects the empty key afterwards,
// so a missing store configuration surfaces as a config error, not a panic.
func resolveSecret(ctx context.Context, cfg *config.Config) error {
	if cfg.SecretKey != "" || cfg.VaultAddr == "" {
		return nil
	}
	client, err := secretstore.New(cfg.VaultAddr, cfg.VaultToken)
	if err != nil {
		return err
	}
	key, err := client.SecretKey(ctx, cfg.VaultSecretPath)
	if err != nil {
		return fmt.Errorf("resolve secret key: %w", err)
	}
	cfg.SecretKey = key
	return nil
}
