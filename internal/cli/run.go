package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/epam/modular-api/internal/api/rest"
	"github.com/epam/modular-api/internal/backend"
	"github.com/epam/modular-api/internal/dispatcher"
	"github.com/epam/modular-api/internal/integrity"
	"github.com/epam/modular-api/internal/pkg/logger"
	"github.com/epam/modular-api/internal/pkg/tracing"
	"github.com/epam/modular-api/internal/ratelimit"
	"github.com/epam/modular-api/internal/registry"
	"github.com/epam/modular-api/internal/repository"
	"github.com/epam/modular-api/internal/service"
	"github.com/epam/modular-api/internal/version"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the facade server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServer(cmd.Context())
		},
	}
}

func (a *app) runServer(parent context.Context) error {
	if a.cfgErr != nil {
		return a.cfgErr
	}
	cfg := a.cfg

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, err := logger.New(cfg.ServerLogLevel, cfg.LogPath)
	if err != nil {
		return err
	}
	if err := resolveSecret(ctx, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.TraceEndpoint != "" {
		shutdown, err := tracing.Init("modular-api", cfg.TraceEndpoint, cfg.TraceSampling)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	store, err := repository.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return err
	}

	hasher := integrity.New(cfg.SecretKey)
	tokens := service.NewTokenService(store, store, hasher, cfg.SecretKey, cfg.TokenTTL(), log)
	perms := service.NewPermissionService(store, store, store, hasher, log)
	audits := service.NewAuditService(store, hasher, log)
	stats := service.NewStatsService(store, log)

	reg := registry.New(cfg.ModulesPath, cfg.BackendBaseURL, log)
	if err := reg.Load(); err != nil {
		return err
	}

	ceiling, disabled, err := cfg.RateLimit()
	if err != nil {
		return err
	}
	limiter := ratelimit.Disabled()
	if !disabled {
		limiter = ratelimit.New(store, int(ceiling), cfg.RateLimitWindow(), log)
	}

	client := backend.NewClient(cfg.SecretKey, cfg.BackendTimeout(), log)
	disp := dispatcher.New(reg, tokens, perms, audits, stats, limiter, client, cfg.MinCLIVersion, log)
	h := rest.NewHandler(store, reg, tokens, perms, disp, cfg.EnablePrivateMode, log)

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           rest.BuildHandler(cfg, h, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout(),
		// Write budget covers one full backend call plus response copy.
		WriteTimeout: cfg.BackendTimeout() + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	janitor := service.NewCleanupService(store, limiter, cfg.CleanupInterval(), log)
	janitor.Start(ctx)
	defer janitor.Stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening",
			"addr", srv.Addr,
			"mode", cfg.Mode,
			"version", version.Server,
			"modules", len(reg.Catalog().Modules()),
			"private_mode", cfg.EnablePrivateMode,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutting down", "timeout", cfg.ShutdownTimeout())
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		return srv.Shutdown(shCtx)
	})
	err = g.Wait()
	if err != nil {
		log.Error("server stopped", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}
