package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Open-WP-Club/plugin-hub/internal/api"
	"github.com/Open-WP-Club/plugin-hub/internal/auth"
	"github.com/Open-WP-Club/plugin-hub/internal/config"
	"github.com/Open-WP-Club/plugin-hub/internal/events"
	"github.com/Open-WP-Club/plugin-hub/internal/kvstore"
	"github.com/Open-WP-Club/plugin-hub/internal/logging"
)

const sweepInterval = time.Hour

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the plugin hub HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, appOptions{ConfigPath: flags.configPath, LogLevel: flags.logLevel, WithBus: true})
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx, cancel)
		},
	}
}

func (a *app) serve(ctx context.Context, cancel context.CancelFunc) error {
	_, authCfg := a.cfg.Snapshot()
	if len(authCfg.Users) == 0 {
		a.logger.Warn("No API users configured, every API request will be rejected. Create one with 'pluginhub token'.")
	}

	checks := map[string]api.HealthCheck{"database": a.db.Health}
	if a.bus != nil {
		checks["events"] = a.bus.HealthCheck
	}

	server := api.NewServer(api.Options{
		Service:        a.svc,
		Authenticator:  newAuthenticator(authCfg, a.logger),
		Nonces:         auth.NewNonces(a.store, authCfg.NonceTTL()),
		Logs:           a.logs,
		Actions:        a.db,
		Gatherer:       a.registry,
		Checks:         checks,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Logger:         a.logger,
	})

	go server.Stream().Run(ctx)
	if a.bus != nil {
		unsubscribe, err := a.bus.Subscribe(events.SubjectAll, server.Stream().Forward)
		if err != nil {
			return fmt.Errorf("failed to subscribe to events: %w", err)
		}
		defer unsubscribe()
	}

	a.cfg.OnChange(func(c *config.Config) {
		m, ac := c.Snapshot()
		a.cache.SetTTL(m.TTL())
		a.svc.SetDefaultShowBeta(m.ShowBetaDefault)
		server.SetAuthenticator(newAuthenticator(ac, a.logger))
		a.github.SetToken(c.GitHub.Token)
		a.level.Set(logging.ParseLevel(c.System.Logging.Level))
		if a.bus != nil {
			if err := a.bus.Publish(events.SubjectConfigChanged, map[string]interface{}{
				"timestamp": time.Now(),
				"users":     len(ac.Users),
				"cache_ttl": m.TTL().String(),
			}); err != nil {
				a.logger.Debug("Failed to publish config change", "error", err)
			}
		}
	})

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	if err := a.cfg.Watch(stopWatch); err != nil {
		a.logger.Warn("Config file watching disabled", "error", err)
	}

	if sqlStore, ok := a.store.(*kvstore.SQLite); ok {
		go a.sweepExpired(ctx, sqlStore)
	}

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Address, a.cfg.Server.Port)
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		a.logger.Info("Server starting", "address", addr, "organization", a.cfg.GitHub.Organization, "manifest_source", a.cfg.Manifest.Source)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server shutdown error", "error", err)
	}
	if err := a.db.Checkpoint(shutdownCtx); err != nil {
		a.logger.Warn("Database checkpoint failed", "error", err)
	}

	a.logger.Info("Server stopped")
	return nil
}

// sweepExpired drops expired options so nonces and cache entries do not pile up
func (a *app) sweepExpired(ctx context.Context, store *kvstore.SQLite) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx)
			if err != nil {
				a.logger.Warn("Failed to purge expired options", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Debug("Purged expired options", "count", n)
			}
		}
	}
}
