package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Open-WP-Club/plugin-hub/internal/auth"
	"github.com/Open-WP-Club/plugin-hub/internal/config"
	"github.com/Open-WP-Club/plugin-hub/internal/database"
	"github.com/Open-WP-Club/plugin-hub/internal/events"
	"github.com/Open-WP-Club/plugin-hub/internal/github"
	"github.com/Open-WP-Club/plugin-hub/internal/hub"
	"github.com/Open-WP-Club/plugin-hub/internal/kvstore"
	"github.com/Open-WP-Club/plugin-hub/internal/logging"
	"github.com/Open-WP-Club/plugin-hub/internal/manifest"
	"github.com/Open-WP-Club/plugin-hub/internal/metrics"
	"github.com/Open-WP-Club/plugin-hub/internal/platform"
)

const defaultDataPath = "/data"

// appOptions selects what newApp starts
type appOptions struct {
	ConfigPath string
	LogLevel   string
	LogOutput  io.Writer
	// WithBus starts the embedded event bus when the config enables it
	WithBus bool
}

// app holds the services every command works with
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	level    *slog.LevelVar
	logs     *logging.RingBuffer
	db       *database.DB
	store    kvstore.Store
	github   *github.Client
	cache    *manifest.Cache
	platform *platform.FS
	bus      *events.Bus
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	svc      *hub.Service

	closers []func()
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	dataPath := os.Getenv("DATA_PATH")
	if dataPath == "" {
		dataPath = defaultDataPath
	}
	return config.FindConfigFile(dataPath)
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.LoadOrDefault(resolveConfigPath(opts.ConfigPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{cfg: cfg}

	level := cfg.System.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	a.logs = logging.NewRingBuffer(cfg.System.Logging.BufferSize)
	a.logger, a.level = logging.Setup(out, level, cfg.System.Logging.Format, a.logs)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.github = github.NewClient(github.Config{
		BaseURL: cfg.GitHub.BaseURL,
		Token:   cfg.GitHub.Token,
		Timeout: time.Duration(cfg.GitHub.TimeoutSeconds) * time.Second,
	}, a.logger)

	a.cache = manifest.NewCache(a.manifestSource(), a.store, a.logger, a.metrics)
	a.cache.SetTTL(cfg.Manifest.TTL())

	a.platform, err = platform.NewFS(cfg.Platform.PluginsDir, a.store, a.github, a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	var publisher events.Publisher = events.Discard{}
	if opts.WithBus && cfg.Events.Enabled {
		cfgEvents := events.Config{Host: cfg.Events.Host, Port: cfg.Events.Port}
		if cfg.Events.JetStream {
			cfgEvents.StoreDir = filepath.Join(cfg.System.DataPath, "events")
		}
		a.bus, err = events.NewBus(cfgEvents, a.logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to start event bus: %w", err)
		}
		a.closers = append(a.closers, a.bus.Stop)
		publisher = a.bus
	}

	a.svc = hub.New(hub.Options{
		Organization:    cfg.GitHub.Organization,
		Manifest:        a.cache,
		Platform:        a.platform,
		Releases:        a.github,
		Store:           a.store,
		Events:          publisher,
		Audit:           a.db,
		Metrics:         a.metrics,
		Logger:          a.logger,
		DefaultShowBeta: cfg.Manifest.ShowBetaDefault,
	})
	return a, nil
}

// openStorage opens the database and the option store selected by config
func (a *app) openStorage(ctx context.Context) error {
	db, err := database.Open(&database.Config{Path: a.cfg.System.Database.Path})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func() { _ = db.Close() })

	if err := database.NewMigrator(db).Run(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	switch a.cfg.Store.Backend {
	case "memory":
		a.store = kvstore.NewMemory()
	case "redis":
		r, err := kvstore.NewRedis(ctx, kvstore.RedisConfig{
			Addr:      a.cfg.Store.Redis.Addr,
			Password:  a.cfg.Store.Redis.Password,
			DB:        a.cfg.Store.Redis.DB,
			Namespace: a.cfg.Store.Redis.Namespace,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.store = r
		a.closers = append(a.closers, func() { _ = r.Close() })
	default:
		a.store = kvstore.NewSQLite(db)
	}
	a.logger.Debug("Option store ready", "backend", a.cfg.Store.Backend)
	return nil
}

func (a *app) manifestSource() manifest.Source {
	m := a.cfg.Manifest
	if m.Source == "github" {
		return manifest.NewGitHubSource(a.github, a.cfg.GitHub.Organization, m.Repos, a.logger)
	}
	return manifest.NewCSVSource(m.CSVURL, manifest.ParseOptions{Strict: m.Strict}, a.logger, a.metrics)
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// cliPrincipal is the identity local commands act as
func (a *app) cliPrincipal() auth.Principal {
	return auth.Principal{Name: a.cfg.CLI.User, Role: auth.Role(a.cfg.CLI.Role)}
}

// newAuthenticator builds the token table from the configured users
func newAuthenticator(ac config.AuthConfig, logger *slog.Logger) *auth.Authenticator {
	creds := make([]auth.Credential, 0, len(ac.Users))
	for _, u := range ac.Users {
		role := auth.Role(u.Role)
		if !auth.ValidRole(role) {
			logger.Warn("Unknown role, user only gets explicit capabilities", "user", u.Name, "role", u.Role)
		}
		caps := make([]auth.Capability, 0, len(u.Capabilities))
		for _, c := range u.Capabilities {
			caps = append(caps, auth.Capability(c))
		}
		creds = append(creds, auth.Credential{
			Token:     u.Token,
			Principal: auth.Principal{Name: u.Name, Role: role, Capabilities: caps},
		})
	}
	return auth.NewAuthenticator(creds)
}
