// Package hub executes plugin actions: capability checks, installer calls,
// option bookkeeping and the sequential bulk runner.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Open-WP-Club/plugin-hub/internal/auth"
	"github.com/Open-WP-Club/plugin-hub/internal/database"
	"github.com/Open-WP-Club/plugin-hub/internal/events"
	"github.com/Open-WP-Club/plugin-hub/internal/github"
	"github.com/Open-WP-Club/plugin-hub/internal/inspector"
	"github.com/Open-WP-Club/plugin-hub/internal/kvstore"
	"github.com/Open-WP-Club/plugin-hub/internal/manifest"
	"github.com/Open-WP-Club/plugin-hub/internal/metrics"
	"github.com/Open-WP-Club/plugin-hub/internal/platform"
)

// Action names accepted by Do
const (
	ActionInstall      = "install_github_plugin"
	ActionUpdate       = "update_github_plugin"
	ActionActivate     = "activate_github_plugin"
	ActionDeactivate   = "deactivate_github_plugin"
	ActionDelete       = "delete_github_plugin"
	ActionDisable      = "disable_github_plugin"
	ActionVerify       = "verify_plugin_update"
	ActionToggleBeta   = "toggle_beta_plugins"
	ActionForceRefresh = "force_refresh_plugins"
	ActionChangelog    = "get_changelog"
	ActionRefreshCache = "refresh_cache"
)

// Persisted option keys
const (
	TrackedKey  = "plugin_hub_github_plugins"
	ShowBetaKey = "plugin_hub_show_beta"
)

// Releases is the part of the GitHub API the executor uses
type Releases interface {
	LatestRelease(ctx context.Context, owner, repo string) (*github.Release, error)
	ReleaseByTag(ctx context.Context, owner, repo, tag string) (*github.Release, error)
	ListReleases(ctx context.Context, owner, repo string) ([]github.Release, error)
}

// AuditLog records executed actions
type AuditLog interface {
	RecordAction(ctx context.Context, rec database.ActionRecord) error
}

// Params carries the request fields of every action
type Params struct {
	Repo           string `json:"repo"`
	Version        string `json:"version,omitempty"`
	URL            string `json:"url,omitempty"`
	ShowBeta       bool   `json:"show_beta,omitempty"`
	CurrentVersion string `json:"current_version,omitempty"`
	NewVersion     string `json:"new_version,omitempty"`
}

// Result is a successful action outcome
type Result struct {
	Message   string `json:"message"`
	Plugin    string `json:"plugin,omitempty"`
	Version   string `json:"version,omitempty"`
	Changelog string `json:"changelog,omitempty"`
	Changed   bool   `json:"changed,omitempty"`
}

// ActionEvent is published after every action
type ActionEvent struct {
	Action    string    `json:"action"`
	Plugin    string    `json:"plugin,omitempty"`
	Actor     string    `json:"actor"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Options wires a Service
type Options struct {
	Organization    string
	Manifest        *manifest.Cache
	Platform        platform.Platform
	Releases        Releases
	Store           kvstore.Store
	Events          events.Publisher
	Audit           AuditLog
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	DefaultShowBeta bool
}

type handlerFunc func(ctx context.Context, p auth.Principal, in Params) (Result, error)

// Service is the action executor
type Service struct {
	org       string
	manifest  *manifest.Cache
	platform  platform.Platform
	inspector *inspector.Inspector
	releases  Releases
	store     kvstore.Store
	events    events.Publisher
	audit     AuditLog
	metrics   *metrics.Metrics
	changelog *changelogRenderer
	logger    *slog.Logger
	handlers  map[string]handlerFunc

	mu              sync.RWMutex
	defaultShowBeta bool
}

// New creates the executor
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := opts.Events
	if publisher == nil {
		publisher = events.Discard{}
	}

	s := &Service{
		org:             opts.Organization,
		manifest:        opts.Manifest,
		platform:        opts.Platform,
		inspector:       inspector.New(opts.Platform, opts.Store),
		releases:        opts.Releases,
		store:           opts.Store,
		events:          publisher,
		audit:           opts.Audit,
		metrics:         opts.Metrics,
		changelog:       newChangelogRenderer(),
		logger:          logger.With("component", "hub"),
		defaultShowBeta: opts.DefaultShowBeta,
	}
	s.handlers = map[string]handlerFunc{
		ActionInstall:      s.install,
		ActionUpdate:       s.update,
		ActionActivate:     s.activate,
		ActionDeactivate:   s.deactivate,
		ActionDelete:       s.delete,
		ActionDisable:      s.disable,
		ActionVerify:       s.verifyUpdate,
		ActionToggleBeta:   s.toggleBeta,
		ActionForceRefresh: s.forceRefresh,
		ActionChangelog:    s.getChangelog,
	}
	return s
}

// Inspector exposes the read-only installation inspector
func (s *Service) Inspector() *inspector.Inspector {
	return s.inspector
}

// SetDefaultShowBeta changes the beta visibility used before the option is
// first toggled.
func (s *Service) SetDefaultShowBeta(show bool) {
	s.mu.Lock()
	s.defaultShowBeta = show
	s.mu.Unlock()
}

// HasAction reports whether Do accepts name
func (s *Service) HasAction(name string) bool {
	_, ok := s.handlers[name]
	return ok
}

// Do runs the named action for p. Every outcome is logged, counted, audited
// and published.
func (s *Service) Do(ctx context.Context, p auth.Principal, action string, in Params) (Result, error) {
	handler, ok := s.handlers[action]
	if !ok {
		return Result{}, invalidInput("Unknown action.")
	}

	start := time.Now()
	res, err := handler(ctx, p, in)
	s.record(ctx, p, action, in.Repo, res, err, time.Since(start))
	return res, err
}

func (s *Service) record(ctx context.Context, p auth.Principal, action, plugin string, res Result, err error, elapsed time.Duration) {
	evt := ActionEvent{
		Action:    action,
		Plugin:    plugin,
		Actor:     p.Name,
		Success:   err == nil,
		Message:   res.Message,
		Timestamp: time.Now(),
	}
	if err != nil {
		evt.Kind = KindOf(err)
		evt.Message = err.Error()
		s.logger.Warn("Action failed", "action", action, "plugin", plugin, "actor", p.Name, "kind", evt.Kind, "error", errors.Unwrap(err), "message", evt.Message)
	} else {
		s.logger.Info("Action completed", "action", action, "plugin", plugin, "actor", p.Name, "duration", elapsed)
	}

	s.metrics.ObserveAction(action, err == nil, elapsed)

	if s.audit != nil {
		auditErr := s.audit.RecordAction(ctx, database.ActionRecord{
			Action:  action,
			Plugin:  plugin,
			Actor:   p.Name,
			Success: err == nil,
			Message: evt.Message,
		})
		if auditErr != nil {
			s.logger.Warn("Failed to record action", "action", action, "error", auditErr)
		}
	}

	if pubErr := s.events.Publish(events.SubjectActionCompleted, evt); pubErr != nil {
		s.logger.Debug("Failed to publish action event", "error", pubErr)
	}
}
