// Package inspector answers read-only questions about what is installed on
// the host for a given plugin identifier.
package inspector

import (
	"context"
	"fmt"
	"strings"

	"github.com/Open-WP-Club/plugin-hub/internal/kvstore"
	"github.com/Open-WP-Club/plugin-hub/internal/platform"
)

// NotInstalled is reported as the installed version of a missing plugin
const NotInstalled = "Not Installed"

// DisabledKeyPrefix prefixes the per-plugin disabled flag
const DisabledKeyPrefix = "plugin_hub_disabled_"

// DisabledKey returns the store key of the disabled flag for id
func DisabledKey(id string) string {
	return DisabledKeyPrefix + id
}

// Lister is the part of the platform the inspector reads
type Lister interface {
	Plugins(ctx context.Context) ([]platform.Plugin, error)
	ActivePlugins(ctx context.Context) ([]string, error)
}

// State is the installation state of one plugin identifier
type State struct {
	ID               string `json:"id"`
	File             string `json:"file,omitempty"`
	Installed        bool   `json:"installed"`
	Active           bool   `json:"active"`
	Disabled         bool   `json:"disabled"`
	InstalledVersion string `json:"installed_version"`
}

// Inspector reads installation state. It never mutates anything.
type Inspector struct {
	platform Lister
	store    kvstore.Store
}

// New creates an inspector
func New(p Lister, store kvstore.Store) *Inspector {
	return &Inspector{platform: p, store: store}
}

// Snapshot captures the installed plugins and active set once so that many
// identifiers can be inspected without rescanning.
type Snapshot struct {
	plugins []platform.Plugin
	active  map[string]bool
	store   kvstore.Store
}

// Snapshot reads the current platform state
func (i *Inspector) Snapshot(ctx context.Context) (*Snapshot, error) {
	plugins, err := i.platform.Plugins(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list installed plugins: %w", err)
	}
	active, err := i.platform.ActivePlugins(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read active plugins: %w", err)
	}

	set := make(map[string]bool, len(active))
	for _, file := range active {
		set[file] = true
	}
	return &Snapshot{plugins: plugins, active: set, store: i.store}, nil
}

// PluginFile returns the first installed file under the id folder
func (s *Snapshot) PluginFile(id string) (platform.Plugin, bool) {
	if id == "" {
		return platform.Plugin{}, false
	}
	prefix := id + "/"
	for _, p := range s.plugins {
		if strings.HasPrefix(p.File, prefix) {
			return p, true
		}
	}
	return platform.Plugin{}, false
}

// State derives the full installation state of id
func (s *Snapshot) State(ctx context.Context, id string) (State, error) {
	st := State{ID: id, InstalledVersion: NotInstalled}

	if p, ok := s.PluginFile(id); ok {
		st.File = p.File
		st.Installed = true
		st.Active = s.active[p.File]
		st.InstalledVersion = p.Version
	}

	disabled, err := kvstore.GetBool(ctx, s.store, DisabledKey(id))
	if err != nil {
		return st, err
	}
	st.Disabled = disabled
	return st, nil
}

// State inspects a single identifier
func (i *Inspector) State(ctx context.Context, id string) (State, error) {
	snap, err := i.Snapshot(ctx)
	if err != nil {
		return State{ID: id, InstalledVersion: NotInstalled}, err
	}
	return snap.State(ctx, id)
}

// IsInstalled reports whether a plugin file exists under the id folder
func (i *Inspector) IsInstalled(ctx context.Context, id string) (bool, error) {
	st, err := i.State(ctx, id)
	return st.Installed, err
}

// IsActive reports whether the resolved plugin file is active
func (i *Inspector) IsActive(ctx context.Context, id string) (bool, error) {
	st, err := i.State(ctx, id)
	return st.Active, err
}

// IsDisabled reports whether the hub disabled flag is set for id
func (i *Inspector) IsDisabled(ctx context.Context, id string) (bool, error) {
	return kvstore.GetBool(ctx, i.store, DisabledKey(id))
}

// InstalledVersion returns the header version or NotInstalled
func (i *Inspector) InstalledVersion(ctx context.Context, id string) (string, error) {
	st, err := i.State(ctx, id)
	return st.InstalledVersion, err
}

// PluginFile returns the resolved plugin file, or "" when not installed
func (i *Inspector) PluginFile(ctx context.Context, id string) (string, error) {
	st, err := i.State(ctx, id)
	return st.File, err
}
