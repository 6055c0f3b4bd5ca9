// Package platform is the host plugin lifecycle API: listing installed
// plugins, toggling activation and running the installer.
package platform

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrPluginNotFound is returned for a plugin file that is not installed
	ErrPluginNotFound = errors.New("plugin not found")
	// ErrDestinationExists is returned when installing over an existing folder
	ErrDestinationExists = errors.New("destination folder already exists")
	// ErrNoPluginFound is returned when a package holds no plugin header
	ErrNoPluginFound = errors.New("no valid plugins were found")
)

// Plugin is an installed plugin. File is relative to the plugins directory,
// for example "plugin-hub/plugin-hub.php".
type Plugin struct {
	File        string `json:"file"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	PluginURI   string `json:"plugin_uri,omitempty"`
	TextDomain  string `json:"text_domain,omitempty"`
}

// Platform manages installed plugins
type Platform interface {
	// Plugins lists installed plugins ordered by file
	Plugins(ctx context.Context) ([]Plugin, error)
	// ActivePlugins lists the files of active plugins
	ActivePlugins(ctx context.Context) ([]string, error)
	Activate(ctx context.Context, file string) error
	Deactivate(ctx context.Context, file string) error
	// Install unpacks the package at packageURL into the slug directory and
	// returns the main plugin file.
	Install(ctx context.Context, slug, packageURL string) (string, error)
	// Upgrade replaces the plugin owning file with the package at packageURL
	Upgrade(ctx context.Context, file, packageURL string) error
	Delete(ctx context.Context, file string) error
}

// Downloader fetches package archives
type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}
