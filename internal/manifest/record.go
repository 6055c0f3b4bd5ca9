// Package manifest fetches the list of plugins the hub offers, from a CSV
// file or from the GitHub organization, and caches it in the key/value store.
package manifest

import (
	"context"
	"time"
)

// PluginRecord is one plugin offered by the hub. ID is the repository name and
// the installation directory on the host.
type PluginRecord struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Description string     `json:"description"`
	Version     string     `json:"version"`
	RepoURL     string     `json:"repo_url"`
	DownloadURL string     `json:"download_url,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Source produces the current manifest
type Source interface {
	// Name identifies the source in logs and metrics
	Name() string
	Fetch(ctx context.Context) ([]PluginRecord, error)
}
