package manifest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Open-WP-Club/plugin-hub/internal/kvstore"
	"github.com/Open-WP-Club/plugin-hub/internal/metrics"
)

const (
	// CacheKey is where the fetched manifest is kept
	CacheKey = "plugin_hub_csv_cache"
	// DefaultTTL is how long a fetched manifest is served before refetching
	DefaultTTL = 24 * time.Hour
)

// LatestVersionFunc returns the newest released version of a plugin
type LatestVersionFunc func(ctx context.Context, id string) (string, error)

// Cache is a read-through cache in front of a Source. Concurrent misses may
// fetch the source more than once; the last write wins.
type Cache struct {
	source  Source
	store   kvstore.Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu  sync.RWMutex
	ttl time.Duration
}

// NewCache wraps source with a cache stored in store
func NewCache(source Source, store kvstore.Store, logger *slog.Logger, m *metrics.Metrics) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		source:  source,
		store:   store,
		logger:  logger.With("component", "manifest"),
		metrics: m,
		ttl:     DefaultTTL,
	}
}

// SetTTL changes the lifetime of future cache writes
func (c *Cache) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

// TTL returns the current cache lifetime
func (c *Cache) TTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ttl
}

// Records returns the cached manifest, fetching it on a miss. A failed fetch
// is logged and yields an empty manifest that is not cached.
func (c *Cache) Records(ctx context.Context) []PluginRecord {
	var cached []PluginRecord
	err := kvstore.GetJSON(ctx, c.store, CacheKey, &cached)
	switch {
	case err == nil:
		c.metrics.ObserveCache(true)
		return cached
	case !errors.Is(err, kvstore.ErrNotFound):
		c.logger.Warn("Ignoring unreadable manifest cache", "error", err)
	}
	c.metrics.ObserveCache(false)
	return c.fetch(ctx)
}

// Refresh evicts the cached manifest and fetches it again
func (c *Cache) Refresh(ctx context.Context) []PluginRecord {
	if err := c.Invalidate(ctx); err != nil {
		c.logger.Warn("Failed to evict manifest cache", "error", err)
	}
	return c.fetch(ctx)
}

// Invalidate drops the cached manifest
func (c *Cache) Invalidate(ctx context.Context) error {
	return c.store.Delete(ctx, CacheKey)
}

// ForceRefresh compares every cached record with the latest released version
// and rewrites the cache when any differ. Lookups that fail leave the record
// unchanged.
func (c *Cache) ForceRefresh(ctx context.Context, latest LatestVersionFunc) (bool, error) {
	records := c.Records(ctx)

	changed := false
	for i := range records {
		v, err := latest(ctx, records[i].ID)
		if err != nil {
			c.logger.Debug("Latest version lookup failed", "plugin", records[i].ID, "error", err)
			continue
		}
		if v == "" || v == records[i].Version {
			continue
		}
		c.logger.Info("Manifest version updated", "plugin", records[i].ID, "from", records[i].Version, "to", v)
		records[i].Version = v
		// The download URL was tied to the old release.
		records[i].DownloadURL = ""
		changed = true
	}

	if !changed {
		return false, nil
	}
	if err := kvstore.SetJSON(ctx, c.store, CacheKey, records, c.TTL()); err != nil {
		return true, err
	}
	return true, nil
}

func (c *Cache) fetch(ctx context.Context) []PluginRecord {
	records, err := c.source.Fetch(ctx)
	c.metrics.ObserveManifestFetch(c.source.Name(), err == nil)
	if err != nil {
		c.logger.Error("Error fetching manifest", "source", c.source.Name(), "error", err)
		return []PluginRecord{}
	}
	if records == nil {
		records = []PluginRecord{}
	}

	if err := kvstore.SetJSON(ctx, c.store, CacheKey, records, c.TTL()); err != nil {
		c.logger.Warn("Failed to cache manifest", "error", err)
	}
	return records
}
