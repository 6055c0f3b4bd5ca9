package hub

import (
	"context"
	"errors"
	"time"

	"github.com/Open-WP-Club/plugin-hub/internal/auth"
	"github.com/Open-WP-Club/plugin-hub/internal/events"
	"github.com/Open-WP-Club/plugin-hub/internal/inspector"
	"github.com/Open-WP-Club/plugin-hub/internal/kvstore"
	"github.com/Open-WP-Club/plugin-hub/internal/manifest"
	"github.com/Open-WP-Club/plugin-hub/internal/status"
	"github.com/Open-WP-Club/plugin-hub/internal/version"
)

// ManifestEvent is published when the cached manifest changes
type ManifestEvent struct {
	Reason    string    `json:"reason"`
	Plugins   int       `json:"plugins"`
	Timestamp time.Time `json:"timestamp"`
}

// UpdateOffer describes an available update in the shape the host's update
// screen expects.
type UpdateOffer struct {
	File       string `json:"file"`
	Slug       string `json:"slug"`
	NewVersion string `json:"new_version"`
	URL        string `json:"url"`
	Package    string `json:"package"`
}

// ShowBeta returns the persisted beta visibility, or the configured default
// when it was never toggled.
func (s *Service) ShowBeta(ctx context.Context) bool {
	show, err := kvstore.GetBool(ctx, s.store, ShowBetaKey)
	if err == nil {
		return show
	}
	if !errors.Is(err, kvstore.ErrNotFound) {
		s.logger.Warn("Failed to read beta setting", "error", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultShowBeta
}

// Views classifies every manifest record against one platform snapshot
func (s *Service) Views(ctx context.Context) ([]status.View, error) {
	records := s.manifest.Records(ctx)

	snap, err := s.inspector.Snapshot(ctx)
	if err != nil {
		return nil, platformFailure(err)
	}

	views := make([]status.View, 0, len(records))
	for _, rec := range records {
		st, err := snap.State(ctx, rec.ID)
		if err != nil {
			return nil, platformFailure(err)
		}
		views = append(views, status.Classify(rec, st))
	}
	return views, nil
}

// Listing builds the filtered plugin list with counts for every filter
func (s *Service) Listing(ctx context.Context, p auth.Principal, filter status.Filter) (status.Listing, error) {
	if !p.Can(auth.CapManageOptions) {
		return status.Listing{}, permissionDenied("You do not have sufficient permissions to access this page.")
	}

	views, err := s.Views(ctx)
	if err != nil {
		return status.Listing{}, err
	}

	listing := status.BuildListing(views, filter, s.ShowBeta(ctx))
	s.metrics.SetListed(len(listing.Plugins))
	return listing, nil
}

// RefreshCache drops the cached manifest and fetches it again
func (s *Service) RefreshCache(ctx context.Context, p auth.Principal) (Result, error) {
	start := time.Now()
	if !p.Can(auth.CapManageOptions) {
		err := permissionDenied("You do not have permission to refresh plugin information.")
		s.record(ctx, p, ActionRefreshCache, "", Result{}, err, time.Since(start))
		return Result{}, err
	}

	records := s.manifest.Refresh(ctx)
	s.publishManifest("refresh_cache", len(records))

	res := Result{Message: "Plugin list refreshed.", Changed: true}
	s.record(ctx, p, ActionRefreshCache, "", res, nil, time.Since(start))
	return res, nil
}

func (s *Service) publish(ctx context.Context, reason string) {
	s.publishManifest(reason, len(s.manifest.Records(ctx)))
}

func (s *Service) publishManifest(reason string, n int) {
	evt := ManifestEvent{Reason: reason, Plugins: n, Timestamp: time.Now()}
	if err := s.events.Publish(events.SubjectManifestRefreshed, evt); err != nil {
		s.logger.Debug("Failed to publish manifest event", "error", err)
	}
}

// UpdateOffers lists installed manifest plugins with a newer version
// available. Beta versions are offered only when beta plugins are shown.
func (s *Service) UpdateOffers(ctx context.Context, p auth.Principal) ([]UpdateOffer, error) {
	if !p.Can(auth.CapUpdatePlugins) {
		return nil, permissionDenied("You do not have permission to update plugins.")
	}

	views, err := s.Views(ctx)
	if err != nil {
		return nil, err
	}
	showBeta := s.ShowBeta(ctx)

	offers := []UpdateOffer{}
	for _, v := range views {
		if !v.UpdateAvailable || (v.Beta && !showBeta) {
			continue
		}
		offers = append(offers, UpdateOffer{
			File:       v.State.File,
			Slug:       v.Plugin.ID,
			NewVersion: version.Normalize(v.Plugin.Version),
			URL:        v.Plugin.RepoURL,
			Package:    s.offerPackage(v.Plugin),
		})
	}
	return offers, nil
}

func (s *Service) offerPackage(rec manifest.PluginRecord) string {
	if rec.DownloadURL != "" {
		return rec.DownloadURL
	}
	if rec.RepoURL == "" {
		return ""
	}
	return rec.RepoURL + "/archive/refs/tags/" + releaseTag(rec.Version) + ".zip"
}

// Purge removes every option the hub has written. Installed plugins and the
// active set are left alone.
func (s *Service) Purge(ctx context.Context, p auth.Principal) (int, error) {
	if !p.Can(auth.CapDeletePlugins) || !p.Can(auth.CapManageOptions) {
		return 0, permissionDenied("You do not have permission to delete plugins.")
	}

	removed := 0
	for _, key := range []string{TrackedKey, ShowBetaKey, manifest.CacheKey} {
		if err := s.store.Delete(ctx, key); err != nil {
			return removed, platformFailure(err)
		}
		removed++
	}
	n, err := s.store.DeletePrefix(ctx, inspector.DisabledKeyPrefix)
	if err != nil {
		return removed, platformFailure(err)
	}
	removed += n

	s.logger.Info("Purged hub options", "keys", removed, "actor", p.Name)
	return removed, nil
}

// ListedVersion returns the version the manifest lists for id
func (s *Service) ListedVersion(ctx context.Context, id string) (string, bool) {
	for _, rec := range s.manifest.Records(ctx) {
		if rec.ID == id {
			return rec.Version, true
		}
	}
	return "", false
}
