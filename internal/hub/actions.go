package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/Open-WP-Club/plugin-hub/internal/auth"
	"github.com/Open-WP-Club/plugin-hub/internal/github"
	"github.com/Open-WP-Club/plugin-hub/internal/inspector"
	"github.com/Open-WP-Club/plugin-hub/internal/kvstore"
	"github.com/Open-WP-Club/plugin-hub/internal/version"
)

const invalidPluginInfo = "Invalid plugin information."

// TrackedPlugin records a plugin installed through the hub
type TrackedPlugin struct {
	Repo string `json:"repo"`
	File string `json:"file"`
}

// releaseTag returns the tag a manifest version is published under
func releaseTag(v string) string {
	return "v" + version.Normalize(v)
}

// packageURL resolves the artifact to install: an explicit URL wins,
// otherwise the zipball of the release tagged v{version}.
func (s *Service) packageURL(ctx context.Context, in Params) (string, error) {
	if in.URL != "" {
		return in.URL, nil
	}

	msg := fmt.Sprintf("Unable to fetch download URL for %s v%s. Please check the error log for more details.", in.Repo, version.Normalize(in.Version))
	rel, err := s.releases.ReleaseByTag(ctx, s.org, in.Repo, releaseTag(in.Version))
	if err != nil {
		s.logger.Error("Error fetching GitHub release", "repo", in.Repo, "version", in.Version, "error", err)
		return "", transportFailure(msg, err)
	}
	if rel.ZipballURL == "" {
		s.logger.Error("Release has no zipball", "repo", in.Repo, "version", in.Version)
		return "", transportFailure(msg, errors.New("empty zipball_url"))
	}
	return rel.ZipballURL, nil
}

// state inspects repo and maps a missing plugin to a not-found error
func (s *Service) installedState(ctx context.Context, repo string) (inspector.State, error) {
	st, err := s.inspector.State(ctx, repo)
	if err != nil {
		return st, platformFailure(err)
	}
	if !st.Installed {
		return st, notFound("Plugin not found.")
	}
	return st, nil
}

func (s *Service) install(ctx context.Context, p auth.Principal, in Params) (Result, error) {
	if !p.Can(auth.CapInstallPlugins) {
		return Result{}, permissionDenied("You do not have permission to install plugins.")
	}
	if in.Repo == "" || (in.Version == "" && in.URL == "") {
		return Result{}, invalidInput(invalidPluginInfo)
	}

	pkg, err := s.packageURL(ctx, in)
	if err != nil {
		return Result{}, err
	}

	file, err := s.platform.Install(ctx, in.Repo, pkg)
	if err != nil {
		s.logger.Error("Install failed", "repo", in.Repo, "package", github.SanitizeURL(pkg), "error", err)
		return Result{}, platformFailure(err)
	}

	if err := s.track(ctx, in.Repo, file); err != nil {
		s.logger.Warn("Failed to record installed plugin", "repo", in.Repo, "error", err)
	}
	return Result{Message: "Plugin installed successfully.", Plugin: in.Repo, Version: in.Version}, nil
}

func (s *Service) update(ctx context.Context, p auth.Principal, in Params) (Result, error) {
	if !p.Can(auth.CapUpdatePlugins) {
		return Result{}, permissionDenied("You do not have permission to update plugins.")
	}
	if in.Repo == "" || (in.Version == "" && in.URL == "") {
		return Result{}, invalidInput(invalidPluginInfo)
	}

	pkg, err := s.packageURL(ctx, in)
	if err != nil {
		return Result{}, err
	}

	st, err := s.installedState(ctx, in.Repo)
	if err != nil {
		return Result{}, err
	}

	if err := s.platform.Upgrade(ctx, st.File, pkg); err != nil {
		s.logger.Error("Update failed", "repo", in.Repo, "package", github.SanitizeURL(pkg), "error", err)
		return Result{}, platformFailure(err)
	}

	if in.Version == "" {
		return Result{Message: "Plugin updated successfully.", Plugin: in.Repo}, nil
	}

	installed, err := s.inspector.InstalledVersion(ctx, in.Repo)
	if err != nil {
		return Result{}, platformFailure(err)
	}
	if !version.AtLeast(installed, in.Version) {
		s.logger.Error("Update reported success but version mismatch", "repo", in.Repo, "expected", in.Version, "actual", installed)
		return Result{}, &Error{
			Kind:    KindVerification,
			Message: "Update reported success but version mismatch. Please check the error log for more details.",
		}
	}
	return Result{Message: "Plugin updated successfully to version " + installed, Plugin: in.Repo, Version: installed}, nil
}

func (s *Service) activate(ctx context.Context, p auth.Principal, in Params) (Result, error) {
	if !p.Can(auth.CapActivatePlugins) {
		return Result{}, permissionDenied("You do not have permission to activate plugins.")
	}
	if in.Repo == "" {
		return Result{}, invalidInput(invalidPluginInfo)
	}

	st, err := s.installedState(ctx, in.Repo)
	if err != nil {
		return Result{}, err
	}
	if err := s.platform.Activate(ctx, st.File); err != nil {
		return Result{}, platformFailure(err)
	}
	if err := s.store.Delete(ctx, inspector.DisabledKey(in.Repo)); err != nil {
		return Result{}, platformFailure(err)
	}
	return Result{Message: "Plugin activated successfully.", Plugin: in.Repo}, nil
}

func (s *Service) deactivate(ctx context.Context, p auth.Principal, in Params) (Result, error) {
	if !p.Can(auth.CapDeactivatePlugins) {
		return Result{}, permissionDenied("You do not have permission to deactivate plugins.")
	}
	if in.Repo == "" {
		return Result{}, invalidInput(invalidPluginInfo)
	}

	st, err := s.installedState(ctx, in.Repo)
	if err != nil {
		return Result{}, err
	}
	if err := s.platform.Deactivate(ctx, st.File); err != nil {
		return Result{}, platformFailure(err)
	}
	return Result{Message: "Plugin deactivated successfully.", Plugin: in.Repo}, nil
}

func (s *Service) delete(ctx context.Context, p auth.Principal, in Params) (Result, error) {
	if !p.Can(auth.CapDeletePlugins) {
		return Result{}, permissionDenied("You do not have permission to delete plugins.")
	}
	if in.Repo == "" {
		return Result{}, invalidInput(invalidPluginInfo)
	}

	st, err := s.installedState(ctx, in.Repo)
	if err != nil {
		return Result{}, err
	}
	if st.Active {
		return Result{}, &Error{Kind: KindConflict, Message: "Please deactivate the plugin before deleting."}
	}

	if err := s.platform.Delete(ctx, st.File); err != nil {
		return Result{}, &Error{Kind: KindPlatform, Message: "Failed to delete the plugin.", Err: err}
	}
	if err := s.untrack(ctx, in.Repo); err != nil {
		s.logger.Warn("Failed to forget deleted plugin", "repo", in.Repo, "error", err)
	}
	return Result{Message: "Plugin deleted successfully.", Plugin: in.Repo}, nil
}

func (s *Service) disable(ctx context.Context, p auth.Principal, in Params) (Result, error) {
	if !p.Can(auth.CapDeactivatePlugins) {
		return Result{}, permissionDenied("You do not have permission to disable plugins.")
	}
	if in.Repo == "" {
		return Result{}, invalidInput(invalidPluginInfo)
	}

	st, err := s.installedState(ctx, in.Repo)
	if err != nil {
		return Result{}, err
	}
	if err := s.platform.Deactivate(ctx, st.File); err != nil {
		return Result{}, platformFailure(err)
	}
	if err := kvstore.SetBool(ctx, s.store, inspector.DisabledKey(in.Repo), true); err != nil {
		return Result{}, platformFailure(err)
	}
	return Result{Message: "Plugin disabled successfully.", Plugin: in.Repo}, nil
}

func (s *Service) verifyUpdate(ctx context.Context, p auth.Principal, in Params) (Result, error) {
	if !p.Can(auth.CapUpdatePlugins) {
		return Result{}, permissionDenied("You do not have permission to verify plugin updates.")
	}
	if in.Repo == "" || in.Version == "" {
		return Result{}, invalidInput(invalidPluginInfo)
	}

	st, err := s.inspector.State(ctx, in.Repo)
	if err != nil {
		return Result{}, platformFailure(err)
	}
	if st.Installed && version.AtLeast(st.InstalledVersion, in.Version) {
		return Result{Message: "Plugin version verified: " + st.InstalledVersion, Plugin: in.Repo, Version: st.InstalledVersion}, nil
	}
	return Result{}, &Error{
		Kind:    KindVerification,
		Message: fmt.Sprintf("Plugin version mismatch. Expected: %s, Found: %s", in.Version, st.InstalledVersion),
	}
}

func (s *Service) toggleBeta(ctx context.Context, p auth.Principal, in Params) (Result, error) {
	if !p.Can(auth.CapManageOptions) {
		return Result{}, permissionDenied("You do not have permission to change this setting.")
	}
	if err := kvstore.SetBool(ctx, s.store, ShowBetaKey, in.ShowBeta); err != nil {
		return Result{}, platformFailure(err)
	}
	return Result{Message: "Setting updated successfully."}, nil
}

func (s *Service) forceRefresh(ctx context.Context, p auth.Principal, _ Params) (Result, error) {
	if !p.Can(auth.CapUpdatePlugins) {
		return Result{}, permissionDenied("You do not have permission to refresh plugin information.")
	}

	changed, err := s.manifest.ForceRefresh(ctx, s.latestVersion)
	if err != nil {
		return Result{}, &Error{Kind: KindPlatform, Message: "Failed to store refreshed plugin information.", Err: err}
	}
	if !changed {
		return Result{Message: "No updates found. Plugin information is already up to date."}, nil
	}

	s.publish(ctx, "force_refresh")
	return Result{Message: "Plugin information refreshed successfully.", Changed: true}, nil
}

func (s *Service) getChangelog(ctx context.Context, _ auth.Principal, in Params) (Result, error) {
	if in.Repo == "" || in.CurrentVersion == "" || in.NewVersion == "" {
		return Result{}, invalidInput(invalidPluginInfo)
	}

	releases, err := s.releases.ListReleases(ctx, s.org, in.Repo)
	if err != nil {
		s.logger.Error("Error fetching GitHub releases", "repo", in.Repo, "error", err)
		return Result{}, transportFailure("Unable to fetch changelog.", err)
	}

	html := s.changelog.Render(releases, in.CurrentVersion, in.NewVersion)
	if html == "" {
		return Result{}, transportFailure("Unable to fetch changelog.", nil)
	}
	return Result{Message: "Changelog retrieved.", Plugin: in.Repo, Version: in.NewVersion, Changelog: html}, nil
}

// latestVersion returns the version of the newest release of id
func (s *Service) latestVersion(ctx context.Context, id string) (string, error) {
	rel, err := s.releases.LatestRelease(ctx, s.org, id)
	if err != nil {
		return "", err
	}
	return rel.Version(), nil
}

// Tracked returns the plugins installed through the hub
func (s *Service) Tracked(ctx context.Context) (map[string]TrackedPlugin, error) {
	tracked := map[string]TrackedPlugin{}
	err := kvstore.GetJSON(ctx, s.store, TrackedKey, &tracked)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return nil, err
	}
	return tracked, nil
}

func (s *Service) track(ctx context.Context, repo, file string) error {
	tracked, err := s.Tracked(ctx)
	if err != nil {
		return err
	}
	tracked[repo] = TrackedPlugin{Repo: repo, File: file}
	return kvstore.SetJSON(ctx, s.store, TrackedKey, tracked, 0)
}

func (s *Service) untrack(ctx context.Context, repo string) error {
	tracked, err := s.Tracked(ctx)
	if err != nil {
		return err
	}
	if _, ok := tracked[repo]; !ok {
		return nil
	}
	delete(tracked, repo)
	return kvstore.SetJSON(ctx, s.store, TrackedKey, tracked, 0)
}
