package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/Open-WP-Club/plugin-hub/internal/auth"
	"github.com/Open-WP-Club/plugin-hub/internal/database"
	"github.com/Open-WP-Club/plugin-hub/internal/events"
	"github.com/Open-WP-Club/plugin-hub/internal/github"
	"github.com/Open-WP-Club/plugin-hub/internal/inspector"
	"github.com/Open-WP-Club/plugin-hub/internal/kvstore"
	"github.com/Open-WP-Club/plugin-hub/internal/manifest"
	"github.com/Open-WP-Club/plugin-hub/internal/platform"
)

var (
	admin  = auth.Principal{Name: "admin", Role: auth.RoleAdministrator}
	viewer = auth.Principal{Name: "viewer", Role: auth.RoleViewer}
)

// fakePlatform installs packages whose URL maps to a version in packages
type fakePlatform struct {
	mu        sync.Mutex
	plugins   map[string]platform.Plugin
	active    map[string]bool
	packages  map[string]string
	failNext  error
	installed []string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		plugins:  map[string]platform.Plugin{},
		active:   map[string]bool{},
		packages: map[string]string{},
	}
}

func (f *fakePlatform) add(slug, version string, active bool) {
	file := slug + "/" + slug + ".php"
	f.plugins[file] = platform.Plugin{File: file, Name: slug, Version: version}
	if active {
		f.active[file] = true
	}
}

func (f *fakePlatform) takeErr() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakePlatform) Plugins(_ context.Context) ([]platform.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]platform.Plugin, 0, len(f.plugins))
	for _, p := range f.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out, nil
}

func (f *fakePlatform) ActivePlugins(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for file := range f.active {
		out = append(out, file)
	}
	return out, nil
}

func (f *fakePlatform) Activate(_ context.Context, file string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.plugins[file]; !ok {
		return platform.ErrPluginNotFound
	}
	f.active[file] = true
	return nil
}

func (f *fakePlatform) Deactivate(_ context.Context, file string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, file)
	return nil
}

func (f *fakePlatform) Install(_ context.Context, slug, packageURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return "", err
	}
	v, ok := f.packages[packageURL]
	if !ok {
		return "", fmt.Errorf("download failed: %s", packageURL)
	}
	file := slug + "/" + slug + ".php"
	if _, exists := f.plugins[file]; exists {
		return "", platform.ErrDestinationExists
	}
	f.plugins[file] = platform.Plugin{File: file, Name: slug, Version: v}
	f.installed = append(f.installed, slug)
	return file, nil
}

func (f *fakePlatform) Upgrade(_ context.Context, file, packageURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return err
	}
	p, ok := f.plugins[file]
	if !ok {
		return platform.ErrPluginNotFound
	}
	v, ok := f.packages[packageURL]
	if !ok {
		return fmt.Errorf("download failed: %s", packageURL)
	}
	p.Version = v
	f.plugins[file] = p
	return nil
}

func (f *fakePlatform) Delete(_ context.Context, file string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return err
	}
	if _, ok := f.plugins[file]; !ok {
		return platform.ErrPluginNotFound
	}
	delete(f.plugins, file)
	delete(f.active, file)
	return nil
}

type fakeReleases struct {
	releases map[string][]github.Release
	err      error
}

func (r *fakeReleases) LatestRelease(_ context.Context, _, repo string) (*github.Release, error) {
	if r.err != nil {
		return nil, r.err
	}
	rels := r.releases[repo]
	if len(rels) == 0 {
		return nil, github.ErrNotFound
	}
	return &rels[0], nil
}

func (r *fakeReleases) ReleaseByTag(_ context.Context, _, repo, tag string) (*github.Release, error) {
	if r.err != nil {
		return nil, r.err
	}
	for _, rel := range r.releases[repo] {
		if rel.TagName == tag {
			rel := rel
			return &rel, nil
		}
	}
	return nil, github.ErrNotFound
}

func (r *fakeReleases) ListReleases(_ context.Context, _, repo string) ([]github.Release, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.releases[repo], nil
}

type staticSource struct {
	records []manifest.PluginRecord
}

func (s *staticSource) Name() string { return "static" }

func (s *staticSource) Fetch(_ context.Context) ([]manifest.PluginRecord, error) {
	return append([]manifest.PluginRecord(nil), s.records...), nil
}

type published struct {
	subject string
	data    interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(subject string, data interface{}) error {
	p.mu.Lock()
	p.events = append(p.events, published{subject, data})
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.subject == subject {
			n++
		}
	}
	return n
}

type memoryAudit struct {
	records []database.ActionRecord
}

func (a *memoryAudit) RecordAction(_ context.Context, rec database.ActionRecord) error {
	a.records = append(a.records, rec)
	return nil
}

type fixture struct {
	svc      *Service
	platform *fakePlatform
	releases *fakeReleases
	store    *kvstore.Memory
	events   *recordingPublisher
	audit    *memoryAudit
	source   *staticSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		platform: newFakePlatform(),
		releases: &fakeReleases{releases: map[string][]github.Release{
			"foo-plugin": {
				{TagName: "v1.2.0", ZipballURL: "https://api.github.test/foo/zipball/v1.2.0", Body: "Fixed **bugs**"},
				{TagName: "v1.1.0", ZipballURL: "https://api.github.test/foo/zipball/v1.1.0", Body: "- Added things"},
				{TagName: "v1.0.0", ZipballURL: "https://api.github.test/foo/zipball/v1.0.0", Body: "Initial"},
			},
		}},
		store:  kvstore.NewMemory(),
		events: &recordingPublisher{},
		audit:  &memoryAudit{},
		source: &staticSource{records: []manifest.PluginRecord{
			{ID: "foo-plugin", DisplayName: "Foo", Description: "desc", Version: "1.2.0", RepoURL: "https://github.com/Org/foo-plugin"},
			{ID: "bar-plugin", DisplayName: "Bar", Version: "2.0.0", RepoURL: "https://github.com/Org/bar-plugin"},
			{ID: "early-plugin", DisplayName: "Early", Version: "0.5.0", RepoURL: "https://github.com/Org/early-plugin"},
		}},
	}
	f.platform.packages["https://api.github.test/foo/zipball/v1.2.0"] = "1.2.0"
	f.platform.packages["https://api.github.test/foo/zipball/v1.1.0"] = "1.1.0"
	f.platform.packages["https://api.github.test/foo/zipball/v1.0.0"] = "1.0.0"

	f.svc = New(Options{
		Organization: "Org",
		Manifest:     manifest.NewCache(f.source, f.store, nil, nil),
		Platform:     f.platform,
		Releases:     f.releases,
		Store:        f.store,
		Events:       f.events,
		Audit:        f.audit,
	})
	return f
}

func expectKind(t *testing.T, err error, kind Kind, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s error, got nil", kind)
	}
	if KindOf(err) != kind {
		t.Errorf("Expected kind %s, got %s (%v)", kind, KindOf(err), err)
	}
	if msg != "" && err.Error() != msg {
		t.Errorf("Expected message %q, got %q", msg, err.Error())
	}
}

func TestDo_UnknownAction(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Do(context.Background(), admin, "format_disk", Params{})
	expectKind(t, err, KindInvalidInput, "Unknown action.")
	if f.svc.HasAction("format_disk") {
		t.Error("Expected HasAction false for unknown action")
	}
}

func TestPermissionDenied(t *testing.T) {
	f := newFixture(t)
	f.platform.add("foo-plugin", "1.0.0", true)
	ctx := context.Background()

	tests := []struct {
		action string
		msg    string
	}{
		{ActionInstall, "You do not have permission to install plugins."},
		{ActionUpdate, "You do not have permission to update plugins."},
		{ActionActivate, "You do not have permission to activate plugins."},
		{ActionDeactivate, "You do not have permission to deactivate plugins."},
		{ActionDelete, "You do not have permission to delete plugins."},
		{ActionDisable, "You do not have permission to disable plugins."},
		{ActionVerify, "You do not have permission to verify plugin updates."},
		{ActionToggleBeta, "You do not have permission to change this setting."},
		{ActionForceRefresh, "You do not have permission to refresh plugin information."},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			_, err := f.svc.Do(ctx, viewer, tt.action, Params{Repo: "foo-plugin", Version: "1.2.0"})
			expectKind(t, err, KindPermission, tt.msg)
		})
	}

	// Nothing changed
	if !f.platform.active["foo-plugin/foo-plugin.php"] {
		t.Error("Expected plugin to stay active after denied actions")
	}
	if len(f.platform.installed) != 0 {
		t.Errorf("Expected no installs, got %v", f.platform.installed)
	}
}

func TestInstall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Do(ctx, admin, ActionInstall, Params{Repo: "foo-plugin", Version: "1.2.0"})
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if res.Message != "Plugin installed successfully." {
		t.Errorf("Unexpected message %q", res.Message)
	}

	installed, _ := f.svc.Inspector().IsInstalled(ctx, "foo-plugin")
	if !installed {
		t.Error("Expected plugin to be installed")
	}

	tracked, err := f.svc.Tracked(ctx)
	if err != nil {
		t.Fatalf("Tracked failed: %v", err)
	}
	if tracked["foo-plugin"].File != "foo-plugin/foo-plugin.php" {
		t.Errorf("Expected tracked file, got %+v", tracked)
	}

	if len(f.audit.records) != 1 || !f.audit.records[0].Success {
		t.Errorf("Expected one successful audit record, got %+v", f.audit.records)
	}
	if f.events.count(events.SubjectActionCompleted) != 1 {
		t.Error("Expected action completed event")
	}
}

func TestInstall_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing fields", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Do(ctx, admin, ActionInstall, Params{Repo: "foo-plugin"})
		expectKind(t, err, KindInvalidInput, "Invalid plugin information.")
	})

	t.Run("unknown release", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Do(ctx, admin, ActionInstall, Params{Repo: "foo-plugin", Version: "9.9.9"})
		expectKind(t, err, KindTransport,
			"Unable to fetch download URL for foo-plugin v9.9.9. Please check the error log for more details.")
		if len(f.platform.installed) != 0 {
			t.Error("Expected no install attempt")
		}
	})

	t.Run("installer error surfaces message", func(t *testing.T) {
		f := newFixture(t)
		f.platform.failNext = errors.New("Destination folder already exists.")
		_, err := f.svc.Do(ctx, admin, ActionInstall, Params{Repo: "foo-plugin", Version: "1.2.0"})
		expectKind(t, err, KindPlatform, "Destination folder already exists.")
	})

	t.Run("explicit url", func(t *testing.T) {
		f := newFixture(t)
		f.platform.packages["https://example.test/custom.zip"] = "3.0.0"
		_, err := f.svc.Do(ctx, admin, ActionInstall, Params{Repo: "custom", URL: "https://example.test/custom.zip"})
		if err != nil {
			t.Fatalf("Install from URL failed: %v", err)
		}
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		f.platform.add("foo-plugin", "1.0.0", true)
		res, err := f.svc.Do(ctx, admin, ActionUpdate, Params{Repo: "foo-plugin", Version: "1.2.0"})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if res.Message != "Plugin updated successfully to version 1.2.0" {
			t.Errorf("Unexpected message %q", res.Message)
		}
	})

	t.Run("not installed", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Do(ctx, admin, ActionUpdate, Params{Repo: "foo-plugin", Version: "1.2.0"})
		expectKind(t, err, KindNotFound, "Plugin not found.")
	})

	t.Run("version mismatch", func(t *testing.T) {
		f := newFixture(t)
		f.platform.add("foo-plugin", "1.0.0", true)
		// The tag resolves to a package that still carries the old version.
		f.platform.packages["https://api.github.test/foo/zipball/v1.2.0"] = "1.1.0"
		_, err := f.svc.Do(ctx, admin, ActionUpdate, Params{Repo: "foo-plugin", Version: "1.2.0"})
		expectKind(t, err, KindVerification,
			"Update reported success but version mismatch. Please check the error log for more details.")
	})

	t.Run("upgrader failure", func(t *testing.T) {
		f := newFixture(t)
		f.platform.add("foo-plugin", "1.0.0", true)
		f.platform.failNext = errors.New("Could not remove the old plugin.")
		_, err := f.svc.Do(ctx, admin, ActionUpdate, Params{Repo: "foo-plugin", Version: "1.2.0"})
		expectKind(t, err, KindPlatform, "Could not remove the old plugin.")
	})
}

func TestActivateDeactivateDisable(t *testing.T) {
	f := newFixture(t)
	f.platform.add("foo-plugin", "1.2.0", false)
	ctx := context.Background()
	file := "foo-plugin/foo-plugin.php"

	if _, err := f.svc.Do(ctx, admin, ActionDisable, Params{Repo: "foo-plugin"}); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	disabled, _ := f.svc.Inspector().IsDisabled(ctx, "foo-plugin")
	if !disabled {
		t.Error("Expected disabled flag after disable")
	}

	res, err := f.svc.Do(ctx, admin, ActionActivate, Params{Repo: "foo-plugin"})
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if res.Message != "Plugin activated successfully." {
		t.Errorf("Unexpected message %q", res.Message)
	}
	if !f.platform.active[file] {
		t.Error("Expected plugin active")
	}
	disabled, _ = f.svc.Inspector().IsDisabled(ctx, "foo-plugin")
	if disabled {
		t.Error("Expected activate to clear the disabled flag")
	}

	if _, err := f.svc.Do(ctx, admin, ActionDeactivate, Params{Repo: "foo-plugin"}); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if f.platform.active[file] {
		t.Error("Expected plugin inactive")
	}

	_, err = f.svc.Do(ctx, admin, ActionActivate, Params{Repo: "missing"})
	expectKind(t, err, KindNotFound, "Plugin not found.")
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("active plugin", func(t *testing.T) {
		f := newFixture(t)
		f.platform.add("foo-plugin", "1.2.0", true)
		_, err := f.svc.Do(ctx, admin, ActionDelete, Params{Repo: "foo-plugin"})
		expectKind(t, err, KindConflict, "Please deactivate the plugin before deleting.")
		if _, ok := f.platform.plugins["foo-plugin/foo-plugin.php"]; !ok {
			t.Error("Expected active plugin to survive delete")
		}
	})

	t.Run("inactive plugin", func(t *testing.T) {
		f := newFixture(t)
		f.platform.add("foo-plugin", "1.2.0", false)
		res, err := f.svc.Do(ctx, admin, ActionDelete, Params{Repo: "foo-plugin"})
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if res.Message != "Plugin deleted successfully." {
			t.Errorf("Unexpected message %q", res.Message)
		}
	})

	t.Run("platform failure", func(t *testing.T) {
		f := newFixture(t)
		f.platform.add("foo-plugin", "1.2.0", false)
		f.platform.failNext = errors.New("permission denied")
		_, err := f.svc.Do(ctx, admin, ActionDelete, Params{Repo: "foo-plugin"})
		expectKind(t, err, KindPlatform, "Failed to delete the plugin.")
	})
}

func TestVerifyUpdate(t *testing.T) {
	f := newFixture(t)
	f.platform.add("foo-plugin", "1.1.0", false)
	ctx := context.Background()

	res, err := f.svc.Do(ctx, admin, ActionVerify, Params{Repo: "foo-plugin", Version: "1.1.0"})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if res.Message != "Plugin version verified: 1.1.0" {
		t.Errorf("Unexpected message %q", res.Message)
	}

	_, err = f.svc.Do(ctx, admin, ActionVerify, Params{Repo: "foo-plugin", Version: "1.2.0"})
	expectKind(t, err, KindVerification, "Plugin version mismatch. Expected: 1.2.0, Found: 1.1.0")

	for _, want := range []string{"0", "0.0.0"} {
		_, err = f.svc.Do(ctx, admin, ActionVerify, Params{Repo: "never-installed", Version: want})
		expectKind(t, err, KindVerification, "Plugin version mismatch. Expected: "+want+", Found: Not Installed")
	}
}

func TestToggleBeta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if f.svc.ShowBeta(ctx) {
		t.Error("Expected beta hidden by default")
	}
	f.svc.SetDefaultShowBeta(true)
	if !f.svc.ShowBeta(ctx) {
		t.Error("Expected configured default to apply")
	}

	res, err := f.svc.Do(ctx, admin, ActionToggleBeta, Params{ShowBeta: false})
	if err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	if res.Message != "Setting updated successfully." {
		t.Errorf("Unexpected message %q", res.Message)
	}
	if f.svc.ShowBeta(ctx) {
		t.Error("Expected stored setting to override the default")
	}
}

func TestForceRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// foo-plugin latest is v1.2.0, matching the manifest
	f.source.records = f.source.records[:1]
	res, err := f.svc.Do(ctx, admin, ActionForceRefresh, Params{})
	if err != nil {
		t.Fatalf("ForceRefresh failed: %v", err)
	}
	if res.Changed {
		t.Error("Expected no change")
	}
	if res.Message != "No updates found. Plugin information is already up to date." {
		t.Errorf("Unexpected message %q", res.Message)
	}

	f.releases.releases["foo-plugin"] = append([]github.Release{{TagName: "v1.3.0"}}, f.releases.releases["foo-plugin"]...)
	res, err = f.svc.Do(ctx, admin, ActionForceRefresh, Params{})
	if err != nil {
		t.Fatalf("ForceRefresh failed: %v", err)
	}
	if !res.Changed || res.Message != "Plugin information refreshed successfully." {
		t.Errorf("Expected refreshed result, got %+v", res)
	}
	if f.events.count(events.SubjectManifestRefreshed) != 1 {
		t.Error("Expected manifest refreshed event")
	}
}

func TestGetChangelog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Do(ctx, viewer, ActionChangelog, Params{Repo: "foo-plugin", CurrentVersion: "1.0.0", NewVersion: "1.2.0"})
	if err != nil {
		t.Fatalf("Changelog failed: %v", err)
	}
	if !strings.Contains(res.Changelog, "<h4>Version 1.2.0</h4>") || !strings.Contains(res.Changelog, "<h4>Version 1.1.0</h4>") {
		t.Errorf("Expected both versions in changelog, got %q", res.Changelog)
	}
	if strings.Contains(res.Changelog, "Version 1.0.0") {
		t.Error("Expected current version excluded")
	}
	if !strings.Contains(res.Changelog, "<strong>bugs</strong>") {
		t.Errorf("Expected rendered markdown, got %q", res.Changelog)
	}

	f.releases.err = errors.New("rate limited")
	_, err = f.svc.Do(ctx, viewer, ActionChangelog, Params{Repo: "foo-plugin", CurrentVersion: "1.0.0", NewVersion: "1.2.0"})
	expectKind(t, err, KindTransport, "Unable to fetch changelog.")
}

func TestChangelogRenderer_Sanitizes(t *testing.T) {
	r := newChangelogRenderer()
	out := r.Render([]github.Release{
		{TagName: "v2.0.0", Body: "<script>alert(1)</script>ok"},
		{TagName: "v1.5.0", Draft: true, Body: "draft"},
	}, "1.0.0", "2.0.0")

	if strings.Contains(out, "<script>") {
		t.Errorf("Expected script stripped, got %q", out)
	}
	if strings.Contains(out, "draft") {
		t.Errorf("Expected drafts skipped, got %q", out)
	}
}

func TestListing(t *testing.T) {
	f := newFixture(t)
	f.platform.add("foo-plugin", "1.0.0", false)
	f.platform.add("bar-plugin", "2.0.0", true)
	ctx := context.Background()

	listing, err := f.svc.Listing(ctx, admin, "all")
	if err != nil {
		t.Fatalf("Listing failed: %v", err)
	}
	if len(listing.Plugins) != 2 {
		t.Fatalf("Expected beta plugin hidden, got %d plugins", len(listing.Plugins))
	}
	if listing.Counts["all"] != 2 || listing.Counts["update"] != 1 || listing.Counts["active"] != 1 {
		t.Errorf("Unexpected counts %v", listing.Counts)
	}
	if listing.Counts["beta"] != 0 {
		t.Errorf("Expected hidden beta not counted, got %d", listing.Counts["beta"])
	}

	if _, err := f.svc.Do(ctx, admin, ActionToggleBeta, Params{ShowBeta: true}); err != nil {
		t.Fatal(err)
	}
	listing, _ = f.svc.Listing(ctx, admin, "beta")
	if len(listing.Plugins) != 1 || listing.Plugins[0].Plugin.ID != "early-plugin" {
		t.Errorf("Expected early-plugin under beta filter, got %+v", listing.Plugins)
	}

	_, err = f.svc.Listing(ctx, viewer, "all")
	expectKind(t, err, KindPermission, "")
}

func TestUpdateOffers(t *testing.T) {
	f := newFixture(t)
	f.platform.add("foo-plugin", "1.0.0", true)
	f.platform.add("early-plugin", "0.1.0", true)
	ctx := context.Background()

	offers, err := f.svc.UpdateOffers(ctx, admin)
	if err != nil {
		t.Fatalf("UpdateOffers failed: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("Expected one offer with beta hidden, got %+v", offers)
	}
	want := UpdateOffer{
		File:       "foo-plugin/foo-plugin.php",
		Slug:       "foo-plugin",
		NewVersion: "1.2.0",
		URL:        "https://github.com/Org/foo-plugin",
		Package:    "https://github.com/Org/foo-plugin/archive/refs/tags/v1.2.0.zip",
	}
	if offers[0] != want {
		t.Errorf("Expected %+v, got %+v", want, offers[0])
	}
}

func TestRefreshCacheAndPurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.RefreshCache(ctx, admin); err != nil {
		t.Fatalf("RefreshCache failed: %v", err)
	}
	if _, err := f.store.Get(ctx, manifest.CacheKey); err != nil {
		t.Errorf("Expected manifest cached after refresh: %v", err)
	}

	f.platform.add("foo-plugin", "1.2.0", false)
	if _, err := f.svc.Do(ctx, admin, ActionDisable, Params{Repo: "foo-plugin"}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Purge(ctx, viewer); KindOf(err) != KindPermission {
		t.Errorf("Expected permission error, got %v", err)
	}
	if _, err := f.svc.Purge(ctx, admin); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	for _, key := range []string{manifest.CacheKey, inspector.DisabledKey("foo-plugin")} {
		if _, err := f.store.Get(ctx, key); !errors.Is(err, kvstore.ErrNotFound) {
			t.Errorf("Expected %s purged, got %v", key, err)
		}
	}
}

func TestListedVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if v, ok := f.svc.ListedVersion(ctx, "bar-plugin"); !ok || v != "2.0.0" {
		t.Errorf("Expected bar-plugin at 2.0.0, got %q (%v)", v, ok)
	}
	if _, ok := f.svc.ListedVersion(ctx, "unknown-plugin"); ok {
		t.Error("Expected unknown plugin to be missing")
	}
}
