package manifest

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Open-WP-Club/plugin-hub/internal/github"
)

func TestCSVSource_Fetch(t *testing.T) {
	var token string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.URL.Query().Get("token")
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	src := NewCSVSource(server.URL+"/plugins.csv", ParseOptions{}, nil, nil)
	src.now = func() time.Time { return time.Unix(1700000000, 0) }

	records, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Expected 2 records, got %d", len(records))
	}
	if token != "1700000000" {
		t.Errorf("Expected cache-busting token, got %q", token)
	}
}

func TestCSVSource_WarnsOnDroppedRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	// info level, so debug output would not show up
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	src := NewCSVSource(server.URL, ParseOptions{}, logger, nil)
	if _, err := src.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "Dropped manifest row") {
		t.Errorf("Expected a warning for the short row, got:\n%s", out)
	}
}

func TestCSVSource_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	src := NewCSVSource(server.URL, ParseOptions{}, nil, nil)
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Error("Expected error for 500 response")
	}
}

type fakeRepoAPI struct {
	repos    []github.Repository
	releases map[string]*github.Release
	errs     map[string]error
}

func (f *fakeRepoAPI) ListOrgRepos(_ context.Context, _ string) ([]github.Repository, error) {
	return f.repos, nil
}

func (f *fakeRepoAPI) GetRepository(_ context.Context, _, repo string) (*github.Repository, error) {
	for i := range f.repos {
		if f.repos[i].Name == repo {
			return &f.repos[i], nil
		}
	}
	return nil, &github.APIError{StatusCode: http.StatusNotFound, Status: "404 Not Found"}
}

func (f *fakeRepoAPI) LatestRelease(_ context.Context, _, repo string) (*github.Release, error) {
	if err, ok := f.errs[repo]; ok {
		return nil, err
	}
	if rel, ok := f.releases[repo]; ok {
		return rel, nil
	}
	return nil, &github.APIError{StatusCode: http.StatusNotFound, Status: "404 Not Found"}
}

func TestGitHubSource_Fetch(t *testing.T) {
	api := &fakeRepoAPI{
		repos: []github.Repository{
			{Name: "alpha-tools", Description: "Alpha", HTMLURL: "https://github.com/Open-WP-Club/alpha-tools"},
			{Name: ".github"},
			{Name: "old", Archived: true},
			{Name: "forked", Fork: true},
		},
		releases: map[string]*github.Release{
			"alpha-tools": {TagName: "v1.3.0", ZipballURL: "https://example.test/alpha.zip", PublishedAt: time.Unix(1700000000, 0)},
			"old":         {TagName: "v0.1.0"},
			"forked":      {TagName: "v0.1.0"},
		},
	}

	records, err := NewGitHubSource(api, "Open-WP-Club", nil, nil).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d: %+v", len(records), records)
	}
	rec := records[0]
	if rec.ID != "alpha-tools" || rec.Version != "1.3.0" || rec.DisplayName != "Alpha Tools" {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if rec.DownloadURL != "https://example.test/alpha.zip" || rec.PublishedAt == nil {
		t.Errorf("Expected release metadata, got %+v", rec)
	}
}

func TestGitHubSource_ExplicitRepos(t *testing.T) {
	api := &fakeRepoAPI{
		repos: []github.Repository{{Name: "alpha"}, {Name: "beta"}},
		releases: map[string]*github.Release{
			"alpha": {TagName: "1.0.0"},
			"beta":  {TagName: "v2.0.0"},
		},
	}

	records, err := NewGitHubSource(api, "Open-WP-Club", []string{"beta", "missing"}, nil).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "beta" || records[0].Version != "2.0.0" {
		t.Errorf("Unexpected records: %+v", records)
	}
}

func TestGitHubSource_AllLookupsFail(t *testing.T) {
	api := &fakeRepoAPI{
		repos: []github.Repository{{Name: "alpha"}},
		errs:  map[string]error{"alpha": &github.APIError{StatusCode: http.StatusForbidden, Status: "403 Forbidden"}},
	}

	if _, err := NewGitHubSource(api, "Open-WP-Club", nil, nil).Fetch(context.Background()); err == nil {
		t.Error("Expected error when every release lookup fails")
	}
}
