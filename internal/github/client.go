// Package github is a small client for the parts of the GitHub REST API the hub
// needs: organization repositories and their releases.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Open-WP-Club/plugin-hub/internal/version"
)

const (
	// DefaultBaseURL is the public GitHub API endpoint
	DefaultBaseURL = "https://api.github.com"
	// DefaultUserAgent identifies the hub to GitHub
	DefaultUserAgent = "WordPress/Plugin-Hub"

	perPage  = 100
	maxPages = 10
)

// ErrNotFound is matched by APIError values with a 404 status
var ErrNotFound = errors.New("github: not found")

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API error: %s - %s", e.Status, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Repository is the subset of repository fields the hub reads
type Repository struct {
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	HTMLURL     string `json:"html_url"`
	Archived    bool   `json:"archived"`
	Fork        bool   `json:"fork"`
	Private     bool   `json:"private"`
}

// Release is a published GitHub release
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	ZipballURL  string    `json:"zipball_url"`
	HTMLURL     string    `json:"html_url"`
	Body        string    `json:"body"`
}

// Version returns the tag with any "v" prefix removed
func (r Release) Version() string {
	return version.Normalize(r.TagName)
}

// Config configures a Client
type Config struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration
}

// Client talks to the GitHub REST API. Requests are unauthenticated unless a
// token is configured.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a client from cfg, filling in defaults
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "github"),
		token:      cfg.Token,
	}
}

// SetToken replaces the API token. An empty token disables authentication.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) authToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ListOrgRepos returns every repository in the organization
func (c *Client) ListOrgRepos(ctx context.Context, org string) ([]Repository, error) {
	var all []Repository
	for page := 1; page <= maxPages; page++ {
		var repos []Repository
		path := fmt.Sprintf("/orgs/%s/repos?type=public&per_page=%d&page=%d", url.PathEscape(org), perPage, page)
		if err := c.get(ctx, path, &repos); err != nil {
			return nil, err
		}
		all = append(all, repos...)
		if len(repos) < perPage {
			break
		}
	}
	return all, nil
}

// GetRepository returns a single repository
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	var r Repository
	if err := c.get(ctx, repoPath(owner, repo, ""), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// LatestRelease returns the newest non-draft, non-prerelease release
func (c *Client) LatestRelease(ctx context.Context, owner, repo string) (*Release, error) {
	var r Release
	if err := c.get(ctx, repoPath(owner, repo, "/releases/latest"), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ReleaseByTag returns the release published for tag
func (c *Client) ReleaseByTag(ctx context.Context, owner, repo, tag string) (*Release, error) {
	var r Release
	if err := c.get(ctx, repoPath(owner, repo, "/releases/tags/"+url.PathEscape(tag)), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReleases returns releases newest first, as GitHub orders them
func (c *Client) ListReleases(ctx context.Context, owner, repo string) ([]Release, error) {
	var releases []Release
	if err := c.get(ctx, repoPath(owner, repo, fmt.Sprintf("/releases?per_page=%d", perPage)), &releases); err != nil {
		return nil, err
	}
	return releases, nil
}

// Download streams the body at rawURL into w. The token is only sent to
// GitHub hosts.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("invalid package URL %s", SanitizeURL(rawURL))
	}
	req.Header.Set("User-Agent", c.userAgent)
	if token := c.authToken(); token != "" && isGitHubHost(req.URL.Host, c.baseURL) {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// *url.Error repeats the raw URL
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return 0, fmt.Errorf("download %s: %w", SanitizeURL(rawURL), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download failed: %s", resp.Status)
	}
	return io.Copy(w, resp.Body)
}

// SanitizeURL strips credentials and the query string, which may carry
// signed tokens, so a package URL can be logged or shown
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[invalid-url]"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", c.userAgent)
	if token := c.authToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Debug("GitHub API error", "path", path, "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func repoPath(owner, repo, suffix string) string {
	return fmt.Sprintf("/repos/%s/%s%s", url.PathEscape(owner), url.PathEscape(repo), suffix)
}

func isGitHubHost(host, baseURL string) bool {
	if host == "github.com" || strings.HasSuffix(host, ".github.com") || strings.HasSuffix(host, ".githubusercontent.com") {
		return true
	}
	base, err := url.Parse(baseURL)
	return err == nil && base.Host == host
}

var ownerRepoPattern = regexp.MustCompile(`^([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)$`)

// ParseRepoURL extracts owner and repo from "owner/repo" or a github.com URL
func ParseRepoURL(raw string) (owner, repo string, err error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	s = strings.TrimPrefix(s, "github.com/")
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")

	matches := ownerRepoPattern.FindStringSubmatch(s)
	if matches == nil {
		return "", "", fmt.Errorf("invalid GitHub repository: %s", raw)
	}
	return matches[1], matches[2], nil
}
