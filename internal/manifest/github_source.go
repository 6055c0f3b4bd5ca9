package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Open-WP-Club/plugin-hub/internal/github"
)

// RepositoryAPI is the part of the GitHub client the source needs
type RepositoryAPI interface {
	ListOrgRepos(ctx context.Context, org string) ([]github.Repository, error)
	GetRepository(ctx context.Context, owner, repo string) (*github.Repository, error)
	LatestRelease(ctx context.Context, owner, repo string) (*github.Release, error)
}

// GitHubSource builds the manifest from repositories and their latest
// releases. With an explicit repository list only those are read; otherwise
// every public repository of the organization is considered.
type GitHubSource struct {
	api    RepositoryAPI
	org    string
	repos  []string
	logger *slog.Logger
}

// NewGitHubSource creates a source for org. repos may hold "name" or
// "owner/name" entries.
func NewGitHubSource(api RepositoryAPI, org string, repos []string, logger *slog.Logger) *GitHubSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHubSource{
		api:    api,
		org:    org,
		repos:  repos,
		logger: logger.With("component", "manifest-github"),
	}
}

// Name implements Source
func (s *GitHubSource) Name() string { return "github" }

type repoRef struct {
	owner string
	repo  *github.Repository
}

// Fetch implements Source. Repositories without a release, archived
// repositories and forks are skipped.
func (s *GitHubSource) Fetch(ctx context.Context) ([]PluginRecord, error) {
	refs, err := s.repositories(ctx)
	if err != nil {
		return nil, err
	}

	var (
		records  []PluginRecord
		failures int
		lastErr  error
	)
	for _, ref := range refs {
		if ref.repo.Archived || ref.repo.Fork {
			continue
		}

		rel, err := s.api.LatestRelease(ctx, ref.owner, ref.repo.Name)
		if errors.Is(err, github.ErrNotFound) {
			s.logger.Debug("Repository has no release", "repo", ref.repo.Name)
			continue
		}
		if err != nil {
			failures++
			lastErr = err
			s.logger.Warn("Failed to fetch latest release", "repo", ref.repo.Name, "error", err)
			continue
		}

		rec := PluginRecord{
			ID:          ref.repo.Name,
			DisplayName: DisplayName(ref.repo.Name),
			Description: ref.repo.Description,
			Version:     rel.Version(),
			RepoURL:     ref.repo.HTMLURL,
			DownloadURL: rel.ZipballURL,
		}
		if !rel.PublishedAt.IsZero() {
			published := rel.PublishedAt
			rec.PublishedAt = &published
		}
		records = append(records, rec)
	}

	if len(records) == 0 && failures > 0 {
		return nil, fmt.Errorf("all %d release lookups failed: %w", failures, lastErr)
	}
	return records, nil
}

func (s *GitHubSource) repositories(ctx context.Context) ([]repoRef, error) {
	if len(s.repos) == 0 {
		repos, err := s.api.ListOrgRepos(ctx, s.org)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories for %s: %w", s.org, err)
		}
		refs := make([]repoRef, 0, len(repos))
		for i := range repos {
			refs = append(refs, repoRef{owner: s.org, repo: &repos[i]})
		}
		return refs, nil
	}

	refs := make([]repoRef, 0, len(s.repos))
	for _, entry := range s.repos {
		owner, name := s.org, entry
		if strings.Contains(entry, "/") {
			var err error
			owner, name, err = github.ParseRepoURL(entry)
			if err != nil {
				return nil, err
			}
		}
		repo, err := s.api.GetRepository(ctx, owner, name)
		if errors.Is(err, github.ErrNotFound) {
			s.logger.Warn("Configured repository not found", "repo", entry)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read repository %s: %w", entry, err)
		}
		refs = append(refs, repoRef{owner: owner, repo: repo})
	}
	return refs, nil
}

// DisplayName turns a repository slug into a title, "plugin-hub" becomes
// "Plugin Hub".
func DisplayName(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool {
		return r == '-' || r == '_'
	})
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
