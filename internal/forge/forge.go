// Package forge abstracts the hosted source-control provider. The
// capability surface is the common model {commits, contributors, PRs,
// issues}; GitHub is the reference implementation and the only wired
// variant, but every record carries a provider tag so others can follow.
package forge

import (
	"context"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/devpulse/devpulse/internal/errors"
	"github.com/devpulse/devpulse/internal/models"
	"github.com/devpulse/devpulse/internal/ratelimit"
)

// Commit is the wire-level commit payload. List calls populate only the
// summary fields; GetCommit fills stats and files.
type Commit struct {
	SHA              string
	Message          string
	AuthoredAt       *time.Time
	CommittedAt      *time.Time
	AuthorName       string
	AuthorEmail      string
	AuthorLogin      string
	AuthorExternalID string
	ParentsCount     int
	Additions        int
	Deletions        int
	Total            int
	Files            []File
}

// File is one changed file inside a commit detail payload.
type File struct {
	Path      string
	Additions int
	Deletions int
	Changes   int
	Patch     string
}

// Contributor is a repository contributor as reported by the forge.
type Contributor struct {
	ExternalID string
	Login      string
	Name       string
	Email      string
	AvatarURL  string
	ProfileURL string
}

// PullRequest is the wire-level PR payload.
type PullRequest struct {
	Number       int
	Title        string
	State        string
	AuthorLogin  string
	AuthorAvatar string
	CreatedAt    *time.Time
	MergedAt     *time.Time
	ClosedAt     *time.Time
}

// Issue is the wire-level issue payload. Entries that are PRs in disguise
// are filtered out before they are returned.
type Issue struct {
	Number       int
	Title        string
	State        string
	AuthorLogin  string
	AuthorAvatar string
	CreatedAt    *time.Time
	ClosedAt     *time.Time
}

// Client is the provider capability consumed by the sync pipeline. Every
// method consumes one rate-limit token per HTTP request before it goes out.
type Client interface {
	// ListCommits pages through the commit list, newest first. A zero
	// since means full history; max > 0 caps the number collected.
	ListCommits(ctx context.Context, owner, repo string, since *time.Time, max int) ([]Commit, error)
	// GetCommit fetches one full commit with stats and files.
	GetCommit(ctx context.Context, owner, repo, ref string) (*Commit, error)
	// CountCommits probes the total commit count cheaply via the last-page
	// link, falling back to pagination counting.
	CountCommits(ctx context.Context, owner, repo string) (int, error)
	// ListContributors returns the repository contributors.
	ListContributors(ctx context.Context, owner, repo string) ([]Contributor, error)
	// ListPulls returns PRs created inside the [since, until] window.
	ListPulls(ctx context.Context, owner, repo string, since, until *time.Time) ([]PullRequest, error)
	// ListIssues returns issues, optionally updated since the given time.
	ListIssues(ctx context.Context, owner, repo string, since *time.Time) ([]Issue, error)
}

// New returns the client variant for a provider. A missing token is a
// configuration fault, never a retryable condition.
func New(provider models.Provider, token string, limiter *ratelimit.Limiter) (Client, error) {
	if token == "" {
		return nil, apperrors.Config("forge token is not configured")
	}
	switch provider {
	case models.ProviderGitHub:
		return NewGitHubClient(token, limiter), nil
	default:
		return nil, apperrors.Configf("unsupported forge provider %q", provider)
	}
}

var hostProviders = map[string]models.Provider{
	"github.com":    models.ProviderGitHub,
	"gitlab.com":    models.ProviderGitLab,
	"bitbucket.org": models.ProviderBitbucket,
}

// ParseRepoURL extracts (provider, owner, name) from a repository URL.
// Unrecognized hosts map to the svn provider; a URL without owner/name
// segments is a configuration error.
func ParseRepoURL(raw string) (models.Provider, string, string, error) {
	if !strings.HasPrefix(raw, "http") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", apperrors.Wrapf(err, apperrors.KindConfig, "invalid repository URL %q", raw)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	provider, ok := hostProviders[host]
	if !ok {
		provider = models.ProviderSVN
	}

	var parts []string
	for _, p := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return "", "", "", apperrors.Configf("cannot parse owner/repo from URL %q", raw)
	}
	owner := parts[0]
	name := strings.TrimSuffix(parts[1], ".git")
	return provider, owner, name, nil
}
