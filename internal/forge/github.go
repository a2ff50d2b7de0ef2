package forge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"

	apperrors "github.com/devpulse/devpulse/internal/errors"
	"github.com/devpulse/devpulse/internal/ratelimit"
)

const (
	listTimeout  = 60 * time.Second
	probeTimeout = 30 * time.Second

	maxRetries   = 3
	retryBackoff = 5 * time.Second

	perPage = 100
)

// GitHubClient implements Client against the GitHub REST API. All requests
// pass through the shared rate limiter first.
type GitHubClient struct {
	gh      *github.Client
	limiter *ratelimit.Limiter

	// backoff is replaceable in tests.
	backoff time.Duration
}

// NewGitHubClient builds a client authenticated with a personal access
// token.
func NewGitHubClient(token string, limiter *ratelimit.Limiter) *GitHubClient {
	httpClient := &http.Client{Timeout: listTimeout}
	return &GitHubClient{
		gh:      github.NewClient(httpClient).WithAuthToken(token),
		limiter: limiter,
		backoff: retryBackoff,
	}
}

// acquire blocks on the shared budget before each HTTP request.
func (c *GitHubClient) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// withRetry runs fn up to maxRetries times with a fixed backoff, retrying
// only transient failures (network errors, HTTP 5xx). The last error is
// returned after exhaustion.
func (c *GitHubClient) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isTransient(err) || attempt == maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
	return err
}

// isTransient reports whether an error is worth retrying: anything that is
// not an HTTP response (network failure, timeout), or a 5xx.
func isTransient(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) {
		return ghErr.Response != nil && ghErr.Response.StatusCode >= 500
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return false
	}
	return true
}

// ListCommits pages through the repository commit list, newest first.
func (c *GitHubClient) ListCommits(ctx context.Context, owner, repo string, since *time.Time, max int) ([]Commit, error) {
	opts := &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	if since != nil {
		opts.Since = *since
	}

	var all []Commit
	for {
		if err := c.acquire(ctx); err != nil {
			return nil, err
		}

		var (
			commits []*github.RepositoryCommit
			resp    *github.Response
		)
		err := c.withRetry(ctx, func() error {
			var ferr error
			commits, resp, ferr = c.gh.Repositories.ListCommits(ctx, owner, repo, opts)
			return ferr
		})
		if err != nil {
			return nil, apperrors.Upstreamf(err, "list commits %s/%s", owner, repo)
		}

		for _, rc := range commits {
			all = append(all, commitSummary(rc))
			if max > 0 && len(all) >= max {
				return all, nil
			}
		}

		if len(commits) == 0 || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// GetCommit fetches one commit with its stats and file list.
func (c *GitHubClient) GetCommit(ctx context.Context, owner, repo, ref string) (*Commit, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}

	var rc *github.RepositoryCommit
	err := c.withRetry(ctx, func() error {
		var ferr error
		rc, _, ferr = c.gh.Repositories.GetCommit(ctx, owner, repo, ref, nil)
		return ferr
	})
	if err != nil {
		return nil, apperrors.Upstreamf(err, "get commit %s/%s@%s", owner, repo, ref)
	}

	commit := commitSummary(rc)
	commit.Additions = rc.GetStats().GetAdditions()
	commit.Deletions = rc.GetStats().GetDeletions()
	commit.Total = rc.GetStats().GetTotal()
	for _, f := range rc.Files {
		commit.Files = append(commit.Files, File{
			Path:      f.GetFilename(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
			Changes:   f.GetChanges(),
			Patch:     f.GetPatch(),
		})
	}
	return &commit, nil
}

// CountCommits probes the total commit count from the rel="last" page
// number of a per_page=1 request. Repositories small enough to fit one
// page carry no last-page link; the length of that page is the count.
func (c *GitHubClient) CountCommits(ctx context.Context, owner, repo string) (int, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := c.acquire(probeCtx); err != nil {
		return 0, err
	}

	opts := &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	}
	var (
		commits []*github.RepositoryCommit
		resp    *github.Response
	)
	err := c.withRetry(probeCtx, func() error {
		var ferr error
		commits, resp, ferr = c.gh.Repositories.ListCommits(probeCtx, owner, repo, opts)
		return ferr
	})
	if err != nil {
		return 0, apperrors.Upstreamf(err, "count commits %s/%s", owner, repo)
	}

	if resp.LastPage > 0 {
		return resp.LastPage, nil
	}
	return len(commits), nil
}

// ListContributors returns the first contributors page; teams larger than
// one page are rare at this granularity.
func (c *GitHubClient) ListContributors(ctx context.Context, owner, repo string) ([]Contributor, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}

	opts := &github.ListContributorsOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	var raw []*github.Contributor
	err := c.withRetry(ctx, func() error {
		var ferr error
		raw, _, ferr = c.gh.Repositories.ListContributors(ctx, owner, repo, opts)
		return ferr
	})
	if err != nil {
		return nil, apperrors.Upstreamf(err, "list contributors %s/%s", owner, repo)
	}

	out := make([]Contributor, 0, len(raw))
	for _, u := range raw {
		out = append(out, Contributor{
			ExternalID: fmt.Sprintf("%d", u.GetID()),
			Login:      u.GetLogin(),
			Name:       u.GetName(),
			Email:      u.GetEmail(),
			AvatarURL:  u.GetAvatarURL(),
			ProfileURL: u.GetHTMLURL(),
		})
	}
	return out, nil
}

// ListPulls pages through all PRs newest-first and filters by the created
// window client-side, stopping early once a page drops below since.
func (c *GitHubClient) ListPulls(ctx context.Context, owner, repo string, since, until *time.Time) ([]PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var all []PullRequest
	for {
		if err := c.acquire(ctx); err != nil {
			return nil, err
		}

		var (
			pulls []*github.PullRequest
			resp  *github.Response
		)
		err := c.withRetry(ctx, func() error {
			var ferr error
			pulls, resp, ferr = c.gh.PullRequests.List(ctx, owner, repo, opts)
			return ferr
		})
		if err != nil {
			return nil, apperrors.Upstreamf(err, "list pulls %s/%s", owner, repo)
		}

		for _, pr := range pulls {
			created := pr.GetCreatedAt().Time
			if since != nil && created.Before(*since) {
				return all, nil
			}
			if until != nil && created.After(*until) {
				continue
			}
			all = append(all, PullRequest{
				Number:       pr.GetNumber(),
				Title:        pr.GetTitle(),
				State:        pr.GetState(),
				AuthorLogin:  pr.GetUser().GetLogin(),
				AuthorAvatar: pr.GetUser().GetAvatarURL(),
				CreatedAt:    timestampPtr(pr.GetCreatedAt()),
				MergedAt:     timestampPtr(pr.GetMergedAt()),
				ClosedAt:     timestampPtr(pr.GetClosedAt()),
			})
		}

		if len(pulls) == 0 || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// ListIssues pages through repository issues, dropping PRs duplicated on
// the issues feed.
func (c *GitHubClient) ListIssues(ctx context.Context, owner, repo string, since *time.Time) ([]Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	if since != nil {
		opts.Since = *since
	}

	var all []Issue
	for {
		if err := c.acquire(ctx); err != nil {
			return nil, err
		}

		var (
			issues []*github.Issue
			resp   *github.Response
		)
		err := c.withRetry(ctx, func() error {
			var ferr error
			issues, resp, ferr = c.gh.Issues.ListByRepo(ctx, owner, repo, opts)
			return ferr
		})
		if err != nil {
			return nil, apperrors.Upstreamf(err, "list issues %s/%s", owner, repo)
		}

		for _, is := range issues {
			if is.IsPullRequest() {
				continue
			}
			all = append(all, Issue{
				Number:       is.GetNumber(),
				Title:        is.GetTitle(),
				State:        is.GetState(),
				AuthorLogin:  is.GetUser().GetLogin(),
				AuthorAvatar: is.GetUser().GetAvatarURL(),
				CreatedAt:    timestampPtr(is.GetCreatedAt()),
				ClosedAt:     timestampPtr(is.GetClosedAt()),
			})
		}

		if len(issues) == 0 || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func commitSummary(rc *github.RepositoryCommit) Commit {
	c := Commit{
		SHA:          rc.GetSHA(),
		Message:      rc.GetCommit().GetMessage(),
		AuthorName:   rc.GetCommit().GetAuthor().GetName(),
		AuthorEmail:  rc.GetCommit().GetAuthor().GetEmail(),
		AuthorLogin:  rc.GetAuthor().GetLogin(),
		ParentsCount: len(rc.Parents),
		AuthoredAt:   timestampPtr(rc.GetCommit().GetAuthor().GetDate()),
		CommittedAt:  timestampPtr(rc.GetCommit().GetCommitter().GetDate()),
	}
	if id := rc.GetAuthor().GetID(); id != 0 {
		c.AuthorExternalID = fmt.Sprintf("%d", id)
	}
	return c
}

func timestampPtr(ts github.Timestamp) *time.Time {
	if ts.IsZero() {
		return nil
	}
	t := ts.Time
	return &t
}
