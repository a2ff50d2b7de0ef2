package store

import (
	"context"
	"fmt"
	"time"

	"github.com/devpulse/devpulse/internal/models"
)

// UpsertPullRequest writes a PR keyed by (repository_id, number). State is
// normalized to "merged" whenever a merge timestamp is present.
func (s *Store) UpsertPullRequest(ctx context.Context, pr *models.PullRequest) error {
	if pr.PRMergedAt != nil {
		pr.State = "merged"
	}
	query := `
		INSERT INTO pull_requests (repository_id, contributor_id, number, title, state,
			author_login, author_avatar, pr_created_at, pr_merged_at, pr_closed_at)
		VALUES (:repository_id, :contributor_id, :number, :title, :state,
			:author_login, :author_avatar, :pr_created_at, :pr_merged_at, :pr_closed_at)
		ON CONFLICT (repository_id, number) DO UPDATE SET
			title = EXCLUDED.title,
			state = EXCLUDED.state,
			author_login = EXCLUDED.author_login,
			author_avatar = EXCLUDED.author_avatar,
			pr_merged_at = EXCLUDED.pr_merged_at,
			pr_closed_at = EXCLUDED.pr_closed_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, pr); err != nil {
		return fmt.Errorf("upsert pull request: %w", err)
	}
	return nil
}

// UpsertIssue writes an issue keyed by (repository_id, number).
func (s *Store) UpsertIssue(ctx context.Context, issue *models.Issue) error {
	query := `
		INSERT INTO issues (repository_id, contributor_id, number, title, state,
			author_login, author_avatar, issue_created_at, issue_closed_at)
		VALUES (:repository_id, :contributor_id, :number, :title, :state,
			:author_login, :author_avatar, :issue_created_at, :issue_closed_at)
		ON CONFLICT (repository_id, number) DO UPDATE SET
			title = EXCLUDED.title,
			state = EXCLUDED.state,
			author_login = EXCLUDED.author_login,
			author_avatar = EXCLUDED.author_avatar,
			issue_closed_at = EXCLUDED.issue_closed_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, issue); err != nil {
		return fmt.Errorf("upsert issue: %w", err)
	}
	return nil
}

// GetPullsByTeamDateRange returns a team's PRs created inside [since, until].
func (s *Store) GetPullsByTeamDateRange(ctx context.Context, teamID int64, since, until time.Time) ([]models.PullRequest, error) {
	var pulls []models.PullRequest
	err := s.db.SelectContext(ctx, &pulls,
		`SELECT p.* FROM pull_requests p
		 JOIN repositories r ON r.id = p.repository_id
		 WHERE r.team_id = $1 AND p.pr_created_at >= $2 AND p.pr_created_at <= $3
		 ORDER BY p.pr_created_at DESC`,
		teamID, since, until)
	if err != nil {
		return nil, fmt.Errorf("get pulls by team range: %w", err)
	}
	return pulls, nil
}

// GetIssuesByTeamDateRange returns a team's issues created inside [since, until].
func (s *Store) GetIssuesByTeamDateRange(ctx context.Context, teamID int64, since, until time.Time) ([]models.Issue, error) {
	var issues []models.Issue
	err := s.db.SelectContext(ctx, &issues,
		`SELECT i.* FROM issues i
		 JOIN repositories r ON r.id = i.repository_id
		 WHERE r.team_id = $1 AND i.issue_created_at >= $2 AND i.issue_created_at <= $3
		 ORDER BY i.issue_created_at DESC`,
		teamID, since, until)
	if err != nil {
		return nil, fmt.Errorf("get issues by team range: %w", err)
	}
	return issues, nil
}
