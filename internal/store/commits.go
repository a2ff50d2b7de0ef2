package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/devpulse/devpulse/internal/models"
)

// CommitDetails carries the optional fields UpdateCommitDetails may rewrite.
// Only non-nil fields touch the stored row; identity fields (sha, repo) are
// not updatable.
type CommitDetails struct {
	ContributorID *int64
	AuthoredAt    *time.Time
	CommittedAt   *time.Time
	AuthorName    *string
	AuthorEmail   *string
	Additions     *int
	Deletions     *int
	Changes       *int
	FilesChanged  *int
	ParentsCount  *int

	CommitType        *string
	IsConventional    *bool
	ConventionalType  *string
	ConventionalScope *string
	IsBreakingChange  *bool
	IsMergeCommit     *bool
	IsPRCommit        *bool
	IsRevertCommit    *bool
}

// GetCommitByRepoAndSHA fetches one commit by its natural key.
func (s *Store) GetCommitByRepoAndSHA(ctx context.Context, repoID int64, sha string) (*models.Commit, error) {
	var c models.Commit
	err := s.db.GetContext(ctx, &c,
		`SELECT * FROM commits WHERE repository_id = $1 AND sha = $2`, repoID, sha)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get commit by sha: %w", err)
	}
	return &c, nil
}

// GetCommitBySHA fetches a commit by SHA alone, for the read endpoints that
// carry no repository context. SHA prefixes of at least 7 chars match.
func (s *Store) GetCommitBySHA(ctx context.Context, sha string) (*models.Commit, error) {
	var c models.Commit
	err := s.db.GetContext(ctx, &c,
		`SELECT * FROM commits WHERE sha LIKE $1 || '%' ORDER BY id LIMIT 1`, sha)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get commit: %w", err)
	}
	return &c, nil
}

// ListRepoSHAs returns the set of SHAs already persisted for a repository,
// used by the orchestrator to skip existing commits.
func (s *Store) ListRepoSHAs(ctx context.Context, repoID int64) (map[string]struct{}, error) {
	var shas []string
	err := s.db.SelectContext(ctx, &shas,
		`SELECT sha FROM commits WHERE repository_id = $1`, repoID)
	if err != nil {
		return nil, fmt.Errorf("list repo shas: %w", err)
	}
	out := make(map[string]struct{}, len(shas))
	for _, sha := range shas {
		out[sha] = struct{}{}
	}
	return out, nil
}

// GetOrCreateCommit creates the base commit row keyed by (repository_id,
// sha) or returns the existing one. Sole create path for commits.
func (s *Store) GetOrCreateCommit(ctx context.Context, c *models.Commit) (*models.Commit, bool, error) {
	return s.getOrCreateCommit(ctx, s.db, c)
}

func (s *Store) getOrCreateCommit(ctx context.Context, q sqlx.ExtContext, c *models.Commit) (*models.Commit, bool, error) {
	query := `
		INSERT INTO commits (repository_id, contributor_id, sha, message, authored_at, parents_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (repository_id, sha) DO NOTHING
		RETURNING *
	`
	var out models.Commit
	err := sqlx.GetContext(ctx, q, &out, query,
		c.RepositoryID, c.ContributorID, c.SHA, c.Message, c.AuthoredAt, c.ParentsCount)
	if err == nil {
		return &out, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("get or create commit: %w", err)
	}

	err = sqlx.GetContext(ctx, q, &out,
		`SELECT * FROM commits WHERE repository_id = $1 AND sha = $2`, c.RepositoryID, c.SHA)
	if err != nil {
		return nil, false, fmt.Errorf("get or create commit: %w", err)
	}
	return &out, false, nil
}

// UpdateCommitDetails rewrites the fields present in details, leaving the
// rest untouched.
func (s *Store) UpdateCommitDetails(ctx context.Context, id int64, details CommitDetails) error {
	return s.updateCommitDetails(ctx, s.db, id, details)
}

func (s *Store) updateCommitDetails(ctx context.Context, q sqlx.ExtContext, id int64, details CommitDetails) error {
	set := make([]string, 0, 18)
	args := make([]interface{}, 0, 19)
	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if details.ContributorID != nil {
		add("contributor_id", *details.ContributorID)
	}
	if details.AuthoredAt != nil {
		add("authored_at", *details.AuthoredAt)
	}
	if details.CommittedAt != nil {
		add("committed_at", *details.CommittedAt)
	}
	if details.AuthorName != nil {
		add("author_name", *details.AuthorName)
	}
	if details.AuthorEmail != nil {
		add("author_email", *details.AuthorEmail)
	}
	if details.Additions != nil {
		add("additions", *details.Additions)
	}
	if details.Deletions != nil {
		add("deletions", *details.Deletions)
	}
	if details.Changes != nil {
		add("changes", *details.Changes)
	}
	if details.FilesChanged != nil {
		add("files_changed", *details.FilesChanged)
	}
	if details.ParentsCount != nil {
		add("parents_count", *details.ParentsCount)
	}
	if details.CommitType != nil {
		add("commit_type", *details.CommitType)
	}
	if details.IsConventional != nil {
		add("is_conventional", *details.IsConventional)
	}
	if details.ConventionalType != nil {
		add("conventional_type", *details.ConventionalType)
	}
	if details.ConventionalScope != nil {
		add("conventional_scope", *details.ConventionalScope)
	}
	if details.IsBreakingChange != nil {
		add("is_breaking_change", *details.IsBreakingChange)
	}
	if details.IsMergeCommit != nil {
		add("is_merge_commit", *details.IsMergeCommit)
	}
	if details.IsPRCommit != nil {
		add("is_pr_commit", *details.IsPRCommit)
	}
	if details.IsRevertCommit != nil {
		add("is_revert_commit", *details.IsRevertCommit)
	}

	if len(set) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE commits SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update commit details: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PersistEnrichedCommit writes one fully-enriched commit in a single
// transaction: base row, detail update, and a full replacement of the file
// batch. Safe to re-run; a second pass reports created=false and rewrites
// the enrichment.
func (s *Store) PersistEnrichedCommit(ctx context.Context, base *models.Commit, details CommitDetails, files []models.CommitFile) (created bool, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	commit, created, err := s.getOrCreateCommit(ctx, tx, base)
	if err != nil {
		return false, err
	}
	if err = s.updateCommitDetails(ctx, tx, commit.ID, details); err != nil {
		return false, err
	}
	if err = s.replaceCommitFiles(ctx, tx, commit.ID, files); err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return created, nil
}

// replaceCommitFiles deletes any previous batch and bulk inserts the new
// one.
func (s *Store) replaceCommitFiles(ctx context.Context, tx *sqlx.Tx, commitID int64, files []models.CommitFile) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM commit_files WHERE commit_id = $1`, commitID); err != nil {
		return fmt.Errorf("delete commit files: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	rows := make([]models.CommitFile, len(files))
	copy(rows, files)
	for i := range rows {
		rows[i].CommitID = commitID
	}

	query := `
		INSERT INTO commit_files (commit_id, file_path, additions, deletions, changes, language, patch)
		VALUES (:commit_id, :file_path, :additions, :deletions, :changes, :language, :patch)
	`
	if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("bulk insert commit files: %w", err)
	}
	return nil
}

// GetCommitFiles returns the file batch of one commit.
func (s *Store) GetCommitFiles(ctx context.Context, commitID int64) ([]models.CommitFile, error) {
	var files []models.CommitFile
	err := s.db.SelectContext(ctx, &files,
		`SELECT * FROM commit_files WHERE commit_id = $1 ORDER BY id`, commitID)
	if err != nil {
		return nil, fmt.Errorf("get commit files: %w", err)
	}
	return files, nil
}

// GetCommitsByRepository returns a repository's commits newest first.
func (s *Store) GetCommitsByRepository(ctx context.Context, repoID int64, limit, offset int) ([]models.Commit, error) {
	var commits []models.Commit
	err := s.db.SelectContext(ctx, &commits,
		`SELECT * FROM commits WHERE repository_id = $1
		 ORDER BY authored_at DESC NULLS LAST LIMIT $2 OFFSET $3`,
		repoID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get commits by repository: %w", err)
	}
	return commits, nil
}

// GetCommitsByTeamDateRange returns all commits of a team's repositories
// authored inside [since, until], newest first.
func (s *Store) GetCommitsByTeamDateRange(ctx context.Context, teamID int64, since, until time.Time) ([]models.Commit, error) {
	var commits []models.Commit
	err := s.db.SelectContext(ctx, &commits,
		`SELECT c.* FROM commits c
		 JOIN repositories r ON r.id = c.repository_id
		 WHERE r.team_id = $1 AND c.authored_at >= $2 AND c.authored_at <= $3
		 ORDER BY c.authored_at DESC`,
		teamID, since, until)
	if err != nil {
		return nil, fmt.Errorf("get commits by team range: %w", err)
	}
	return commits, nil
}

// GetContributorCommits returns one contributor's commits across a team's
// repositories inside the window, newest first, paged.
func (s *Store) GetContributorCommits(ctx context.Context, teamID int64, login string, since, until time.Time, limit, offset int) ([]models.Commit, error) {
	var commits []models.Commit
	err := s.db.SelectContext(ctx, &commits,
		`SELECT c.* FROM commits c
		 JOIN repositories r ON r.id = c.repository_id
		 JOIN contributors ct ON ct.id = c.contributor_id
		 WHERE r.team_id = $1 AND ct.login = $2
		   AND c.authored_at >= $3 AND c.authored_at <= $4
		 ORDER BY c.authored_at DESC LIMIT $5 OFFSET $6`,
		teamID, login, since, until, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get contributor commits: %w", err)
	}
	return commits, nil
}

// CountCommitsByRepository is the cheap local side of the update probe.
func (s *Store) CountCommitsByRepository(ctx context.Context, repoID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM commits WHERE repository_id = $1`, repoID)
	if err != nil {
		return 0, fmt.Errorf("count commits: %w", err)
	}
	return n, nil
}

// CountCommitsByTeam counts all persisted commits of a team's repositories.
func (s *Store) CountCommitsByTeam(ctx context.Context, teamID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM commits c
		 JOIN repositories r ON r.id = c.repository_id
		 WHERE r.team_id = $1`, teamID)
	if err != nil {
		return 0, fmt.Errorf("count team commits: %w", err)
	}
	return n, nil
}
