package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/devpulse/devpulse/internal/models"
)

// CreateRepository inserts a repository row and returns it refreshed.
func (s *Store) CreateRepository(ctx context.Context, repo *models.Repository) (*models.Repository, error) {
	query := `
		INSERT INTO repositories (vcs_provider, external_id, owner, name, url,
			default_branch, project_id, team_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`
	var out models.Repository
	err := s.db.GetContext(ctx, &out, query,
		repo.Provider, repo.ExternalID, repo.Owner, repo.Name, repo.URL,
		repo.DefaultBranch, repo.ProjectID, repo.TeamID)
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}
	return &out, nil
}

// GetRepository fetches one repository by id.
func (s *Store) GetRepository(ctx context.Context, id int64) (*models.Repository, error) {
	var repo models.Repository
	err := s.db.GetContext(ctx, &repo, `SELECT * FROM repositories WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return &repo, nil
}

// GetRepositoryByURL fetches a repository by its canonical URL.
func (s *Store) GetRepositoryByURL(ctx context.Context, url string) (*models.Repository, error) {
	var repo models.Repository
	err := s.db.GetContext(ctx, &repo, `SELECT * FROM repositories WHERE url = $1`, url)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get repository by url: %w", err)
	}
	return &repo, nil
}

// GetOrCreateRepository creates the row keyed by (provider, owner, name) or
// returns the existing one. The created flag reflects the actual outcome.
func (s *Store) GetOrCreateRepository(ctx context.Context, repo *models.Repository) (*models.Repository, bool, error) {
	query := `
		INSERT INTO repositories (vcs_provider, external_id, owner, name, url,
			default_branch, project_id, team_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (vcs_provider, owner, name) DO NOTHING
		RETURNING *
	`
	var out models.Repository
	err := s.db.GetContext(ctx, &out, query,
		repo.Provider, repo.ExternalID, repo.Owner, repo.Name, repo.URL,
		repo.DefaultBranch, repo.ProjectID, repo.TeamID)
	if err == nil {
		return &out, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("get or create repository: %w", err)
	}

	// Row already existed; the conflict swallowed the insert.
	err = s.db.GetContext(ctx, &out,
		`SELECT * FROM repositories WHERE vcs_provider = $1 AND owner = $2 AND name = $3`,
		repo.Provider, repo.Owner, repo.Name)
	if err != nil {
		return nil, false, fmt.Errorf("get or create repository: %w", err)
	}
	return &out, false, nil
}

// ListTeamRepositories returns the repositories linked to a team.
func (s *Store) ListTeamRepositories(ctx context.Context, teamID int64) ([]models.Repository, error) {
	var repos []models.Repository
	err := s.db.SelectContext(ctx, &repos,
		`SELECT * FROM repositories WHERE team_id = $1 ORDER BY id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team repositories: %w", err)
	}
	return repos, nil
}

// DeleteRepository removes a repository row; dependent rows cascade.
func (s *Store) DeleteRepository(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
