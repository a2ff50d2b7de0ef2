package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/devpulse/devpulse/internal/models"
)

// GetOrCreateContributor creates the row keyed by (provider, external_id)
// or returns the existing one, refreshing mutable profile fields.
func (s *Store) GetOrCreateContributor(ctx context.Context, c *models.Contributor) (*models.Contributor, bool, error) {
	query := `
		INSERT INTO contributors (vcs_provider, external_id, login, display_name, email, profile_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (vcs_provider, external_id) DO NOTHING
		RETURNING *
	`
	var out models.Contributor
	err := s.db.GetContext(ctx, &out, query,
		c.Provider, c.ExternalID, c.Login, c.DisplayName, c.Email, c.ProfileURL)
	if err == nil {
		return &out, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("get or create contributor: %w", err)
	}

	err = s.db.GetContext(ctx, &out,
		`UPDATE contributors SET login = COALESCE($3, login),
			display_name = COALESCE($4, display_name),
			email = COALESCE($5, email),
			profile_url = COALESCE($6, profile_url)
		WHERE vcs_provider = $1 AND external_id = $2
		RETURNING *`,
		c.Provider, c.ExternalID, c.Login, c.DisplayName, c.Email, c.ProfileURL)
	if err != nil {
		return nil, false, fmt.Errorf("get or create contributor: %w", err)
	}
	return &out, false, nil
}

// GetContributor fetches one contributor by id.
func (s *Store) GetContributor(ctx context.Context, id int64) (*models.Contributor, error) {
	var c models.Contributor
	err := s.db.GetContext(ctx, &c, `SELECT * FROM contributors WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get contributor: %w", err)
	}
	return &c, nil
}

// GetContributorByLogin fetches a contributor by provider login.
func (s *Store) GetContributorByLogin(ctx context.Context, provider models.Provider, login string) (*models.Contributor, error) {
	var c models.Contributor
	err := s.db.GetContext(ctx, &c,
		`SELECT * FROM contributors WHERE vcs_provider = $1 AND login = $2`, provider, login)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get contributor by login: %w", err)
	}
	return &c, nil
}

// GetContributorsByIDs loads a batch of contributors, used by analytics to
// resolve avatars and logins without per-commit queries.
func (s *Store) GetContributorsByIDs(ctx context.Context, ids []int64) (map[int64]models.Contributor, error) {
	out := make(map[int64]models.Contributor, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM contributors WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("contributors by ids: %w", err)
	}
	query = s.db.Rebind(query)

	var rows []models.Contributor
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("contributors by ids: %w", err)
	}
	for _, c := range rows {
		out[c.ID] = c
	}
	return out, nil
}
