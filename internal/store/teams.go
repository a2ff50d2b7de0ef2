package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/devpulse/devpulse/internal/models"
)

// GetTeam fetches one team with its settings documents.
func (s *Store) GetTeam(ctx context.Context, id int64) (*models.Team, error) {
	var team models.Team
	err := s.db.GetContext(ctx, &team,
		`SELECT id, name, project_id, manager_id, vcs,
			COALESCE(analysis_config, '{}') AS analysis_config,
			COALESCE(workflow_config, '{}') AS workflow_config,
			COALESCE(metrics_config, '{}') AS metrics_config
		 FROM teams WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get team: %w", err)
	}
	return &team, nil
}

// UpdateTeamConfigs rewrites the settings documents that are non-nil.
func (s *Store) UpdateTeamConfigs(ctx context.Context, id int64, analysis, workflow, metrics *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE teams SET
			analysis_config = COALESCE($2, analysis_config),
			workflow_config = COALESCE($3, workflow_config),
			metrics_config = COALESCE($4, metrics_config)
		 WHERE id = $1`,
		id, analysis, workflow, metrics)
	if err != nil {
		return fmt.Errorf("update team configs: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
