package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/devpulse/devpulse/internal/models"
)

// sessionRow adapts the text[] errors column for sqlx scanning. The outer
// field shadows the model's slice during scans.
type sessionRow struct {
	models.SyncSession
	ErrorList pq.StringArray `db:"errors"`
}

func (r *sessionRow) toModel() *models.SyncSession {
	s := r.SyncSession
	s.Errors = []string(r.ErrorList)
	if s.Errors == nil {
		s.Errors = []string{}
	}
	return &s
}

// ProgressUpdate carries the counters UpdateSessionProgress may rewrite;
// nil fields are left untouched.
type ProgressUpdate struct {
	Status            *models.SyncStatus
	TotalCommits      *int
	ProcessedCommits  *int
	NewCommits        *int
	CurrentPhase      *string
	SprintCommitsDone *bool
}

// CreateSession opens a new sync session in status queued.
func (s *Store) CreateSession(ctx context.Context, teamID, repoID int64) (*models.SyncSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		`INSERT INTO sync_sessions (team_id, repository_id, status, errors)
		 VALUES ($1, $2, $3, '{}')
		 RETURNING *`,
		teamID, repoID, models.SyncQueued)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return row.toModel(), nil
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, id int64) (*models.SyncSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sync_sessions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return row.toModel(), nil
}

// UpdateSessionProgress rewrites only the counters present in the update.
func (s *Store) UpdateSessionProgress(ctx context.Context, id int64, upd ProgressUpdate) error {
	set := []string{"updated_at = NOW()"}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.TotalCommits != nil {
		add("total_commits", *upd.TotalCommits)
	}
	if upd.ProcessedCommits != nil {
		add("processed_commits", *upd.ProcessedCommits)
	}
	if upd.NewCommits != nil {
		add("new_commits", *upd.NewCommits)
	}
	if upd.CurrentPhase != nil {
		add("current_phase", *upd.CurrentPhase)
	}
	if upd.SprintCommitsDone != nil {
		add("sprint_commits_done", *upd.SprintCommitsDone)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE sync_sessions SET %s WHERE id = $%d",
		strings.Join(set, ", "), len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendSessionError appends one message to the session's error list.
func (s *Store) AppendSessionError(ctx context.Context, id int64, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_sessions SET errors = array_append(errors, $2), updated_at = NOW() WHERE id = $1`,
		id, message)
	if err != nil {
		return fmt.Errorf("append session error: %w", err)
	}
	return nil
}

// MarkSessionRunning transitions queued -> running and stamps started_at.
func (s *Store) MarkSessionRunning(ctx context.Context, id int64, startedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_sessions SET status = $2, started_at = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $4`,
		id, models.SyncRunning, startedAt, models.SyncQueued)
	if err != nil {
		return fmt.Errorf("mark session running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// MarkSessionCompleted finalizes a successful run with its result payload.
// The final counters are rewritten here so the terminal row agrees with the
// result blob regardless of how in-flight progress writes interleaved.
func (s *Store) MarkSessionCompleted(ctx context.Context, id int64, completedAt time.Time, result json.RawMessage, processedCommits, newCommits int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_sessions SET status = $2, completed_at = $3, result = $4,
			processed_commits = $5, new_commits = $6, current_phase = $7, updated_at = NOW()
		 WHERE id = $1`,
		id, models.SyncCompleted, completedAt, result, processedCommits, newCommits, models.PhaseComplete)
	if err != nil {
		return fmt.Errorf("mark session completed: %w", err)
	}
	return nil
}

// MarkSessionFailed finalizes a failed run, appending any trailing errors.
func (s *Store) MarkSessionFailed(ctx context.Context, id int64, completedAt time.Time, errs []string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_sessions SET status = $2, completed_at = $3,
			errors = errors || $4, updated_at = NOW()
		 WHERE id = $1`,
		id, models.SyncFailed, completedAt, pq.Array(errs))
	if err != nil {
		return fmt.Errorf("mark session failed: %w", err)
	}
	return nil
}

// MarkSessionCancelled requests cancellation; the orchestrator observes it
// at the next phase boundary.
func (s *Store) MarkSessionCancelled(ctx context.Context, id int64, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_sessions SET status = $2, completed_at = $3, updated_at = NOW()
		 WHERE id = $1 AND status IN ($4, $5)`,
		id, models.SyncCancelled, completedAt, models.SyncQueued, models.SyncRunning)
	if err != nil {
		return fmt.Errorf("mark session cancelled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// GetActiveSessionsByTeam returns the team's sessions still in queued or
// running.
func (s *Store) GetActiveSessionsByTeam(ctx context.Context, teamID int64) ([]models.SyncSession, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM sync_sessions WHERE team_id = $1 AND status IN ($2, $3)
		 ORDER BY created_at`,
		teamID, models.SyncQueued, models.SyncRunning)
	if err != nil {
		return nil, fmt.Errorf("get active sessions: %w", err)
	}
	out := make([]models.SyncSession, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toModel())
	}
	return out, nil
}

// CountActiveSessionsByTeam is the admission-control read.
func (s *Store) CountActiveSessionsByTeam(ctx context.Context, teamID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM sync_sessions WHERE team_id = $1 AND status IN ($2, $3)`,
		teamID, models.SyncQueued, models.SyncRunning)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return n, nil
}

// GetLastCompletedSession returns the team's most recent completed session,
// ErrNotFound when none finished yet.
func (s *Store) GetLastCompletedSession(ctx context.Context, teamID int64) (*models.SyncSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM sync_sessions WHERE team_id = $1 AND status = $2
		 ORDER BY completed_at DESC LIMIT 1`,
		teamID, models.SyncCompleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get last completed session: %w", err)
	}
	return row.toModel(), nil
}
