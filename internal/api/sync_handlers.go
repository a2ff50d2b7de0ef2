package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devpulse/devpulse/internal/models"
	"github.com/devpulse/devpulse/internal/store"
)

// progressSnapshot is the wire shape shared by the status poll endpoint and
// the SSE stream.
type progressSnapshot struct {
	SessionID         int64             `json:"session_id"`
	Status            models.SyncStatus `json:"status"`
	TotalCommits      int               `json:"total_commits"`
	ProcessedCommits  int               `json:"processed_commits"`
	NewCommits        int               `json:"new_commits"`
	ProgressPercent   int               `json:"progress_percent"`
	CurrentPhase      *string           `json:"current_phase"`
	SprintCommitsDone bool              `json:"sprint_commits_done"`
	Errors            []string          `json:"errors"`
}

func snapshotOf(s *models.SyncSession) progressSnapshot {
	errs := s.Errors
	if errs == nil {
		errs = []string{}
	}
	return progressSnapshot{
		SessionID:         s.ID,
		Status:            s.Status,
		TotalCommits:      s.TotalCommits,
		ProcessedCommits:  s.ProcessedCommits,
		NewCommits:        s.NewCommits,
		ProgressPercent:   s.ProgressPercent(),
		CurrentPhase:      s.CurrentPhase,
		SprintCommitsDone: s.SprintCommitsDone,
		Errors:            errs,
	}
}

// dispatchSync launches one sync session per team repository. The response
// is synchronous admission only; outcomes are observed via the progress
// stream or status polling.
func (s *Server) dispatchSync(c *gin.Context) {
	teamID, ok := s.pathID(c, "team_id")
	if !ok {
		return
	}

	result, err := s.dispatcher.DispatchTeamSync(c.Request.Context(), teamID, callerID(c), s.requestToken(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// teamSyncStatus aggregates the team's sync picture: whether any data is in
// the store, the last completed session, and what is in flight.
func (s *Server) teamSyncStatus(c *gin.Context) {
	teamID, ok := s.pathID(c, "team_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		s.respondError(c, err)
		return
	}

	total, err := s.store.CountCommitsByTeam(ctx, teamID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	var lastSync *time.Time
	last, err := s.store.GetLastCompletedSession(ctx, teamID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.respondError(c, err)
		return
	}
	if last != nil {
		lastSync = last.CompletedAt
	}

	active, err := s.store.GetActiveSessionsByTeam(ctx, teamID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	snapshots := make([]progressSnapshot, 0, len(active))
	for i := range active {
		snapshots = append(snapshots, snapshotOf(&active[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"has_data":             total > 0,
		"last_sync":            lastSync,
		"total_commits_in_db":  total,
		"active_sync_sessions": snapshots,
		"needs_initial_sync":   total == 0 && last == nil,
	})
}

// checkUpdates runs the cached upstream probe.
func (s *Server) checkUpdates(c *gin.Context) {
	teamID, ok := s.pathID(c, "team_id")
	if !ok {
		return
	}

	result, err := s.probe.CheckTeamUpdates(c.Request.Context(), teamID, s.requestToken(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// sessionStatus is the one-shot polling alternative to the SSE stream.
func (s *Server) sessionStatus(c *gin.Context) {
	sessionID, ok := s.pathID(c, "session_id")
	if !ok {
		return
	}

	session, err := s.store.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshotOf(session))
}
