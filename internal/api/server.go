// Package api exposes the HTTP surface: sync dispatch and progress
// streaming, team repository and settings management, and the sprint
// analytics read endpoints.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devpulse/devpulse/internal/analytics"
	apperrors "github.com/devpulse/devpulse/internal/errors"
	"github.com/devpulse/devpulse/internal/models"
	"github.com/devpulse/devpulse/internal/store"
	"github.com/devpulse/devpulse/internal/syncer"
)

// Dispatcher admits and launches team syncs.
type Dispatcher interface {
	DispatchTeamSync(ctx context.Context, teamID, callerID int64, token string) (*syncer.DispatchResult, error)
}

// Prober answers the cached has-new-commits question.
type Prober interface {
	CheckTeamUpdates(ctx context.Context, teamID int64, token string) (*syncer.TeamUpdates, error)
}

// Analytics computes the sprint dashboard payloads.
type Analytics interface {
	SprintStats(ctx context.Context, teamID int64, window string) (*analytics.SprintStats, error)
	ContributorCommits(ctx context.Context, teamID int64, login string, days, limit, offset int) (*analytics.ContributorReport, error)
}

// Store is the persistence surface the handlers read and write directly.
// *store.Store satisfies it.
type Store interface {
	GetTeam(ctx context.Context, id int64) (*models.Team, error)
	UpdateTeamConfigs(ctx context.Context, id int64, analysis, workflow, metrics *string) error

	ListTeamRepositories(ctx context.Context, teamID int64) ([]models.Repository, error)
	GetOrCreateRepository(ctx context.Context, repo *models.Repository) (*models.Repository, bool, error)
	GetRepository(ctx context.Context, id int64) (*models.Repository, error)
	DeleteRepository(ctx context.Context, id int64) error

	GetSession(ctx context.Context, id int64) (*models.SyncSession, error)
	GetActiveSessionsByTeam(ctx context.Context, teamID int64) ([]models.SyncSession, error)
	GetLastCompletedSession(ctx context.Context, teamID int64) (*models.SyncSession, error)
	CountCommitsByTeam(ctx context.Context, teamID int64) (int, error)

	GetCommitBySHA(ctx context.Context, sha string) (*models.Commit, error)
	GetCommitFiles(ctx context.Context, commitID int64) ([]models.CommitFile, error)
	GetContributor(ctx context.Context, id int64) (*models.Contributor, error)
}

// Server wires the HTTP handlers to the service layer.
type Server struct {
	store      Store
	dispatcher Dispatcher
	probe      Prober
	analytics  Analytics
	forgeToken string
	log        *logrus.Logger

	// Progress stream tuning; tests shorten both.
	streamPoll  time.Duration
	streamTicks int
}

// NewServer builds the server. forgeToken is the service-level PAT used
// when a request carries no token of its own.
func NewServer(st Store, d Dispatcher, p Prober, a Analytics, forgeToken string, logger *logrus.Logger) *Server {
	return &Server{
		store:       st,
		dispatcher:  d,
		probe:       p,
		analytics:   a,
		forgeToken:  forgeToken,
		log:         logger,
		streamPoll:  500 * time.Millisecond,
		streamTicks: 240,
	}
}

// Router assembles the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID())

	r.GET("/health", s.health)

	team := r.Group("/team/:team_id")
	{
		team.POST("/sync", s.dispatchSync)
		team.GET("/sync-status", s.teamSyncStatus)
		team.GET("/check-updates", s.checkUpdates)
		team.GET("/settings", s.getSettings)
		team.PUT("/settings", s.putSettings)
		team.POST("/repos", s.addRepo)
		team.GET("/repos", s.listRepos)
		team.DELETE("/repos/:repo_id", s.removeRepo)
	}

	sync := r.Group("/sync")
	{
		sync.GET("/progress/:session_id", s.streamProgress)
		sync.GET("/status/:session_id", s.sessionStatus)
	}

	stats := r.Group("/stats")
	{
		stats.GET("/team/:team_id/sprint-stats", s.sprintStats)
		stats.GET("/team/:team_id/contributor/:login/commits", s.contributorCommits)
		stats.GET("/commit/:sha/details", s.commitDetails)
	}

	return r
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.log.WithField("addr", addr).Info("api server listening")
	return s.Router().Run(addr)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requestID tags every request for log correlation.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

// respondError maps the error taxonomy onto HTTP statuses.
func (s *Server) respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if err == syncer.ErrNotManager {
		status = http.StatusForbidden
	} else if errors.Is(err, store.ErrNotFound) {
		status = http.StatusNotFound
	} else if errors.Is(err, store.ErrConflict) {
		status = http.StatusConflict
	}
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// callerID identifies the requesting user; 0 means an unauthenticated or
// internal caller and skips management checks downstream.
func callerID(c *gin.Context) int64 {
	id, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// requestToken prefers a per-request token over the configured one.
func (s *Server) requestToken(c *gin.Context) string {
	if t := c.GetHeader("X-Forge-Token"); t != "" {
		return t
	}
	return s.forgeToken
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
