package syncer

import (
	"context"

	"github.com/sirupsen/logrus"

	apperrors "github.com/devpulse/devpulse/internal/errors"
	"github.com/devpulse/devpulse/internal/forge"
	"github.com/devpulse/devpulse/internal/models"
	"github.com/devpulse/devpulse/internal/ratelimit"
	"github.com/devpulse/devpulse/internal/settings"
)

// Admission errors the HTTP layer maps to status codes.
var (
	ErrTooManySessions = apperrors.Admission("too many active sync sessions for this team")
	ErrNoRepositories  = apperrors.Config("team has no repositories to sync")
	ErrMissingToken    = apperrors.Config("forge token is not configured")
	ErrNotManager      = apperrors.Admission("caller is not the manager of this team")
)

// ClientFactory builds a forge client per provider; injectable for tests.
type ClientFactory func(provider models.Provider, token string, limiter *ratelimit.Limiter) (forge.Client, error)

// Dispatcher fans a team sync out to one background orchestrator per
// repository, bounded by the per-team admission gate.
type Dispatcher struct {
	store     Store
	limiter   *ratelimit.Limiter
	newClient ClientFactory
	logger    *logrus.Logger
}

// NewDispatcher wires the dispatcher. The limiter is the process-global
// instance shared by every orchestrator it spawns.
func NewDispatcher(st Store, limiter *ratelimit.Limiter, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		store:     st,
		limiter:   limiter,
		newClient: forge.New,
		logger:    logger,
	}
}

// DispatchedRepo pairs a created session with its repository.
type DispatchedRepo struct {
	SessionID    int64  `json:"session_id"`
	RepositoryID int64  `json:"repository_id"`
	Owner        string `json:"owner"`
	Name         string `json:"name"`
}

// DispatchResult is the synchronous answer to a sync request; outcomes are
// observed through the progress stream and status polling only.
type DispatchResult struct {
	SessionIDs   []int64          `json:"session_ids"`
	Repositories []DispatchedRepo `json:"repositories"`
}

// DispatchTeamSync admits and launches one sync session per team
// repository. callerID 0 skips the manager check (trusted internal
// callers, e.g. the CLI).
func (d *Dispatcher) DispatchTeamSync(ctx context.Context, teamID, callerID int64, token string) (*DispatchResult, error) {
	team, err := d.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if callerID != 0 && callerID != team.ManagerID {
		return nil, ErrNotManager
	}
	if token == "" {
		return nil, ErrMissingToken
	}

	repos, err := d.store.ListTeamRepositories(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		return nil, ErrNoRepositories
	}

	resolved, err := settings.Resolve(team.AnalysisConfig, team.WorkflowConfig, team.MetricsConfig)
	if err != nil {
		return nil, err
	}

	maxSessions := resolved.Workflow.Sync.MaxSessionsPerTeam
	if maxSessions <= 0 {
		maxSessions = settings.DefaultMaxSessionsPerTeam
	}
	active, err := d.store.CountActiveSessionsByTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if active >= maxSessions {
		return nil, ErrTooManySessions
	}

	result := &DispatchResult{}
	for i := range repos {
		repo := repos[i]
		client, err := d.newClient(repo.Provider, token, d.limiter)
		if err != nil {
			return nil, err
		}

		session, err := d.store.CreateSession(ctx, teamID, repo.ID)
		if err != nil {
			return nil, err
		}
		result.SessionIDs = append(result.SessionIDs, session.ID)
		result.Repositories = append(result.Repositories, DispatchedRepo{
			SessionID:    session.ID,
			RepositoryID: repo.ID,
			Owner:        repo.Owner,
			Name:         repo.Name,
		})

		// Detached from the request lifecycle; completion is observed
		// exclusively through the session row.
		orch := NewOrchestrator(d.store, client, &repo, session, resolved, d.logger)
		go func() {
			if err := orch.Run(context.Background()); err != nil {
				d.logger.WithError(err).WithField("session_id", session.ID).Error("sync session failed")
			}
		}()
	}

	d.logger.WithFields(logrus.Fields{
		"team_id":  teamID,
		"sessions": result.SessionIDs,
	}).Info("team sync dispatched")
	return result, nil
}
