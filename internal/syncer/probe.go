package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devpulse/devpulse/internal/cache"
	"github.com/devpulse/devpulse/internal/forge"
	"github.com/devpulse/devpulse/internal/models"
	"github.com/devpulse/devpulse/internal/ratelimit"
)

const probeCacheTTL = 5 * time.Minute

// RepoUpdate is the per-repository answer of the update probe. A per-repo
// forge failure populates Error and leaves the counts at their local
// values.
type RepoUpdate struct {
	RepositoryID    int64  `json:"repository_id"`
	Owner           string `json:"owner"`
	Name            string `json:"name"`
	DBCommitCount   int    `json:"db_commit_count"`
	ForgeCommits    int    `json:"forge_commit_count"`
	HasNew          bool   `json:"has_new"`
	NewCommitsCount int    `json:"new_commits_count"`
	Error           string `json:"error,omitempty"`
}

// TeamUpdates is the cached whole-team probe result.
type TeamUpdates struct {
	TeamID       int64        `json:"team_id"`
	CheckedAt    time.Time    `json:"checked_at"`
	HasUpdates   bool         `json:"has_updates"`
	Repositories []RepoUpdate `json:"repositories"`
	Cached       bool         `json:"cached"`
}

// Probe answers "are there new commits upstream?" cheaply, caching the
// whole-team result for five minutes.
type Probe struct {
	store     Store
	cache     cache.Cache
	limiter   *ratelimit.Limiter
	newClient ClientFactory
	logger    *logrus.Logger
	now       func() time.Time
}

// NewProbe wires the probe with its cache backend.
func NewProbe(st Store, c cache.Cache, limiter *ratelimit.Limiter, logger *logrus.Logger) *Probe {
	return &Probe{
		store:     st,
		cache:     c,
		limiter:   limiter,
		newClient: forge.New,
		logger:    logger,
		now:       time.Now,
	}
}

func probeCacheKey(teamID int64) string {
	return fmt.Sprintf("team-updates:%d", teamID)
}

// CheckTeamUpdates compares local and upstream commit counts for every team
// repository. Per-repo forge failures are reported in the result and never
// fail the probe.
func (p *Probe) CheckTeamUpdates(ctx context.Context, teamID int64, token string) (*TeamUpdates, error) {
	key := probeCacheKey(teamID)
	var cached TeamUpdates
	if hit, err := p.cache.Get(ctx, key, &cached); err == nil && hit {
		cached.Cached = true
		return &cached, nil
	}

	repos, err := p.store.ListTeamRepositories(ctx, teamID)
	if err != nil {
		return nil, err
	}

	result := &TeamUpdates{
		TeamID:    teamID,
		CheckedAt: p.now().UTC(),
	}
	for _, repo := range repos {
		upd := RepoUpdate{
			RepositoryID: repo.ID,
			Owner:        repo.Owner,
			Name:         repo.Name,
		}

		dbCount, err := p.store.CountCommitsByRepository(ctx, repo.ID)
		if err != nil {
			upd.Error = err.Error()
			result.Repositories = append(result.Repositories, upd)
			continue
		}
		upd.DBCommitCount = dbCount

		forgeCount, err := p.countUpstream(ctx, &repo, token)
		if err != nil {
			p.logger.WithError(err).WithField("repository", repo.FullName()).Warn("update probe failed for repository")
			upd.Error = err.Error()
			result.Repositories = append(result.Repositories, upd)
			continue
		}
		upd.ForgeCommits = forgeCount
		if forgeCount > dbCount {
			upd.HasNew = true
			upd.NewCommitsCount = forgeCount - dbCount
			result.HasUpdates = true
		}
		result.Repositories = append(result.Repositories, upd)
	}

	if err := p.cache.SetWithTTL(ctx, key, result, probeCacheTTL); err != nil {
		p.logger.WithError(err).Warn("probe cache write failed")
	}
	return result, nil
}

func (p *Probe) countUpstream(ctx context.Context, repo *models.Repository, token string) (int, error) {
	client, err := p.newClient(repo.Provider, token, p.limiter)
	if err != nil {
		return 0, err
	}
	return client.CountCommits(ctx, repo.Owner, repo.Name)
}

// Invalidate drops the cached team result, used after a sync completes.
func (p *Probe) Invalidate(ctx context.Context, teamID int64) {
	if err := p.cache.Delete(ctx, probeCacheKey(teamID)); err != nil {
		p.logger.WithError(err).Warn("probe cache invalidation failed")
	}
}
