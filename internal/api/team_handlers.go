package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devpulse/devpulse/internal/forge"
	"github.com/devpulse/devpulse/internal/models"
	"github.com/devpulse/devpulse/internal/settings"
	"github.com/devpulse/devpulse/internal/syncer"
)

// getSettings returns the team's effective settings, merged over defaults.
func (s *Server) getSettings(c *gin.Context) {
	teamID, ok := s.pathID(c, "team_id")
	if !ok {
		return
	}

	team, err := s.store.GetTeam(c.Request.Context(), teamID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	resolved, err := settings.Resolve(team.AnalysisConfig, team.WorkflowConfig, team.MetricsConfig)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolved)
}

type settingsPatch struct {
	Analysis json.RawMessage `json:"analysis"`
	Workflow json.RawMessage `json:"workflow"`
	Metrics  json.RawMessage `json:"metrics"`
}

// putSettings deep merges partial override documents into the stored ones
// and returns the resulting effective settings. Manager only.
func (s *Server) putSettings(c *gin.Context) {
	teamID, ok := s.pathID(c, "team_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if caller := callerID(c); caller != 0 && caller != team.ManagerID {
		s.respondError(c, syncer.ErrNotManager)
		return
	}

	var patch settingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed settings patch"})
		return
	}

	merge := func(stored string, override json.RawMessage) (*string, error) {
		if len(override) == 0 {
			return nil, nil
		}
		merged, err := settings.PatchDocument(stored, string(override))
		if err != nil {
			return nil, err
		}
		return &merged, nil
	}

	analysis, err := merge(team.AnalysisConfig, patch.Analysis)
	if err != nil {
		s.respondError(c, err)
		return
	}
	workflow, err := merge(team.WorkflowConfig, patch.Workflow)
	if err != nil {
		s.respondError(c, err)
		return
	}
	metrics, err := merge(team.MetricsConfig, patch.Metrics)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if analysis != nil || workflow != nil || metrics != nil {
		if err := s.store.UpdateTeamConfigs(ctx, teamID, analysis, workflow, metrics); err != nil {
			s.respondError(c, err)
			return
		}
	}

	pick := func(updated *string, stored string) string {
		if updated != nil {
			return *updated
		}
		return stored
	}
	resolved, err := settings.Resolve(
		pick(analysis, team.AnalysisConfig),
		pick(workflow, team.WorkflowConfig),
		pick(metrics, team.MetricsConfig))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolved)
}

type repoAddRequest struct {
	URL string `json:"url" binding:"required"`
}

// addRepo links a repository URL to the team. Manager only.
func (s *Server) addRepo(c *gin.Context) {
	teamID, ok := s.pathID(c, "team_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if caller := callerID(c); caller != 0 && caller != team.ManagerID {
		s.respondError(c, syncer.ErrNotManager)
		return
	}

	var req repoAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	provider, owner, name, err := forge.ParseRepoURL(req.URL)
	if err != nil {
		s.respondError(c, err)
		return
	}

	repo, created, err := s.store.GetOrCreateRepository(ctx, &models.Repository{
		Provider:  provider,
		Owner:     owner,
		Name:      name,
		URL:       req.URL,
		ProjectID: &team.ProjectID,
		TeamID:    &team.ID,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !created && repo.TeamID != nil && *repo.TeamID == teamID {
		c.JSON(http.StatusConflict, gin.H{"error": "repository already added to this team"})
		return
	}
	c.JSON(http.StatusCreated, repo)
}

// listRepos returns the team's linked repositories.
func (s *Server) listRepos(c *gin.Context) {
	teamID, ok := s.pathID(c, "team_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		s.respondError(c, err)
		return
	}
	repos, err := s.store.ListTeamRepositories(ctx, teamID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if repos == nil {
		repos = []models.Repository{}
	}
	c.JSON(http.StatusOK, repos)
}

// removeRepo unlinks and deletes a team repository. Manager only.
func (s *Server) removeRepo(c *gin.Context) {
	teamID, ok := s.pathID(c, "team_id")
	if !ok {
		return
	}
	repoID, ok := s.pathID(c, "repo_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if caller := callerID(c); caller != 0 && caller != team.ManagerID {
		s.respondError(c, syncer.ErrNotManager)
		return
	}

	repo, err := s.store.GetRepository(ctx, repoID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if repo.TeamID == nil || *repo.TeamID != teamID {
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found in this team"})
		return
	}
	if err := s.store.DeleteRepository(ctx, repoID); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
