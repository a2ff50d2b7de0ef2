package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devpulse/devpulse/internal/store"
)

// sprintStats serves the daily-bucketed analytics payload. days is a day
// count, "all", or absent for the team's configured sprint window.
func (s *Server) sprintStats(c *gin.Context) {
	teamID, ok := s.pathID(c, "team_id")
	if !ok {
		return
	}

	stats, err := s.analytics.SprintStats(c.Request.Context(), teamID, c.Query("days"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// commitDetails serves one commit with its enrichment, author, and file
// batch. Abbreviated SHAs of at least 7 characters resolve.
func (s *Server) commitDetails(c *gin.Context) {
	sha := c.Param("sha")
	if len(sha) < 7 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sha too short"})
		return
	}
	ctx := c.Request.Context()

	commit, err := s.store.GetCommitBySHA(ctx, sha)
	if err != nil {
		s.respondError(c, err)
		return
	}

	files, err := s.store.GetCommitFiles(ctx, commit.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	var authorLogin, authorAvatar *string
	if commit.ContributorID != nil {
		contrib, err := s.store.GetContributor(ctx, *commit.ContributorID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.respondError(c, err)
			return
		}
		if contrib != nil {
			authorLogin = contrib.Login
			authorAvatar = contrib.ProfileURL
		}
	}

	fileEntries := make([]gin.H, 0, len(files))
	for _, f := range files {
		fileEntries = append(fileEntries, gin.H{
			"file_path": f.FilePath,
			"additions": intValue(f.Additions),
			"deletions": intValue(f.Deletions),
			"language":  f.Language,
			"patch":     f.Patch,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"sha":                commit.SHA,
		"short_sha":          commit.ShortSHA(),
		"message":            commit.Message,
		"commit_type":        commit.CommitType,
		"is_conventional":    commit.IsConventional,
		"is_merge_commit":    commit.IsMergeCommit,
		"is_pr_commit":       commit.IsPRCommit,
		"is_revert_commit":   commit.IsRevertCommit,
		"is_breaking_change": commit.IsBreakingChange,
		"authored_at":        commit.AuthoredAt,
		"author_name":        commit.AuthorName,
		"author_email":       commit.AuthorEmail,
		"author_login":       authorLogin,
		"author_avatar":      authorAvatar,
		"additions":          intValue(commit.Additions),
		"deletions":          intValue(commit.Deletions),
		"changes":            intValue(commit.Changes),
		"files_changed":      intValue(commit.FilesChanged),
		"files":              fileEntries,
	})
}

// contributorCommits lists one contributor's scored commits.
func (s *Server) contributorCommits(c *gin.Context) {
	teamID, ok := s.pathID(c, "team_id")
	if !ok {
		return
	}
	login := c.Param("login")

	report, err := s.analytics.ContributorCommits(c.Request.Context(), teamID, login,
		queryInt(c, "days", 0), queryInt(c, "limit", 100), queryInt(c, "offset", 0))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func intValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
