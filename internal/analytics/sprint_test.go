package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devpulse/devpulse/internal/models"
	"github.com/devpulse/devpulse/internal/store"
)

type fakeStore struct {
	team         *models.Team
	commits      []models.Commit
	pulls        []models.PullRequest
	issues       []models.Issue
	contributors map[int64]models.Contributor
	byLogin      map[string]*models.Contributor
}

func (f *fakeStore) GetTeam(_ context.Context, id int64) (*models.Team, error) {
	if f.team == nil || f.team.ID != id {
		return nil, store.ErrNotFound
	}
	t := *f.team
	return &t, nil
}

func (f *fakeStore) GetCommitsByTeamDateRange(_ context.Context, _ int64, since, until time.Time) ([]models.Commit, error) {
	var out []models.Commit
	for _, c := range f.commits {
		if c.AuthoredAt != nil && !c.AuthoredAt.Before(since) && !c.AuthoredAt.After(until) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) GetPullsByTeamDateRange(_ context.Context, _ int64, since, until time.Time) ([]models.PullRequest, error) {
	var out []models.PullRequest
	for _, p := range f.pulls {
		if p.PRCreatedAt != nil && !p.PRCreatedAt.Before(since) && !p.PRCreatedAt.After(until) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetIssuesByTeamDateRange(_ context.Context, _ int64, since, until time.Time) ([]models.Issue, error) {
	var out []models.Issue
	for _, i := range f.issues {
		if i.IssueCreatedAt != nil && !i.IssueCreatedAt.Before(since) && !i.IssueCreatedAt.After(until) {
			out = append(out, i)
		}
	}
	return out, nil
}

func (f *fakeStore) GetContributorsByIDs(_ context.Context, ids []int64) (map[int64]models.Contributor, error) {
	out := make(map[int64]models.Contributor)
	for _, id := range ids {
		if c, ok := f.contributors[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (f *fakeStore) GetContributorByLogin(_ context.Context, _ models.Provider, login string) (*models.Contributor, error) {
	if c, ok := f.byLogin[login]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetContributorCommits(_ context.Context, _ int64, login string, since, until time.Time, limit, offset int) ([]models.Commit, error) {
	contrib, ok := f.byLogin[login]
	if !ok {
		return nil, nil
	}
	var out []models.Commit
	for _, c := range f.commits {
		if c.ContributorID == nil || *c.ContributorID != contrib.ID {
			continue
		}
		if c.AuthoredAt == nil || c.AuthoredAt.Before(since) || c.AuthoredAt.After(until) {
			continue
		}
		out = append(out, c)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func strPtr(s string) *string       { return &s }
func intPtr(n int) *int             { return &n }
func int64Ptr(n int64) *int64       { return &n }
func timePtr(t time.Time) *time.Time { return &t }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newAnalyzer(f *fakeStore, now time.Time) *Analyzer {
	a := NewAnalyzer(f, quietLogger())
	a.now = func() time.Time { return now }
	return a
}

func featCommit(sha string, contribID int64, at time.Time, additions int) models.Commit {
	return models.Commit{
		SHA:           sha,
		ContributorID: int64Ptr(contribID),
		Message:       "feat: " + sha,
		AuthoredAt:    timePtr(at),
		Additions:     intPtr(additions),
		Deletions:     intPtr(1),
		CommitType:    strPtr("feat"),
	}
}

func teamFixture() (*fakeStore, time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alice := models.Contributor{ID: 1, Provider: models.ProviderGitHub, ExternalID: "501",
		Login: strPtr("alice"), ProfileURL: strPtr("https://example.com/alice.png")}
	return &fakeStore{
		team:         &models.Team{ID: 1, Name: "core"},
		contributors: map[int64]models.Contributor{1: alice},
		byLogin:      map[string]*models.Contributor{"alice": &alice},
	}, now
}

func TestSprintStatsPerfectQualityIndex(t *testing.T) {
	f, now := teamFixture()
	f.commits = []models.Commit{
		featCommit("aaaaaaa1", 1, now.AddDate(0, 0, -1), 10),
		featCommit("aaaaaaa2", 1, now.AddDate(0, 0, -2), 8),
		featCommit("aaaaaaa3", 1, now.AddDate(0, 0, -3), 6),
	}

	stats, err := newAnalyzer(f, now).SprintStats(context.Background(), 1, "")
	require.NoError(t, err)

	// Three significant feature commits, zero fixes: every DQI component
	// is at its maximum.
	require.Len(t, stats.Contributors, 1)
	top := stats.Contributors[0]
	assert.Equal(t, "alice", top.Login)
	assert.Equal(t, 3, top.TotalCommits)
	assert.Equal(t, 3, top.SignificantCommits)
	assert.Equal(t, 100.0, top.QualityIndex)
	assert.Equal(t, map[string]int{"feat": 3}, top.CommitsByType)
	assert.Equal(t, 72.0, top.WeightedScore)

	assert.Equal(t, 3, stats.Summary.TotalCommits)
	assert.Equal(t, 24, stats.Summary.TotalAdditions)
	assert.Equal(t, 3, stats.Summary.ActiveDays)
	assert.Equal(t, 1, stats.Summary.UniqueContributors)

	// 14 default sprint days, one bucket each.
	assert.Len(t, stats.DailyStats, 14)
	assert.False(t, stats.PeriodInfo.Limited)
	assert.Equal(t, "14", stats.PeriodInfo.Preset)
}

func TestSprintStatsBucketsPullsAndIssues(t *testing.T) {
	f, now := teamFixture()
	day := now.AddDate(0, 0, -1)
	f.commits = []models.Commit{featCommit("aaaaaaa1", 1, day, 10)}
	f.pulls = []models.PullRequest{
		{Number: 7, Title: "Add widgets", State: "merged", AuthorLogin: strPtr("alice"),
			PRCreatedAt: timePtr(day), PRMergedAt: timePtr(day.Add(time.Hour))},
		{Number: 8, Title: "Drafts", State: "open", AuthorLogin: strPtr("mallory"),
			PRCreatedAt: timePtr(day)},
	}
	f.issues = []models.Issue{
		{Number: 30, Title: "Widget crash", State: "open", AuthorLogin: strPtr("alice"),
			IssueCreatedAt: timePtr(day)},
	}

	stats, err := newAnalyzer(f, now).SprintStats(context.Background(), 1, "7")
	require.NoError(t, err)

	var bucket *DailyBucket
	for i := range stats.DailyStats {
		if stats.DailyStats[i].Date == day.Format("2006-01-02") {
			bucket = &stats.DailyStats[i]
		}
	}
	require.NotNil(t, bucket)
	assert.Equal(t, 1, bucket.CommitCount)
	assert.Equal(t, 2, bucket.PRCount)
	assert.Equal(t, 1, bucket.IssueCount)
	require.Len(t, bucket.Commits, 1)
	assert.Equal(t, "aaaaaaa", bucket.Commits[0].ShortSHA)

	// PR and issue credit accrues only to contributors with commits.
	top := stats.Contributors[0]
	assert.Equal(t, 1, top.PRsOpened)
	assert.Equal(t, 1, top.PRsMerged)
	assert.Equal(t, 1, top.IssuesOpened)

	assert.Equal(t, 2, stats.Summary.TotalPRs)
	assert.Equal(t, 1, stats.Summary.TotalIssues)
	assert.Len(t, stats.DailyStats, 7)
}

func TestSprintStatsAllModeTruncates(t *testing.T) {
	f, now := teamFixture()
	base := now.AddDate(-2, 0, 0)
	for i := 0; i < allModeCommitCap+10; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		f.commits = append(f.commits, featCommit(fmt.Sprintf("sha%07d", i), 1, at, 6))
	}

	stats, err := newAnalyzer(f, now).SprintStats(context.Background(), 1, AllWindow)
	require.NoError(t, err)

	assert.True(t, stats.PeriodInfo.Limited)
	require.NotNil(t, stats.PeriodInfo.Limit)
	assert.Equal(t, allModeCommitCap, *stats.PeriodInfo.Limit)
	assert.Equal(t, allModeCommitCap, stats.PeriodInfo.TotalCommits)
	assert.Equal(t, AllWindow, stats.PeriodInfo.Preset)
	assert.Nil(t, stats.Sprint.DurationDays)

	// The window shrinks to the kept commits and the chart is capped.
	assert.LessOrEqual(t, len(stats.DailyStats), maxBucketDays)

	// Truncation keeps the newest commits: the oldest ten fall out, so the
	// recomputed start moves 10 hours forward.
	wantStart := base.Add(10 * time.Hour).Format("2006-01-02")
	assert.Equal(t, wantStart, stats.PeriodInfo.StartDate)
}

func TestSprintStatsEmptyTeam(t *testing.T) {
	f, now := teamFixture()

	stats, err := newAnalyzer(f, now).SprintStats(context.Background(), 1, "")
	require.NoError(t, err)

	assert.Empty(t, stats.Contributors)
	assert.Equal(t, 0, stats.Summary.TotalCommits)
	assert.Equal(t, 0, stats.Summary.ActiveDays)
	assert.Len(t, stats.DailyStats, 14)
	assert.Equal(t, now.AddDate(0, 0, -14).Format("2006-01-02"), stats.PeriodInfo.StartDate)
}

func TestSprintStatsRejectsBadWindow(t *testing.T) {
	f, now := teamFixture()

	_, err := newAnalyzer(f, now).SprintStats(context.Background(), 1, "soon")
	assert.Error(t, err)

	_, err = newAnalyzer(f, now).SprintStats(context.Background(), 1, "-3")
	assert.Error(t, err)
}

func TestQualityIndex(t *testing.T) {
	tests := []struct {
		name        string
		byType      map[string]int
		total       int
		significant int
		want        float64
	}{
		{"no commits", nil, 0, 0, 0},
		{"all feature significant", map[string]int{"feat": 3}, 3, 3, 100.0},
		{"only fixes", map[string]int{"fix": 4}, 4, 0, 0.0},
		{"half feat half fix", map[string]int{"feat": 2, "fix": 2}, 4, 4, 60.0},
		{"chores only", map[string]int{"chore": 5}, 5, 5, 50.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, qualityIndex(tt.byType, tt.total, tt.significant))
		})
	}
}

func TestQualityScore(t *testing.T) {
	// feat weight 3.0, boosted: 100 * 3.0 / 10 * 1.2 = 36.
	assert.Equal(t, 36, qualityScore(100, 3.0, "feat"))
	// fix weight 2.0, neutral: 50 * 2.0 / 10 * 1.0 = 10.
	assert.Equal(t, 10, qualityScore(50, 2.0, "fix"))
	// unknown type damped: 100 * 0.5 / 10 * 0.8 = 4.
	assert.Equal(t, 4, qualityScore(100, 0.5, "other"))
	// clamped at 100.
	assert.Equal(t, 100, qualityScore(10000, 3.0, "feat"))
}

func TestContributorCommitsScoring(t *testing.T) {
	f, now := teamFixture()
	f.commits = []models.Commit{
		featCommit("aaaaaaa1", 1, now.AddDate(0, 0, -1), 100),
		{
			SHA:           "bbbbbbb1",
			ContributorID: int64Ptr(1),
			Message:       "chore: bump deps\n\ndetails",
			AuthoredAt:    timePtr(now.AddDate(0, 0, -2)),
			Additions:     intPtr(2),
			Deletions:     intPtr(2),
		},
	}

	report, err := newAnalyzer(f, now).ContributorCommits(context.Background(), 1, "alice", 0, 0, 0)
	require.NoError(t, err)

	require.NotNil(t, report.Contributor.Login)
	assert.Equal(t, "alice", *report.Contributor.Login)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 14, report.Period.Days)
	assert.Equal(t, 100, report.Pagination.Limit)

	feat := report.Commits[0]
	assert.Equal(t, "aaaaaaa1", feat.SHA)
	assert.Equal(t, 36, feat.QualityScore)
	assert.True(t, feat.IsSignificant)

	// No enrichment type stored falls back to the default category.
	bare := report.Commits[1]
	assert.Equal(t, "other", bare.CommitType)
	assert.Equal(t, "chore: bump deps", bare.Message)
	assert.Equal(t, 4, bare.Changes)
	assert.False(t, bare.IsSignificant)
	assert.Equal(t, 0, bare.QualityScore)
}

func TestContributorCommitsUnknownLogin(t *testing.T) {
	f, now := teamFixture()

	_, err := newAnalyzer(f, now).ContributorCommits(context.Background(), 1, "ghost", 0, 0, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
