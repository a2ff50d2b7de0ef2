// Package analytics aggregates enriched commits, pull requests, and issues
// into the sprint dashboard payloads: daily buckets, a contributor ranking
// with the Developer Quality Index, and per-commit quality scoring.
package analytics

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/devpulse/devpulse/internal/errors"
	"github.com/devpulse/devpulse/internal/models"
	"github.com/devpulse/devpulse/internal/settings"
)

const (
	// AllWindow selects the most recent allModeCommitCap commits regardless
	// of age.
	AllWindow = "all"

	allModeCommitCap = 5000
	maxBucketDays    = 365
	summaryMaxLen    = 120

	fallbackLogin      = "unknown"
	fallbackCommitType = "chore"
	defaultWeight      = 0.5
)

// featureTypes are the commit categories counted as feature work by the
// quality index; fix commits drive the bug rate.
var featureTypes = map[string]bool{"feat": true, "perf": true, "refactor": true}

var allModeSince = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Store is the read surface the analyzer needs. *store.Store satisfies it.
type Store interface {
	GetTeam(ctx context.Context, id int64) (*models.Team, error)
	GetCommitsByTeamDateRange(ctx context.Context, teamID int64, since, until time.Time) ([]models.Commit, error)
	GetPullsByTeamDateRange(ctx context.Context, teamID int64, since, until time.Time) ([]models.PullRequest, error)
	GetIssuesByTeamDateRange(ctx context.Context, teamID int64, since, until time.Time) ([]models.Issue, error)
	GetContributorsByIDs(ctx context.Context, ids []int64) (map[int64]models.Contributor, error)
	GetContributorByLogin(ctx context.Context, provider models.Provider, login string) (*models.Contributor, error)
	GetContributorCommits(ctx context.Context, teamID int64, login string, since, until time.Time, limit, offset int) ([]models.Commit, error)
}

// Analyzer computes sprint analytics for one team at a time.
type Analyzer struct {
	store Store
	log   *logrus.Logger
	now   func() time.Time
}

// NewAnalyzer wires an analyzer over the read store.
func NewAnalyzer(st Store, logger *logrus.Logger) *Analyzer {
	return &Analyzer{store: st, log: logger, now: time.Now}
}

// CommitSummary is the compact per-commit entry inside a daily bucket.
type CommitSummary struct {
	SHA          string  `json:"sha"`
	ShortSHA     string  `json:"short_sha"`
	Message      string  `json:"message"`
	CommitType   string  `json:"commit_type"`
	AuthorLogin  string  `json:"author_login"`
	AuthorAvatar *string `json:"author_avatar"`
	Additions    int     `json:"additions"`
	Deletions    int     `json:"deletions"`
	FilesChanged int     `json:"files_changed"`
}

// PullSummary is the compact per-PR entry inside a daily bucket.
type PullSummary struct {
	Number       int        `json:"number"`
	Title        string     `json:"title"`
	State        string     `json:"state"`
	AuthorLogin  string     `json:"author_login"`
	AuthorAvatar *string    `json:"author_avatar"`
	CreatedAt    *time.Time `json:"created_at"`
	MergedAt     *time.Time `json:"merged_at"`
}

// IssueSummary is the compact per-issue entry inside a daily bucket.
type IssueSummary struct {
	Number       int        `json:"number"`
	Title        string     `json:"title"`
	State        string     `json:"state"`
	AuthorLogin  string     `json:"author_login"`
	AuthorAvatar *string    `json:"author_avatar"`
	CreatedAt    *time.Time `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at"`
}

// DailyBucket is one calendar day of team activity.
type DailyBucket struct {
	Date         string          `json:"date"`
	CommitCount  int             `json:"commit_count"`
	Additions    int             `json:"additions"`
	Deletions    int             `json:"deletions"`
	PRCount      int             `json:"pr_count"`
	IssueCount   int             `json:"issue_count"`
	Commits      []CommitSummary `json:"commits"`
	PullRequests []PullSummary   `json:"pull_requests"`
	Issues       []IssueSummary  `json:"issues"`
}

// ContributorStats is one contributor's sprint aggregate, ranked by the
// quality index.
type ContributorStats struct {
	Login              string         `json:"login"`
	AvatarURL          *string        `json:"avatar_url"`
	TotalCommits       int            `json:"total_commits"`
	CommitsByType      map[string]int `json:"commits_by_type"`
	TotalAdditions     int            `json:"total_additions"`
	TotalDeletions     int            `json:"total_deletions"`
	SignificantCommits int            `json:"significant_commits"`
	WeightedScore      float64        `json:"weighted_score"`
	QualityIndex       float64        `json:"quality_index"`
	PRsOpened          int            `json:"prs_opened"`
	PRsMerged          int            `json:"prs_merged"`
	IssuesOpened       int            `json:"issues_opened"`
}

// PeriodInfo describes the effective analysis window after any truncation.
type PeriodInfo struct {
	Preset       string `json:"preset"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	TotalCommits int    `json:"total_commits"`
	Limited      bool   `json:"limited"`
	Limit        *int   `json:"limit"`
}

// SprintInfo echoes the sprint window; duration is null in all mode.
type SprintInfo struct {
	DurationDays *int   `json:"duration_days"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
}

// Summary is the top-line aggregate block.
type Summary struct {
	TotalCommits       int `json:"total_commits"`
	TotalAdditions     int `json:"total_additions"`
	ActiveDays         int `json:"active_days"`
	UniqueContributors int `json:"unique_contributors"`
	TotalPRs           int `json:"total_prs"`
	TotalIssues        int `json:"total_issues"`
}

// SprintStats is the full sprint analytics payload.
type SprintStats struct {
	PeriodInfo   PeriodInfo         `json:"period_info"`
	Sprint       SprintInfo         `json:"sprint"`
	DailyStats   []DailyBucket      `json:"daily_stats"`
	Contributors []ContributorStats `json:"contributors"`
	Summary      Summary            `json:"summary"`
}

// SprintStats aggregates a team's activity over a window. window is a day
// count as a string, "all" for the most recent 5000 commits, or empty for
// the team's configured sprint duration.
func (a *Analyzer) SprintStats(ctx context.Context, teamID int64, window string) (*SprintStats, error) {
	team, err := a.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	resolved, err := settings.Resolve(team.AnalysisConfig, team.WorkflowConfig, team.MetricsConfig)
	if err != nil {
		return nil, err
	}

	allMode := window == AllWindow
	sprintDays := resolved.Workflow.Sprint.DurationDays
	if sprintDays <= 0 {
		sprintDays = settings.DefaultSprintDays
	}
	if !allMode && window != "" {
		n, err := strconv.Atoi(window)
		if err != nil || n <= 0 {
			return nil, apperrors.Configf("invalid window %q", window)
		}
		sprintDays = n
	}

	significantMin := resolved.Metrics.SignificantCommitMinLines
	if significantMin <= 0 {
		significantMin = settings.DefaultSignificantLines
	}
	weights := resolved.Metrics.CommitWeights

	until := a.now().UTC()
	since := until.AddDate(0, 0, -sprintDays)
	if allMode {
		since = allModeSince
	}

	commits, err := a.store.GetCommitsByTeamDateRange(ctx, teamID, since, until)
	if err != nil {
		return nil, err
	}

	limited := false
	if allMode && len(commits) > allModeCommitCap {
		sort.SliceStable(commits, func(i, j int) bool {
			return authoredOrZero(&commits[i]).After(authoredOrZero(&commits[j]))
		})
		commits = commits[:allModeCommitCap]
		limited = true
	}

	// The effective window shrinks to what the kept commits actually span.
	actualSince, actualUntil := since, until
	if len(commits) > 0 {
		first := true
		for i := range commits {
			at := commits[i].AuthoredAt
			if at == nil {
				continue
			}
			if first {
				actualSince, actualUntil = *at, *at
				first = false
				continue
			}
			if at.Before(actualSince) {
				actualSince = *at
			}
			if at.After(actualUntil) {
				actualUntil = *at
			}
		}
	}

	pulls, err := a.store.GetPullsByTeamDateRange(ctx, teamID, actualSince, actualUntil)
	if err != nil {
		return nil, err
	}
	issues, err := a.store.GetIssuesByTeamDateRange(ctx, teamID, actualSince, actualUntil)
	if err != nil {
		return nil, err
	}

	contributors, err := a.loadContributors(ctx, commits)
	if err != nil {
		return nil, err
	}

	buckets, order := makeBuckets(allMode, len(commits) > 0, actualSince, actualUntil, since, sprintDays)

	stats := make(map[string]*ContributorStats)
	for i := range commits {
		a.addCommit(&commits[i], buckets, stats, contributors, significantMin, weights)
	}
	for i := range pulls {
		addPull(&pulls[i], buckets, stats)
	}
	for i := range issues {
		addIssue(&issues[i], buckets, stats)
	}

	ranking := rankContributors(stats)

	daily := make([]DailyBucket, 0, len(order))
	summary := Summary{
		UniqueContributors: len(ranking),
		TotalPRs:           len(pulls),
		TotalIssues:        len(issues),
	}
	for _, day := range order {
		b := buckets[day]
		summary.TotalCommits += b.CommitCount
		summary.TotalAdditions += b.Additions
		if b.CommitCount > 0 {
			summary.ActiveDays++
		}
		daily = append(daily, *b)
	}

	preset := strconv.Itoa(sprintDays)
	var duration *int
	if allMode {
		preset = AllWindow
	} else {
		d := sprintDays
		duration = &d
	}
	var limit *int
	if limited {
		n := allModeCommitCap
		limit = &n
	}

	startDate, endDate := dayString(actualSince), dayString(actualUntil)
	if len(commits) == 0 {
		startDate, endDate = dayString(since), dayString(until)
	}

	return &SprintStats{
		PeriodInfo: PeriodInfo{
			Preset:       preset,
			StartDate:    startDate,
			EndDate:      endDate,
			TotalCommits: len(commits),
			Limited:      limited,
			Limit:        limit,
		},
		Sprint: SprintInfo{
			DurationDays: duration,
			StartDate:    startDate,
			EndDate:      endDate,
		},
		DailyStats:   daily,
		Contributors: ranking,
		Summary:      summary,
	}, nil
}

func (a *Analyzer) loadContributors(ctx context.Context, commits []models.Commit) (map[int64]models.Contributor, error) {
	seen := make(map[int64]struct{})
	var ids []int64
	for i := range commits {
		id := commits[i].ContributorID
		if id == nil {
			continue
		}
		if _, ok := seen[*id]; ok {
			continue
		}
		seen[*id] = struct{}{}
		ids = append(ids, *id)
	}
	return a.store.GetContributorsByIDs(ctx, ids)
}

// makeBuckets lays out one empty bucket per calendar day and returns the
// date-ordered key list. All mode is capped at 365 buckets.
func makeBuckets(allMode, hasCommits bool, actualSince, actualUntil, since time.Time, sprintDays int) (map[string]*DailyBucket, []string) {
	buckets := make(map[string]*DailyBucket)
	var order []string
	add := func(day time.Time) {
		key := dayString(day)
		if _, ok := buckets[key]; ok {
			return
		}
		buckets[key] = &DailyBucket{
			Date:         key,
			Commits:      []CommitSummary{},
			PullRequests: []PullSummary{},
			Issues:       []IssueSummary{},
		}
		order = append(order, key)
	}

	if allMode {
		if !hasCommits {
			return buckets, order
		}
		start := truncateDay(actualSince)
		days := int(truncateDay(actualUntil).Sub(start).Hours()/24) + 1
		if days > maxBucketDays {
			days = maxBucketDays
		}
		for i := 0; i < days; i++ {
			add(start.AddDate(0, 0, i))
		}
		return buckets, order
	}

	for i := 0; i < sprintDays; i++ {
		add(since.AddDate(0, 0, i))
	}
	return buckets, order
}

func (a *Analyzer) addCommit(c *models.Commit, buckets map[string]*DailyBucket, stats map[string]*ContributorStats, contributors map[int64]models.Contributor, significantMin int, weights map[string]float64) {
	if c.AuthoredAt == nil {
		return
	}
	bucket, ok := buckets[dayString(*c.AuthoredAt)]
	if !ok {
		return
	}

	login := fallbackLogin
	var avatar *string
	if c.ContributorID != nil {
		if contrib, ok := contributors[*c.ContributorID]; ok {
			if contrib.Login != nil && *contrib.Login != "" {
				login = *contrib.Login
			} else {
				login = contrib.ExternalID
			}
			avatar = contrib.ProfileURL
		}
	}
	if login == fallbackLogin && c.AuthorName != nil && *c.AuthorName != "" {
		login = *c.AuthorName
	}

	commitType := fallbackCommitType
	if c.CommitType != nil && *c.CommitType != "" {
		commitType = *c.CommitType
	}
	additions := intOrZero(c.Additions)
	deletions := intOrZero(c.Deletions)

	bucket.CommitCount++
	bucket.Additions += additions
	bucket.Deletions += deletions
	bucket.Commits = append(bucket.Commits, CommitSummary{
		SHA:          c.SHA,
		ShortSHA:     c.ShortSHA(),
		Message:      summarizeMessage(c.Message),
		CommitType:   commitType,
		AuthorLogin:  login,
		AuthorAvatar: avatar,
		Additions:    additions,
		Deletions:    deletions,
		FilesChanged: intOrZero(c.FilesChanged),
	})

	cs := stats[login]
	if cs == nil {
		cs = &ContributorStats{Login: login, CommitsByType: make(map[string]int)}
		stats[login] = cs
	}
	cs.AvatarURL = avatar
	cs.TotalCommits++
	cs.CommitsByType[commitType]++
	cs.TotalAdditions += additions
	cs.TotalDeletions += deletions
	if additions >= significantMin {
		cs.SignificantCommits++
	}
	cs.WeightedScore += float64(additions) * weightFor(weights, commitType)
}

func addPull(pr *models.PullRequest, buckets map[string]*DailyBucket, stats map[string]*ContributorStats) {
	if pr.PRCreatedAt == nil {
		return
	}
	bucket, ok := buckets[dayString(*pr.PRCreatedAt)]
	if !ok {
		return
	}

	login := fallbackLogin
	if pr.AuthorLogin != nil && *pr.AuthorLogin != "" {
		login = *pr.AuthorLogin
	}
	bucket.PRCount++
	bucket.PullRequests = append(bucket.PullRequests, PullSummary{
		Number:       pr.Number,
		Title:        truncate(pr.Title, summaryMaxLen),
		State:        pr.State,
		AuthorLogin:  login,
		AuthorAvatar: pr.AuthorAvatar,
		CreatedAt:    pr.PRCreatedAt,
		MergedAt:     pr.PRMergedAt,
	})

	// PR credit only accrues to contributors who also committed in-window.
	if cs, ok := stats[login]; ok {
		cs.PRsOpened++
		if pr.State == "merged" {
			cs.PRsMerged++
		}
	}
}

func addIssue(issue *models.Issue, buckets map[string]*DailyBucket, stats map[string]*ContributorStats) {
	if issue.IssueCreatedAt == nil {
		return
	}
	bucket, ok := buckets[dayString(*issue.IssueCreatedAt)]
	if !ok {
		return
	}

	login := fallbackLogin
	if issue.AuthorLogin != nil && *issue.AuthorLogin != "" {
		login = *issue.AuthorLogin
	}
	bucket.IssueCount++
	bucket.Issues = append(bucket.Issues, IssueSummary{
		Number:       issue.Number,
		Title:        truncate(issue.Title, summaryMaxLen),
		State:        issue.State,
		AuthorLogin:  login,
		AuthorAvatar: issue.AuthorAvatar,
		CreatedAt:    issue.IssueCreatedAt,
		ClosedAt:     issue.IssueClosedAt,
	})

	if cs, ok := stats[login]; ok {
		cs.IssuesOpened++
	}
}

func rankContributors(stats map[string]*ContributorStats) []ContributorStats {
	out := make([]ContributorStats, 0, len(stats))
	for _, cs := range stats {
		cs.WeightedScore = round1(cs.WeightedScore)
		cs.QualityIndex = qualityIndex(cs.CommitsByType, cs.TotalCommits, cs.SignificantCommits)
		out = append(out, *cs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QualityIndex != out[j].QualityIndex {
			return out[i].QualityIndex > out[j].QualityIndex
		}
		return out[i].Login < out[j].Login
	})
	return out
}

// qualityIndex is the Developer Quality Index on a 0..100 scale:
// 0.5 * functional ratio + 0.3 * (1 - bug rate) + 0.2 * significant ratio.
func qualityIndex(byType map[string]int, totalCommits, significant int) float64 {
	if totalCommits == 0 {
		return 0
	}

	feat := 0
	for t := range featureTypes {
		feat += byType[t]
	}
	fix := byType["fix"]

	functionalRatio := float64(feat) / float64(totalCommits)
	bugRate := 0.0
	if feat+fix > 0 {
		bugRate = float64(fix) / float64(feat+fix)
	}
	significantRatio := float64(significant) / float64(totalCommits)

	dqi := (functionalRatio*0.5 + (1-bugRate)*0.3 + significantRatio*0.2) * 100
	return round1(math.Min(dqi, 100))
}

// ScoredCommit is one commit in a contributor's listing, with a 0..100
// quality score.
type ScoredCommit struct {
	SHA              string     `json:"sha"`
	ShortSHA         string     `json:"short_sha"`
	Message          string     `json:"message"`
	CommitType       string     `json:"commit_type"`
	QualityScore     int        `json:"quality_score"`
	Additions        int        `json:"additions"`
	Deletions        int        `json:"deletions"`
	Changes          int        `json:"changes"`
	FilesChanged     int        `json:"files_changed"`
	AuthoredAt       *time.Time `json:"authored_at"`
	IsSignificant    bool       `json:"is_significant"`
	IsConventional   bool       `json:"is_conventional"`
	IsBreakingChange bool       `json:"is_breaking_change"`
	IsMergeCommit    bool       `json:"is_merge_commit"`
	IsRevertCommit   bool       `json:"is_revert_commit"`
}

// ContributorInfo identifies the contributor a listing belongs to.
type ContributorInfo struct {
	Login       *string `json:"login"`
	DisplayName *string `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
	Email       *string `json:"email"`
}

// Period echoes the effective listing window.
type Period struct {
	Days  int       `json:"days"`
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// Pagination echoes the paging parameters.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ContributorReport is the per-contributor commit listing payload.
type ContributorReport struct {
	Contributor ContributorInfo `json:"contributor"`
	Commits     []ScoredCommit  `json:"commits"`
	Total       int             `json:"total"`
	Period      Period          `json:"period"`
	Pagination  Pagination      `json:"pagination"`
}

// ContributorCommits lists one contributor's commits inside the window with
// a per-commit quality score. days <= 0 falls back to the team's sprint
// duration; limit <= 0 defaults to 100.
func (a *Analyzer) ContributorCommits(ctx context.Context, teamID int64, login string, days, limit, offset int) (*ContributorReport, error) {
	team, err := a.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	resolved, err := settings.Resolve(team.AnalysisConfig, team.WorkflowConfig, team.MetricsConfig)
	if err != nil {
		return nil, err
	}

	contributor, err := a.store.GetContributorByLogin(ctx, models.ProviderGitHub, login)
	if err != nil {
		return nil, err
	}

	if days <= 0 {
		days = resolved.Workflow.Sprint.DurationDays
		if days <= 0 {
			days = settings.DefaultSprintDays
		}
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	significantMin := resolved.Metrics.SignificantCommitMinLines
	if significantMin <= 0 {
		significantMin = settings.DefaultSignificantLines
	}
	weights := resolved.Metrics.CommitWeights

	until := a.now().UTC()
	since := until.AddDate(0, 0, -days)

	commits, err := a.store.GetContributorCommits(ctx, teamID, login, since, until, limit, offset)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredCommit, 0, len(commits))
	for i := range commits {
		c := &commits[i]
		commitType := settings.DefaultCategory
		if c.CommitType != nil && *c.CommitType != "" {
			commitType = *c.CommitType
		}
		additions := intOrZero(c.Additions)
		deletions := intOrZero(c.Deletions)
		changes := intOrZero(c.Changes)
		if changes == 0 {
			changes = additions + deletions
		}

		scored = append(scored, ScoredCommit{
			SHA:              c.SHA,
			ShortSHA:         c.ShortSHA(),
			Message:          summarizeMessage(c.Message),
			CommitType:       commitType,
			QualityScore:     qualityScore(additions, weightFor(weights, commitType), commitType),
			Additions:        additions,
			Deletions:        deletions,
			Changes:          changes,
			FilesChanged:     intOrZero(c.FilesChanged),
			AuthoredAt:       c.AuthoredAt,
			IsSignificant:    additions >= significantMin,
			IsConventional:   c.IsConventional,
			IsBreakingChange: c.IsBreakingChange,
			IsMergeCommit:    c.IsMergeCommit,
			IsRevertCommit:   c.IsRevertCommit,
		})
	}

	return &ContributorReport{
		Contributor: ContributorInfo{
			Login:       contributor.Login,
			DisplayName: contributor.DisplayName,
			AvatarURL:   contributor.ProfileURL,
			Email:       contributor.Email,
		},
		Commits:    scored,
		Total:      len(scored),
		Period:     Period{Days: days, Since: since, Until: until},
		Pagination: Pagination{Limit: limit, Offset: offset},
	}, nil
}

// qualityScore maps one commit to 0..100: additions scaled by the type
// weight, boosted for feature work and damped for everything that is
// neither feature nor fix.
func qualityScore(additions int, weight float64, commitType string) int {
	multiplier := 0.8
	switch {
	case featureTypes[commitType]:
		multiplier = 1.2
	case commitType == "fix":
		multiplier = 1.0
	}
	score := int(float64(additions) * weight / 10 * multiplier)
	if score > 100 {
		return 100
	}
	return score
}

func weightFor(weights map[string]float64, commitType string) float64 {
	if w, ok := weights[commitType]; ok {
		return w
	}
	return defaultWeight
}

func summarizeMessage(message string) string {
	line := message
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return truncate(line, summaryMaxLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func dayString(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func authoredOrZero(c *models.Commit) time.Time {
	if c.AuthoredAt == nil {
		return time.Time{}
	}
	return *c.AuthoredAt
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
