// Package syncer drives repository synchronization: the per-session
// orchestrator state machine, the per-team dispatcher with admission
// control, and the cheap upstream update probe.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/devpulse/devpulse/internal/enrich"
	"github.com/devpulse/devpulse/internal/forge"
	"github.com/devpulse/devpulse/internal/models"
	"github.com/devpulse/devpulse/internal/settings"
	"github.com/devpulse/devpulse/internal/store"
)

// Store is the persistence surface the syncer needs. *store.Store satisfies
// it; tests substitute an in-memory fake.
type Store interface {
	GetTeam(ctx context.Context, id int64) (*models.Team, error)
	ListTeamRepositories(ctx context.Context, teamID int64) ([]models.Repository, error)

	ListRepoSHAs(ctx context.Context, repoID int64) (map[string]struct{}, error)
	PersistEnrichedCommit(ctx context.Context, base *models.Commit, details store.CommitDetails, files []models.CommitFile) (bool, error)
	GetOrCreateContributor(ctx context.Context, c *models.Contributor) (*models.Contributor, bool, error)
	UpsertPullRequest(ctx context.Context, pr *models.PullRequest) error
	UpsertIssue(ctx context.Context, issue *models.Issue) error
	CountCommitsByRepository(ctx context.Context, repoID int64) (int, error)

	CreateSession(ctx context.Context, teamID, repoID int64) (*models.SyncSession, error)
	GetSession(ctx context.Context, id int64) (*models.SyncSession, error)
	MarkSessionRunning(ctx context.Context, id int64, startedAt time.Time) error
	UpdateSessionProgress(ctx context.Context, id int64, upd store.ProgressUpdate) error
	AppendSessionError(ctx context.Context, id int64, message string) error
	MarkSessionCompleted(ctx context.Context, id int64, completedAt time.Time, result json.RawMessage, processedCommits, newCommits int) error
	MarkSessionFailed(ctx context.Context, id int64, completedAt time.Time, errs []string) error
	CountActiveSessionsByTeam(ctx context.Context, teamID int64) (int, error)
}

// Result is the summary blob stored on a completed session.
type Result struct {
	TotalCommits     int      `json:"total_commits"`
	ProcessedCommits int      `json:"processed_commits"`
	SprintCommits    int      `json:"sprint_commits"`
	ArchiveCommits   int      `json:"archive_commits"`
	NewCommits       int      `json:"new_commits"`
	SkippedExisting  int      `json:"skipped_existing"`
	Errors           []string `json:"errors"`
}

// Orchestrator executes one SyncSession from queued to terminal. One
// instance per session; progress counters are guarded by the mutex because
// workers report concurrently.
type Orchestrator struct {
	store    Store
	client   forge.Client
	repo     *models.Repository
	session  *models.SyncSession
	settings *settings.Resolved
	log      *logrus.Entry

	maxWorkers int
	sprintDays int
	now        func() time.Time

	filter   *enrich.IgnoreFilter
	detector *enrich.LanguageDetector

	mu        sync.Mutex
	processed int
	newCount  int
	skipped   int
	errs      []string
}

// NewOrchestrator wires an orchestrator for one session. The resolved team
// settings drive worker count, sprint window, and the enrichment pipeline.
func NewOrchestrator(st Store, client forge.Client, repo *models.Repository, session *models.SyncSession, resolved *settings.Resolved, logger *logrus.Logger) *Orchestrator {
	maxWorkers := resolved.Workflow.Sync.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = settings.DefaultMaxWorkers
	}
	sprintDays := resolved.Workflow.Sprint.DurationDays
	if sprintDays <= 0 {
		sprintDays = settings.DefaultSprintDays
	}
	return &Orchestrator{
		store:      st,
		client:     client,
		repo:       repo,
		session:    session,
		settings:   resolved,
		maxWorkers: maxWorkers,
		sprintDays: sprintDays,
		now:        time.Now,
		filter:     enrich.NewIgnoreFilter(resolved.Analysis.IgnorePatterns),
		detector:   enrich.NewLanguageDetector(),
		log: logger.WithFields(logrus.Fields{
			"session_id": session.ID,
			"repository": repo.FullName(),
		}),
	}
}

// Run drives the session to a terminal status. The returned error reports
// session failure; per-commit failures are absorbed into the error list.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("starting sync")
	if err := o.store.MarkSessionRunning(ctx, o.session.ID, o.now().UTC()); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	o.setPhase(ctx, models.PhaseInitializing)

	// Phase: discover the full commit list.
	o.setPhase(ctx, models.PhaseFetchingList)
	discovered, err := o.client.ListCommits(ctx, o.repo.Owner, o.repo.Name, nil, 0)
	if err != nil {
		return o.fail(ctx, fmt.Sprintf("Failed to fetch commits: %v", err))
	}

	cutoff := o.now().UTC().AddDate(0, 0, -o.sprintDays)
	sprint, archive := partition(discovered, cutoff)
	o.log.WithFields(logrus.Fields{
		"total":   len(discovered),
		"sprint":  len(sprint),
		"archive": len(archive),
	}).Info("commit list fetched")

	total := len(discovered)
	if err := o.store.UpdateSessionProgress(ctx, o.session.ID, store.ProgressUpdate{TotalCommits: &total}); err != nil {
		o.log.WithError(err).Warn("progress update failed")
	}

	contributors, err := o.prepareContributors(ctx)
	if err != nil {
		return o.fail(ctx, fmt.Sprintf("Failed to prepare contributors: %v", err))
	}

	// Sprint partition drains fully before archive starts.
	if o.cancelled(ctx) {
		return nil
	}
	o.setPhase(ctx, models.PhaseProcessingSprint)
	o.processPartition(ctx, sprint, contributors)

	done := true
	if err := o.store.UpdateSessionProgress(ctx, o.session.ID, store.ProgressUpdate{SprintCommitsDone: &done}); err != nil {
		o.log.WithError(err).Warn("progress update failed")
	}

	if o.cancelled(ctx) {
		return nil
	}
	o.setPhase(ctx, models.PhaseProcessingArchive)
	o.processPartition(ctx, archive, contributors)

	o.backfillPullsAndIssues(ctx, contributors)

	if o.cancelled(ctx) {
		return nil
	}

	o.mu.Lock()
	result := Result{
		TotalCommits:     total,
		ProcessedCommits: o.processed,
		SprintCommits:    len(sprint),
		ArchiveCommits:   len(archive),
		NewCommits:       o.newCount,
		SkippedExisting:  o.skipped,
		Errors:           append([]string(nil), o.errs...),
	}
	o.mu.Unlock()

	blob, _ := json.Marshal(result)
	if err := o.store.MarkSessionCompleted(ctx, o.session.ID, o.now().UTC(), blob, result.ProcessedCommits, result.NewCommits); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	o.log.WithField("new_commits", result.NewCommits).Info("sync completed")
	return nil
}

// partition splits commits by authored date against the sprint cutoff.
// Commits without a parsable date land in archive. Per-partition order is
// preserved.
func partition(commits []forge.Commit, cutoff time.Time) (sprint, archive []forge.Commit) {
	for _, c := range commits {
		if c.AuthoredAt != nil && !c.AuthoredAt.Before(cutoff) {
			sprint = append(sprint, c)
		} else {
			archive = append(archive, c)
		}
	}
	return sprint, archive
}

// prepareContributors upserts the contributor list and returns the
// login -> id mapping the workers use for attribution.
func (o *Orchestrator) prepareContributors(ctx context.Context) (map[string]int64, error) {
	raw, err := o.client.ListContributors(ctx, o.repo.Owner, o.repo.Name)
	if err != nil {
		return nil, err
	}

	byLogin := make(map[string]int64, len(raw))
	for _, c := range raw {
		if c.ExternalID == "" {
			continue
		}
		rec := &models.Contributor{
			Provider:   o.repo.Provider,
			ExternalID: c.ExternalID,
		}
		if c.Login != "" {
			rec.Login = &c.Login
		}
		if c.Name != "" {
			rec.DisplayName = &c.Name
		}
		if c.Email != "" {
			rec.Email = &c.Email
		}
		if c.ProfileURL != "" {
			rec.ProfileURL = &c.ProfileURL
		}
		stored, _, err := o.store.GetOrCreateContributor(ctx, rec)
		if err != nil {
			return nil, err
		}
		if c.Login != "" {
			byLogin[c.Login] = stored.ID
		}
	}
	o.log.WithField("contributors", len(byLogin)).Info("contributors prepared")
	return byLogin, nil
}

// processPartition fans the not-yet-persisted commits of one partition out
// to the worker pool. Worker failures are isolated: the SHA and message go
// to the session error list and processing continues.
func (o *Orchestrator) processPartition(ctx context.Context, commits []forge.Commit, contributors map[string]int64) {
	if len(commits) == 0 {
		return
	}

	existing, err := o.store.ListRepoSHAs(ctx, o.repo.ID)
	if err != nil {
		o.recordError(ctx, fmt.Sprintf("Failed to list existing commits: %v", err))
		return
	}

	var toProcess []forge.Commit
	for _, c := range commits {
		if _, ok := existing[c.SHA]; ok {
			continue
		}
		toProcess = append(toProcess, c)
	}

	// Skips count toward neither processed nor new.
	skipped := len(commits) - len(toProcess)
	if skipped > 0 {
		o.mu.Lock()
		o.skipped += skipped
		o.mu.Unlock()
		o.log.WithField("skipped", skipped).Info("skipping existing commits")
	}
	if len(toProcess) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxWorkers)
	for _, c := range toProcess {
		commit := c
		g.Go(func() error {
			created, err := o.processCommit(gctx, commit, contributors)
			// The durable write shares the critical section with the counter
			// increment; persisted counts never regress.
			o.mu.Lock()
			o.processed++
			if err == nil && created {
				o.newCount++
			}
			processed := o.processed
			if uerr := o.store.UpdateSessionProgress(gctx, o.session.ID, store.ProgressUpdate{ProcessedCommits: &processed}); uerr != nil {
				o.log.WithError(uerr).Warn("progress update failed")
			}
			o.mu.Unlock()

			if err != nil {
				short := commit.SHA
				if len(short) > 7 {
					short = short[:7]
				}
				o.log.WithError(err).WithField("sha", short).Error("commit processing failed")
				o.recordError(gctx, fmt.Sprintf("Commit %s: %v", short, err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// processCommit fetches one full commit, runs it through the enrichment
// pipeline, and persists the result in a single transaction.
func (o *Orchestrator) processCommit(ctx context.Context, summary forge.Commit, contributors map[string]int64) (bool, error) {
	full, err := o.client.GetCommit(ctx, o.repo.Owner, o.repo.Name, summary.SHA)
	if err != nil {
		return false, err
	}

	var kept []forge.File
	for _, f := range full.Files {
		if o.filter.Allowed(f.Path) {
			kept = append(kept, f)
		}
	}

	filesChanged := len(kept)
	enrichment := enrich.Classify(full.Message, full.ParentsCount, &filesChanged,
		o.settings.Analysis.CommitClassification)

	base := &models.Commit{
		RepositoryID: o.repo.ID,
		SHA:          full.SHA,
		Message:      full.Message,
		AuthoredAt:   full.AuthoredAt,
		ParentsCount: full.ParentsCount,
	}
	if id, ok := contributors[full.AuthorLogin]; ok {
		base.ContributorID = &id
	}

	details := store.CommitDetails{
		AuthoredAt:        full.AuthoredAt,
		CommittedAt:       full.CommittedAt,
		Additions:         &full.Additions,
		Deletions:         &full.Deletions,
		Changes:           &full.Total,
		FilesChanged:      enrichment.FilesChanged,
		ParentsCount:      &enrichment.ParentsCount,
		CommitType:        &enrichment.CommitType,
		IsConventional:    &enrichment.IsConventional,
		ConventionalType:  &enrichment.ConventionalType,
		ConventionalScope: &enrichment.ConventionalScope,
		IsBreakingChange:  &enrichment.IsBreakingChange,
		IsMergeCommit:     &enrichment.IsMergeCommit,
		IsPRCommit:        &enrichment.IsPRCommit,
		IsRevertCommit:    &enrichment.IsRevertCommit,
	}
	if full.AuthorName != "" {
		details.AuthorName = &full.AuthorName
	}
	if full.AuthorEmail != "" {
		details.AuthorEmail = &full.AuthorEmail
	}
	if base.ContributorID != nil {
		details.ContributorID = base.ContributorID
	}

	files := make([]models.CommitFile, 0, len(kept))
	for _, f := range kept {
		file := models.CommitFile{FilePath: f.Path}
		additions, deletions, changes := f.Additions, f.Deletions, f.Changes
		file.Additions = &additions
		file.Deletions = &deletions
		file.Changes = &changes
		lang := o.detector.Detect(f.Path)
		file.Language = &lang
		if f.Patch != "" {
			patch := f.Patch
			file.Patch = &patch
		}
		files = append(files, file)
	}

	return o.store.PersistEnrichedCommit(ctx, base, details, files)
}

// backfillPullsAndIssues mirrors PRs and issues. Failures here are logged
// and recorded but never fail the session.
func (o *Orchestrator) backfillPullsAndIssues(ctx context.Context, contributors map[string]int64) {
	pulls, err := o.client.ListPulls(ctx, o.repo.Owner, o.repo.Name, nil, nil)
	if err != nil {
		o.log.WithError(err).Warn("pull request backfill failed")
	} else {
		for _, pr := range pulls {
			rec := &models.PullRequest{
				RepositoryID: o.repo.ID,
				Number:       pr.Number,
				Title:        pr.Title,
				State:        pr.State,
				PRCreatedAt:  pr.CreatedAt,
				PRMergedAt:   pr.MergedAt,
				PRClosedAt:   pr.ClosedAt,
			}
			if pr.AuthorLogin != "" {
				login := pr.AuthorLogin
				rec.AuthorLogin = &login
				if id, ok := contributors[login]; ok {
					rec.ContributorID = &id
				}
			}
			if pr.AuthorAvatar != "" {
				avatar := pr.AuthorAvatar
				rec.AuthorAvatar = &avatar
			}
			if err := o.store.UpsertPullRequest(ctx, rec); err != nil {
				o.log.WithError(err).WithField("number", pr.Number).Warn("upsert pull request failed")
			}
		}
	}

	issues, err := o.client.ListIssues(ctx, o.repo.Owner, o.repo.Name, nil)
	if err != nil {
		o.log.WithError(err).Warn("issue backfill failed")
		return
	}
	for _, is := range issues {
		rec := &models.Issue{
			RepositoryID:   o.repo.ID,
			Number:         is.Number,
			Title:          is.Title,
			State:          is.State,
			IssueCreatedAt: is.CreatedAt,
			IssueClosedAt:  is.ClosedAt,
		}
		if is.AuthorLogin != "" {
			login := is.AuthorLogin
			rec.AuthorLogin = &login
			if id, ok := contributors[login]; ok {
				rec.ContributorID = &id
			}
		}
		if is.AuthorAvatar != "" {
			avatar := is.AuthorAvatar
			rec.AuthorAvatar = &avatar
		}
		if err := o.store.UpsertIssue(ctx, rec); err != nil {
			o.log.WithError(err).WithField("number", is.Number).Warn("upsert issue failed")
		}
	}
}

// cancelled checks the durable session status at a phase boundary.
func (o *Orchestrator) cancelled(ctx context.Context) bool {
	sess, err := o.store.GetSession(ctx, o.session.ID)
	if err != nil {
		return false
	}
	if sess.Status == models.SyncCancelled {
		o.log.Info("session cancelled, stopping at phase boundary")
		return true
	}
	return false
}

func (o *Orchestrator) setPhase(ctx context.Context, phase string) {
	if err := o.store.UpdateSessionProgress(ctx, o.session.ID, store.ProgressUpdate{CurrentPhase: &phase}); err != nil {
		o.log.WithError(err).Warn("phase update failed")
	}
}

// recordError appends to both the in-memory and the durable error lists.
func (o *Orchestrator) recordError(ctx context.Context, message string) {
	o.mu.Lock()
	o.errs = append(o.errs, message)
	o.mu.Unlock()
	if err := o.store.AppendSessionError(ctx, o.session.ID, message); err != nil {
		o.log.WithError(err).Warn("append session error failed")
	}
}

// fail finalizes the session as failed with a terminal message.
func (o *Orchestrator) fail(ctx context.Context, message string) error {
	o.log.Error(message)
	if err := o.store.MarkSessionFailed(ctx, o.session.ID, o.now().UTC(), []string{message}); err != nil {
		o.log.WithError(err).Error("mark failed errored")
	}
	return fmt.Errorf("%s", message)
}
