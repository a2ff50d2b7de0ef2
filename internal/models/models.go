package models

import (
	"encoding/json"
	"time"
)

// Provider identifies the hosted forge a record came from.
type Provider string

const (
	ProviderGitHub    Provider = "github"
	ProviderGitLab    Provider = "gitlab"
	ProviderBitbucket Provider = "bitbucket"
	ProviderSVN       Provider = "svn"
)

// SyncStatus is the lifecycle state of a SyncSession. Transitions are
// strictly forward: queued -> running -> {completed, failed, cancelled}.
type SyncStatus string

const (
	SyncQueued    SyncStatus = "queued"
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
	SyncCancelled SyncStatus = "cancelled"
)

// IsTerminal reports whether no further status transitions are possible.
func (s SyncStatus) IsTerminal() bool {
	return s == SyncCompleted || s == SyncFailed || s == SyncCancelled
}

// Sync phases, in the order the orchestrator moves through them.
const (
	PhaseInitializing      = "initializing"
	PhaseFetchingList      = "fetching_list"
	PhaseProcessingSprint  = "processing_sprint"
	PhaseProcessingArchive = "processing_archive"
	PhaseComplete          = "complete"
)

// Repository represents an external project mirrored into the local store.
// (provider, owner, name) uniquely identifies one.
type Repository struct {
	ID            int64     `json:"id" db:"id"`
	Provider      Provider  `json:"vcs_provider" db:"vcs_provider"`
	ExternalID    *string   `json:"external_id" db:"external_id"`
	Owner         string    `json:"owner" db:"owner"`
	Name          string    `json:"name" db:"name"`
	URL           string    `json:"url" db:"url"`
	DefaultBranch *string   `json:"default_branch" db:"default_branch"`
	ProjectID     *int64    `json:"project_id" db:"project_id"`
	TeamID        *int64    `json:"team_id" db:"team_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// FullName returns the owner/name slug used in forge API calls and logs.
func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// Contributor represents a person on the remote forge, unique by
// (provider, external_id).
type Contributor struct {
	ID          int64     `json:"id" db:"id"`
	Provider    Provider  `json:"vcs_provider" db:"vcs_provider"`
	ExternalID  string    `json:"external_id" db:"external_id"`
	Login       *string   `json:"login" db:"login"`
	DisplayName *string   `json:"display_name" db:"display_name"`
	Email       *string   `json:"email" db:"email"`
	ProfileURL  *string   `json:"profile_url" db:"profile_url"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Commit represents a single VCS commit. (repository_id, sha) is unique and
// the identity fields are immutable once written; the enrichment block may be
// rewritten by a later sync run.
type Commit struct {
	ID            int64      `json:"id" db:"id"`
	RepositoryID  int64      `json:"repository_id" db:"repository_id"`
	ContributorID *int64     `json:"contributor_id" db:"contributor_id"`
	SHA           string     `json:"sha" db:"sha"`
	Message       string     `json:"message" db:"message"`
	AuthoredAt    *time.Time `json:"authored_at" db:"authored_at"`
	CommittedAt   *time.Time `json:"committed_at" db:"committed_at"`
	AuthorName    *string    `json:"author_name" db:"author_name"`
	AuthorEmail   *string    `json:"author_email" db:"author_email"`
	Additions     *int       `json:"additions" db:"additions"`
	Deletions     *int       `json:"deletions" db:"deletions"`
	Changes       *int       `json:"changes" db:"changes"`
	FilesChanged  *int       `json:"files_changed" db:"files_changed"`
	ParentsCount  int        `json:"parents_count" db:"parents_count"`

	// Enrichment block, computed by the classifier pipeline.
	CommitType        *string `json:"commit_type" db:"commit_type"`
	IsConventional    bool    `json:"is_conventional" db:"is_conventional"`
	ConventionalType  *string `json:"conventional_type" db:"conventional_type"`
	ConventionalScope *string `json:"conventional_scope" db:"conventional_scope"`
	IsBreakingChange  bool    `json:"is_breaking_change" db:"is_breaking_change"`
	IsMergeCommit     bool    `json:"is_merge_commit" db:"is_merge_commit"`
	IsPRCommit        bool    `json:"is_pr_commit" db:"is_pr_commit"`
	IsRevertCommit    bool    `json:"is_revert_commit" db:"is_revert_commit"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ShortSHA returns the 7-character abbreviated SHA used in error reports.
func (c *Commit) ShortSHA() string {
	if len(c.SHA) < 7 {
		return c.SHA
	}
	return c.SHA[:7]
}

// CommitFile is a per-commit file change. File rows for a commit are replaced
// as a whole batch in the same transaction as the enrichment update.
type CommitFile struct {
	ID        int64   `json:"id" db:"id"`
	CommitID  int64   `json:"commit_id" db:"commit_id"`
	FilePath  string  `json:"file_path" db:"file_path"`
	Additions *int    `json:"additions" db:"additions"`
	Deletions *int    `json:"deletions" db:"deletions"`
	Changes   *int    `json:"changes" db:"changes"`
	Language  *string `json:"language" db:"language"`
	Patch     *string `json:"patch" db:"patch"`
}

// PullRequest mirrors a forge pull request. State is normalized to "merged"
// when a merge timestamp is present.
type PullRequest struct {
	ID            int64      `json:"id" db:"id"`
	RepositoryID  int64      `json:"repository_id" db:"repository_id"`
	ContributorID *int64     `json:"contributor_id" db:"contributor_id"`
	Number        int        `json:"number" db:"number"`
	Title         string     `json:"title" db:"title"`
	State         string     `json:"state" db:"state"`
	AuthorLogin   *string    `json:"author_login" db:"author_login"`
	AuthorAvatar  *string    `json:"author_avatar" db:"author_avatar"`
	PRCreatedAt   *time.Time `json:"pr_created_at" db:"pr_created_at"`
	PRMergedAt    *time.Time `json:"pr_merged_at" db:"pr_merged_at"`
	PRClosedAt    *time.Time `json:"pr_closed_at" db:"pr_closed_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Issue mirrors a forge issue. Pull requests that show up on the issues feed
// are filtered out before they reach the store.
type Issue struct {
	ID             int64      `json:"id" db:"id"`
	RepositoryID   int64      `json:"repository_id" db:"repository_id"`
	ContributorID  *int64     `json:"contributor_id" db:"contributor_id"`
	Number         int        `json:"number" db:"number"`
	Title          string     `json:"title" db:"title"`
	State          string     `json:"state" db:"state"`
	AuthorLogin    *string    `json:"author_login" db:"author_login"`
	AuthorAvatar   *string    `json:"author_avatar" db:"author_avatar"`
	IssueCreatedAt *time.Time `json:"issue_created_at" db:"issue_created_at"`
	IssueClosedAt  *time.Time `json:"issue_closed_at" db:"issue_closed_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// SyncSession records one end-to-end synchronization attempt for one
// repository on behalf of one team. Sessions are never reused across runs.
type SyncSession struct {
	ID                int64           `json:"id" db:"id"`
	TeamID            int64           `json:"team_id" db:"team_id"`
	RepositoryID      int64           `json:"repository_id" db:"repository_id"`
	Status            SyncStatus      `json:"status" db:"status"`
	TotalCommits      int             `json:"total_commits" db:"total_commits"`
	ProcessedCommits  int             `json:"processed_commits" db:"processed_commits"`
	NewCommits        int             `json:"new_commits" db:"new_commits"`
	CurrentPhase      *string         `json:"current_phase" db:"current_phase"`
	SprintCommitsDone bool            `json:"sprint_commits_done" db:"sprint_commits_done"`
	Errors            []string        `json:"errors" db:"-"`
	Result            json.RawMessage `json:"result,omitempty" db:"result"`
	StartedAt         *time.Time      `json:"started_at" db:"started_at"`
	CompletedAt       *time.Time      `json:"completed_at" db:"completed_at"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// ProgressPercent is floor(100 * processed / total), 0 when nothing was
// discovered yet.
func (s *SyncSession) ProgressPercent() int {
	if s.TotalCommits == 0 {
		return 0
	}
	return s.ProcessedCommits * 100 / s.TotalCommits
}

// Team carries the per-team settings documents consumed by the resolver.
// The wider team entity (members, org links) is owned by collaborating
// services; this service only reads and patches the config columns.
type Team struct {
	ID             int64  `json:"id" db:"id"`
	Name           string `json:"name" db:"name"`
	ProjectID      int64  `json:"project_id" db:"project_id"`
	ManagerID      int64  `json:"manager_id" db:"manager_id"`
	VCS            string `json:"vcs" db:"vcs"`
	AnalysisConfig string `json:"analysis_config" db:"analysis_config"`
	WorkflowConfig string `json:"workflow_config" db:"workflow_config"`
	MetricsConfig  string `json:"metrics_config" db:"metrics_config"`
}

// Enrichment is the derived metadata the classifier pipeline computes for one
// commit. Deterministic for identical commit and settings input.
type Enrichment struct {
	CommitType        string `json:"commit_type"`
	IsConventional    bool   `json:"is_conventional"`
	ConventionalType  string `json:"conventional_type"`
	ConventionalScope string `json:"conventional_scope"`
	IsBreakingChange  bool   `json:"is_breaking_change"`
	ParentsCount      int    `json:"parents_count"`
	IsMergeCommit     bool   `json:"is_merge_commit"`
	IsPRCommit        bool   `json:"is_pr_commit"`
	FilesChanged      *int   `json:"files_changed"`
	IsRevertCommit    bool   `json:"is_revert_commit"`
}
