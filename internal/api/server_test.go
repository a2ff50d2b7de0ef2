package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devpulse/devpulse/internal/analytics"
	"github.com/devpulse/devpulse/internal/models"
	"github.com/devpulse/devpulse/internal/store"
	"github.com/devpulse/devpulse/internal/syncer"
)

type fakeStore struct {
	mu sync.Mutex

	team     *models.Team
	repos    map[int64]*models.Repository
	nextRepo int64

	sessions    map[int64]*models.SyncSession
	lastSession *models.SyncSession
	teamCommits int

	commit  *models.Commit
	files   []models.CommitFile
	contrib *models.Contributor

	// getSessionHook observes every GetSession read, used to advance the
	// session during the SSE test.
	getSessionHook func(f *fakeStore, id int64)

	updatedAnalysis, updatedWorkflow, updatedMetrics *string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		team:     &models.Team{ID: 1, Name: "core", ProjectID: 2, ManagerID: 42},
		repos:    make(map[int64]*models.Repository),
		sessions: make(map[int64]*models.SyncSession),
	}
}

func (f *fakeStore) GetTeam(_ context.Context, id int64) (*models.Team, error) {
	if f.team == nil || f.team.ID != id {
		return nil, store.ErrNotFound
	}
	t := *f.team
	return &t, nil
}

func (f *fakeStore) UpdateTeamConfigs(_ context.Context, id int64, analysis, workflow, metrics *string) error {
	if f.team == nil || f.team.ID != id {
		return store.ErrNotFound
	}
	f.updatedAnalysis, f.updatedWorkflow, f.updatedMetrics = analysis, workflow, metrics
	if analysis != nil {
		f.team.AnalysisConfig = *analysis
	}
	if workflow != nil {
		f.team.WorkflowConfig = *workflow
	}
	if metrics != nil {
		f.team.MetricsConfig = *metrics
	}
	return nil
}

func (f *fakeStore) ListTeamRepositories(_ context.Context, teamID int64) ([]models.Repository, error) {
	var out []models.Repository
	for _, r := range f.repos {
		if r.TeamID != nil && *r.TeamID == teamID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) GetOrCreateRepository(_ context.Context, repo *models.Repository) (*models.Repository, bool, error) {
	for _, r := range f.repos {
		if r.Provider == repo.Provider && r.Owner == repo.Owner && r.Name == repo.Name {
			cp := *r
			return &cp, false, nil
		}
	}
	f.nextRepo++
	rec := *repo
	rec.ID = f.nextRepo
	f.repos[rec.ID] = &rec
	cp := rec
	return &cp, true, nil
}

func (f *fakeStore) GetRepository(_ context.Context, id int64) (*models.Repository, error) {
	r, ok := f.repos[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) DeleteRepository(_ context.Context, id int64) error {
	if _, ok := f.repos[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.repos, id)
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, id int64) (*models.SyncSession, error) {
	f.mu.Lock()
	hook := f.getSessionHook
	f.mu.Unlock()
	if hook != nil {
		hook(f, id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	cp.Errors = append([]string(nil), s.Errors...)
	return &cp, nil
}

func (f *fakeStore) GetActiveSessionsByTeam(_ context.Context, teamID int64) ([]models.SyncSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SyncSession
	for _, s := range f.sessions {
		if s.TeamID == teamID && !s.Status.IsTerminal() {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetLastCompletedSession(_ context.Context, teamID int64) (*models.SyncSession, error) {
	if f.lastSession == nil {
		return nil, store.ErrNotFound
	}
	cp := *f.lastSession
	return &cp, nil
}

func (f *fakeStore) CountCommitsByTeam(_ context.Context, teamID int64) (int, error) {
	return f.teamCommits, nil
}

func (f *fakeStore) GetCommitBySHA(_ context.Context, sha string) (*models.Commit, error) {
	if f.commit == nil || !strings.HasPrefix(f.commit.SHA, sha) {
		return nil, store.ErrNotFound
	}
	cp := *f.commit
	return &cp, nil
}

func (f *fakeStore) GetCommitFiles(_ context.Context, commitID int64) ([]models.CommitFile, error) {
	return append([]models.CommitFile(nil), f.files...), nil
}

func (f *fakeStore) GetContributor(_ context.Context, id int64) (*models.Contributor, error) {
	if f.contrib == nil || f.contrib.ID != id {
		return nil, store.ErrNotFound
	}
	cp := *f.contrib
	return &cp, nil
}

type fakeDispatcher struct {
	result *syncer.DispatchResult
	err    error

	gotTeam   int64
	gotCaller int64
	gotToken  string
}

func (f *fakeDispatcher) DispatchTeamSync(_ context.Context, teamID, callerID int64, token string) (*syncer.DispatchResult, error) {
	f.gotTeam, f.gotCaller, f.gotToken = teamID, callerID, token
	return f.result, f.err
}

type fakeProber struct {
	result *syncer.TeamUpdates
	err    error
}

func (f *fakeProber) CheckTeamUpdates(_ context.Context, teamID int64, _ string) (*syncer.TeamUpdates, error) {
	return f.result, f.err
}

type fakeAnalytics struct {
	stats  *analytics.SprintStats
	report *analytics.ContributorReport
	err    error

	gotWindow string
}

func (f *fakeAnalytics) SprintStats(_ context.Context, _ int64, window string) (*analytics.SprintStats, error) {
	f.gotWindow = window
	return f.stats, f.err
}

func (f *fakeAnalytics) ContributorCommits(_ context.Context, _ int64, _ string, _, _, _ int) (*analytics.ContributorReport, error) {
	return f.report, f.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestServer(st *fakeStore, d *fakeDispatcher, p *fakeProber, a *fakeAnalytics) *Server {
	if d == nil {
		d = &fakeDispatcher{}
	}
	if p == nil {
		p = &fakeProber{}
	}
	if a == nil {
		a = &fakeAnalytics{}
	}
	return NewServer(st, d, p, a, "configured-token", quietLogger())
}

func doJSON(t *testing.T, srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestDispatchSync(t *testing.T) {
	st := newFakeStore()
	d := &fakeDispatcher{result: &syncer.DispatchResult{SessionIDs: []int64{5}}}
	srv := newTestServer(st, d, nil, nil)

	w := doJSON(t, srv, http.MethodPost, "/team/1/sync", "", map[string]string{"X-User-ID": "42"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), d.gotTeam)
	assert.Equal(t, int64(42), d.gotCaller)
	assert.Equal(t, "configured-token", d.gotToken)

	var resp syncer.DispatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []int64{5}, resp.SessionIDs)
}

func TestDispatchSyncErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"admission gate", syncer.ErrTooManySessions, http.StatusTooManyRequests},
		{"not manager", syncer.ErrNotManager, http.StatusForbidden},
		{"missing token", syncer.ErrMissingToken, http.StatusBadRequest},
		{"no repositories", syncer.ErrNoRepositories, http.StatusBadRequest},
		{"unknown team", store.ErrNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(newFakeStore(), &fakeDispatcher{err: tt.err}, nil, nil)
			w := doJSON(t, srv, http.MethodPost, "/team/1/sync", "", nil)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestTeamSyncStatus(t *testing.T) {
	st := newFakeStore()
	st.teamCommits = 120
	completed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	st.lastSession = &models.SyncSession{ID: 9, TeamID: 1, Status: models.SyncCompleted, CompletedAt: &completed}
	st.sessions[11] = &models.SyncSession{ID: 11, TeamID: 1, Status: models.SyncRunning, TotalCommits: 10, ProcessedCommits: 4}

	srv := newTestServer(st, nil, nil, nil)
	w := doJSON(t, srv, http.MethodGet, "/team/1/sync-status", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		HasData          bool               `json:"has_data"`
		LastSync         *time.Time         `json:"last_sync"`
		TotalCommits     int                `json:"total_commits_in_db"`
		Active           []progressSnapshot `json:"active_sync_sessions"`
		NeedsInitialSync bool               `json:"needs_initial_sync"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.HasData)
	assert.Equal(t, 120, resp.TotalCommits)
	require.NotNil(t, resp.LastSync)
	assert.True(t, completed.Equal(*resp.LastSync))
	require.Len(t, resp.Active, 1)
	assert.Equal(t, 40, resp.Active[0].ProgressPercent)
	assert.False(t, resp.NeedsInitialSync)
}

func TestTeamSyncStatusNeedsInitialSync(t *testing.T) {
	srv := newTestServer(newFakeStore(), nil, nil, nil)
	w := doJSON(t, srv, http.MethodGet, "/team/1/sync-status", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["needs_initial_sync"])
	assert.Equal(t, false, resp["has_data"])
}

func TestSessionStatus(t *testing.T) {
	st := newFakeStore()
	phase := models.PhaseProcessingSprint
	st.sessions[7] = &models.SyncSession{
		ID: 7, Status: models.SyncRunning,
		TotalCommits: 8, ProcessedCommits: 2, CurrentPhase: &phase,
	}
	srv := newTestServer(st, nil, nil, nil)

	w := doJSON(t, srv, http.MethodGet, "/sync/status/7", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap progressSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, int64(7), snap.SessionID)
	assert.Equal(t, 25, snap.ProgressPercent)
	assert.NotNil(t, snap.Errors)

	w = doJSON(t, srv, http.MethodGet, "/sync/status/99", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProgressStreamCompletes(t *testing.T) {
	st := newFakeStore()
	st.sessions[3] = &models.SyncSession{ID: 3, Status: models.SyncRunning, TotalCommits: 4}

	reads := 0
	st.getSessionHook = func(f *fakeStore, id int64) {
		f.mu.Lock()
		defer f.mu.Unlock()
		reads++
		s := f.sessions[3]
		// Progress advances on every poll and finishes on the fourth.
		if reads > 1 && s.ProcessedCommits < 4 {
			s.ProcessedCommits++
		}
		if s.ProcessedCommits == 4 {
			s.Status = models.SyncCompleted
		}
	}

	srv := newTestServer(st, nil, nil, nil)
	srv.streamPoll = time.Millisecond
	srv.streamTicks = 100

	w := doJSON(t, srv, http.MethodGet, "/sync/progress/3", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))

	assert.Contains(t, body, "event: complete")
	assert.Contains(t, body, `"status":"completed"`)

	// processed_commits values on the stream never decrease.
	last := -1
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var snap progressSnapshot
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
		assert.GreaterOrEqual(t, snap.ProcessedCommits, last)
		last = snap.ProcessedCommits
	}
	assert.Equal(t, 4, last)
}

func TestProgressStreamTimesOut(t *testing.T) {
	st := newFakeStore()
	st.sessions[3] = &models.SyncSession{ID: 3, Status: models.SyncRunning}

	srv := newTestServer(st, nil, nil, nil)
	srv.streamPoll = time.Millisecond
	srv.streamTicks = 5

	w := doJSON(t, srv, http.MethodGet, "/sync/progress/3", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "event: timeout")
}

func TestProgressStreamHeartbeatWhenQuiet(t *testing.T) {
	st := newFakeStore()
	st.sessions[3] = &models.SyncSession{ID: 3, Status: models.SyncRunning, TotalCommits: 4}

	srv := newTestServer(st, nil, nil, nil)
	srv.streamPoll = time.Millisecond
	srv.streamTicks = 70

	w := doJSON(t, srv, http.MethodGet, "/sync/progress/3", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()

	// 60 polls without a change pass before the timeout, so exactly one
	// heartbeat goes out.
	assert.Equal(t, 1, strings.Count(body, ": heartbeat"))
	assert.Contains(t, body, "event: timeout")
}

func TestProgressStreamNoHeartbeatWhileChanging(t *testing.T) {
	st := newFakeStore()
	st.sessions[3] = &models.SyncSession{ID: 3, Status: models.SyncRunning, TotalCommits: 1000}

	// Every poll observes fresh progress, so the stream is never quiet
	// long enough for a heartbeat.
	st.getSessionHook = func(f *fakeStore, id int64) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.sessions[3].ProcessedCommits++
	}

	srv := newTestServer(st, nil, nil, nil)
	srv.streamPoll = time.Millisecond
	srv.streamTicks = 130

	w := doJSON(t, srv, http.MethodGet, "/sync/progress/3", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()

	assert.NotContains(t, body, ": heartbeat")
	assert.Contains(t, body, "event: timeout")
}

func TestProgressStreamUnknownSession(t *testing.T) {
	srv := newTestServer(newFakeStore(), nil, nil, nil)
	w := doJSON(t, srv, http.MethodGet, "/sync/progress/404", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSprintStatsPassesWindow(t *testing.T) {
	a := &fakeAnalytics{stats: &analytics.SprintStats{}}
	srv := newTestServer(newFakeStore(), nil, nil, a)

	w := doJSON(t, srv, http.MethodGet, "/stats/team/1/sprint-stats?days=all", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "all", a.gotWindow)
}

func TestCommitDetails(t *testing.T) {
	st := newFakeStore()
	contribID := int64(4)
	commitType := "feat"
	additions := 12
	st.commit = &models.Commit{
		ID: 20, SHA: "abcdef1234567890", Message: "feat: widgets",
		ContributorID: &contribID, CommitType: &commitType, Additions: &additions,
	}
	lang := "go"
	st.files = []models.CommitFile{{CommitID: 20, FilePath: "main.go", Additions: &additions, Language: &lang}}
	login := "alice"
	st.contrib = &models.Contributor{ID: 4, Login: &login}

	srv := newTestServer(st, nil, nil, nil)
	w := doJSON(t, srv, http.MethodGet, "/stats/commit/abcdef1/details", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "abcdef1234567890", resp["sha"])
	assert.Equal(t, "abcdef1", resp["short_sha"])
	assert.Equal(t, "alice", resp["author_login"])
	assert.Len(t, resp["files"], 1)

	w = doJSON(t, srv, http.MethodGet, "/stats/commit/ffffff9/details", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/stats/commit/ab/details", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSettingsReturnsDefaults(t *testing.T) {
	srv := newTestServer(newFakeStore(), nil, nil, nil)
	w := doJSON(t, srv, http.MethodGet, "/team/1/settings", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Workflow struct {
			Sprint struct {
				DurationDays int `json:"duration_days"`
			} `json:"sprint"`
		} `json:"workflow"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 14, resp.Workflow.Sprint.DurationDays)
}

func TestPutSettingsMerges(t *testing.T) {
	st := newFakeStore()
	srv := newTestServer(st, nil, nil, nil)

	body := `{"workflow": {"sprint": {"duration_days": 21}}}`
	w := doJSON(t, srv, http.MethodPut, "/team/1/settings", body, map[string]string{"X-User-ID": "42"})

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, st.updatedWorkflow)
	assert.Contains(t, *st.updatedWorkflow, `"duration_days":21`)
	assert.Nil(t, st.updatedAnalysis)

	var resp struct {
		Workflow struct {
			Sprint struct {
				DurationDays int `json:"duration_days"`
			} `json:"sprint"`
			Sync struct {
				MaxWorkers int `json:"max_workers"`
			} `json:"sync"`
		} `json:"workflow"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 21, resp.Workflow.Sprint.DurationDays)
}

func TestPutSettingsRequiresManager(t *testing.T) {
	srv := newTestServer(newFakeStore(), nil, nil, nil)
	body := `{"workflow": {"sprint": {"duration_days": 21}}}`
	w := doJSON(t, srv, http.MethodPut, "/team/1/settings", body, map[string]string{"X-User-ID": "7"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRepoLifecycle(t *testing.T) {
	st := newFakeStore()
	srv := newTestServer(st, nil, nil, nil)
	manager := map[string]string{"X-User-ID": "42"}

	w := doJSON(t, srv, http.MethodPost, "/team/1/repos", `{"url": "https://github.com/acme/widgets"}`, manager)
	require.Equal(t, http.StatusCreated, w.Code)
	var repo models.Repository
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &repo))
	assert.Equal(t, models.ProviderGitHub, repo.Provider)
	assert.Equal(t, "acme", repo.Owner)
	assert.Equal(t, "widgets", repo.Name)

	// Duplicate add conflicts.
	w = doJSON(t, srv, http.MethodPost, "/team/1/repos", `{"url": "https://github.com/acme/widgets"}`, manager)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Garbage URL is a config error.
	w = doJSON(t, srv, http.MethodPost, "/team/1/repos", `{"url": "https://github.com/justowner"}`, manager)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/team/1/repos", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var repos []models.Repository
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &repos))
	require.Len(t, repos, 1)

	w = doJSON(t, srv, http.MethodDelete, "/team/1/repos/1", "", manager)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodDelete, "/team/1/repos/1", "", manager)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAddRepoRequiresManager(t *testing.T) {
	srv := newTestServer(newFakeStore(), nil, nil, nil)
	w := doJSON(t, srv, http.MethodPost, "/team/1/repos", `{"url": "https://github.com/acme/widgets"}`, map[string]string{"X-User-ID": "7"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
