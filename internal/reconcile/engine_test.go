package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ramongranda/bitbucket-env-sync/internal/envfile"
	"github.com/ramongranda/bitbucket-env-sync/internal/settings"
)

// fakeVCS scripts collaborator behavior per repository URL or destination.
type fakeVCS struct {
	head          string
	branch        string
	defaultBranch string
	origin        string

	cloneErr       error
	updateErr      error
	resolveHeadErr error

	cloneCalls  []string
	updateCalls []string
}

func (f *fakeVCS) Clone(ctx context.Context, url, dest string) error {
	f.cloneCalls = append(f.cloneCalls, url)
	return f.cloneErr
}

func (f *fakeVCS) FetchAndUpdate(ctx context.Context, dest, defaultBranch string) error {
	f.updateCalls = append(f.updateCalls, dest)
	return f.updateErr
}

func (f *fakeVCS) ResolveHead(ctx context.Context, dest string) (string, error) {
	if f.resolveHeadErr != nil {
		return "", f.resolveHeadErr
	}
	return f.head, nil
}

func (f *fakeVCS) CurrentBranch(ctx context.Context, dest string) (string, error) {
	return f.branch, nil
}

func (f *fakeVCS) DefaultBranch(ctx context.Context, dest string) (string, error) {
	return f.defaultBranch, nil
}

func (f *fakeVCS) OriginURL(dest string) (string, error) {
	return f.origin, nil
}

type fakeCommitter struct {
	calls []string
	err   error
}

func (f *fakeCommitter) AutoCommit(ctx context.Context, dir, file, message string) error {
	f.calls = append(f.calls, message)
	return f.err
}

func newTestEngine(t *testing.T, repoList []string, vcs VCS) (*Engine, *envfile.Guard) {
	t.Helper()
	dir := t.TempDir()
	guard := envfile.NewGuard(filepath.Join(dir, ".env"))

	return &Engine{
		Settings: &settings.Settings{
			Mode:     settings.ModeCloud,
			User:     "alice",
			BaseDir:  filepath.Join(dir, "repos"),
			RepoList: repoList,
		},
		Guard:      guard,
		VCS:        vcs,
		HasWorkdir: func(string) bool { return false },
	}, guard
}

func TestRun_CloneScenario(t *testing.T) {
	vcs := &fakeVCS{head: "abc123", branch: "main", defaultBranch: "main"}
	engine, guard := newTestEngine(t, []string{"https://host/ws/repo1"}, vcs)

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Synced(), 1)
	require.Empty(t, summary.Failed())
	require.Equal(t, StatusCloned, summary.Results[0].Status)
	require.Equal(t, []string{"https://host/ws/repo1"}, vcs.cloneCalls)

	st, err := guard.Load(context.Background())
	require.NoError(t, err)

	for key, want := range map[string]string{
		"REPO_REPO1_LAST_STATUS":   "cloned",
		"REPO_REPO1_LAST_COMMIT":   "abc123",
		"REPO_REPO1_ACTIVE_BRANCH": "main",
	} {
		got, ok := st.Get(key)
		require.True(t, ok, "missing %s", key)
		require.Equal(t, want, got, key)
	}

	syncRaw, ok := st.Get("REPO_REPO1_LAST_SYNC")
	require.True(t, ok)
	_, err = time.Parse(envfile.TimeLayout, syncRaw)
	require.NoError(t, err, "LAST_SYNC must be UTC ISO-8601")

	list, _ := st.Get(envfile.KeyRepoList)
	require.Contains(t, list, "https://host/ws/repo1")
}

func TestRun_PartialFailurePersistsNothing(t *testing.T) {
	// Clone succeeds but the head cannot be resolved: none of the five
	// keys may appear in the backing file.
	vcs := &fakeVCS{branch: "main", defaultBranch: "main", resolveHeadErr: errors.New("object store corrupt")}
	engine, guard := newTestEngine(t, []string{"https://host/ws/repo1"}, vcs)

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Failed(), 1)
	require.Equal(t, StateFailed, summary.Results[0].State)

	st, err := guard.Load(context.Background())
	require.NoError(t, err)
	for _, key := range st.Keys() {
		require.NotContains(t, key, "REPO_REPO1_")
	}
}

func TestRun_FailureDoesNotAbortBatch(t *testing.T) {
	vcs := &fakeVCS{head: "def456", branch: "main", defaultBranch: "main", cloneErr: errors.New("network unreachable")}
	engine, guard := newTestEngine(t, []string{"https://host/ws/bad", "https://host/ws/good"}, cloneFailsFirst{vcs})

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Results, 2)
	require.Equal(t, StateFailed, summary.Results[0].State)
	require.Equal(t, StateSynced, summary.Results[1].State)

	st, err := guard.Load(context.Background())
	require.NoError(t, err)
	require.False(t, st.Has("REPO_BAD_LAST_SYNC"))
	require.True(t, st.Has("REPO_GOOD_LAST_SYNC"))
}

// cloneFailsFirst fails only the first Clone call.
type cloneFailsFirst struct {
	*fakeVCS
}

func (c cloneFailsFirst) Clone(ctx context.Context, url, dest string) error {
	first := len(c.fakeVCS.cloneCalls) == 0
	c.fakeVCS.cloneCalls = append(c.fakeVCS.cloneCalls, url)
	if first {
		return c.cloneErr
	}
	return nil
}

func TestRun_IdempotentRerun(t *testing.T) {
	vcs := &fakeVCS{head: "abc123", branch: "main", defaultBranch: "main", origin: "https://host/ws/repo1"}
	engine, guard := newTestEngine(t, []string{"https://host/ws/repo1"}, vcs)
	engine.HasWorkdir = func(string) bool { return true }

	base := time.Date(2025, 10, 24, 12, 0, 0, 0, time.UTC)
	engine.Now = func() time.Time { return base }

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Synced(), 1)
	require.Equal(t, StatusUpdated, summary.Results[0].Status)

	engine.Now = func() time.Time { return base.Add(time.Hour) }
	summary, err = engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusUpdated, summary.Results[0].Status)

	st, err := guard.Load(context.Background())
	require.NoError(t, err)

	rec, ok := envfile.LoadRecord(st, "repo1")
	require.True(t, ok)
	require.Equal(t, "updated", rec.LastStatus)
	require.Equal(t, "abc123", rec.LastCommit, "commit unchanged on rerun")
	require.Equal(t, base.Add(time.Hour), rec.LastSync, "last_sync strictly increases")

	require.Len(t, vcs.updateCalls, 2)
	require.Empty(t, vcs.cloneCalls)
}

func TestRun_OriginMismatchFailsRepository(t *testing.T) {
	vcs := &fakeVCS{head: "abc123", branch: "main", defaultBranch: "main", origin: "https://elsewhere/other/thing"}
	engine, guard := newTestEngine(t, []string{"https://host/ws/repo1"}, vcs)
	engine.HasWorkdir = func(string) bool { return true }

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Failed(), 1)
	require.Contains(t, summary.Failed()[0].Err.Error(), "tracks")
	require.Empty(t, vcs.updateCalls)

	st, err := guard.Load(context.Background())
	require.NoError(t, err)
	require.False(t, st.Has("REPO_REPO1_LAST_SYNC"))
}

func TestRun_AutoCommit(t *testing.T) {
	vcs := &fakeVCS{head: "abc123", branch: "main", defaultBranch: "main"}
	engine, _ := newTestEngine(t, []string{"https://host/ws/repo1"}, vcs)
	engine.Settings.AutoCommit = true

	committer := &fakeCommitter{}
	engine.Committer = committer

	engine.Now = func() time.Time {
		return time.Date(2025, 10, 24, 12, 34, 56, 0, time.UTC)
	}

	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"env: update REPO1 2025-10-24T12:34:56Z"}, committer.calls)
}

func TestRun_AutoCommitFailureIsNotFatal(t *testing.T) {
	vcs := &fakeVCS{head: "abc123", branch: "main", defaultBranch: "main"}
	engine, guard := newTestEngine(t, []string{"https://host/ws/repo1"}, vcs)
	engine.Settings.AutoCommit = true
	engine.Committer = &fakeCommitter{err: errors.New("nothing to commit")}

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Synced(), 1)

	st, err := guard.Load(context.Background())
	require.NoError(t, err)
	require.True(t, st.Has("REPO_REPO1_LAST_SYNC"))
}

type fakeLister struct {
	candidates []Candidate
	err        error
}

func (f fakeLister) List(ctx context.Context) ([]Candidate, error) {
	return f.candidates, f.err
}

func TestCandidates_AllowListTakesPrecedence(t *testing.T) {
	engine, _ := newTestEngine(t, []string{"https://host/ws/repo1/", "https://host/ws/Repo-Two"}, &fakeVCS{})
	engine.Lister = fakeLister{err: errors.New("must not be called")}

	candidates, err := engine.Candidates(context.Background())
	require.NoError(t, err)

	require.Equal(t, []Candidate{
		{Slug: "repo1", URL: "https://host/ws/repo1"},
		{Slug: "repo_two", URL: "https://host/ws/Repo-Two"},
	}, candidates)
}

func TestCandidates_FallsBackToLister(t *testing.T) {
	engine, _ := newTestEngine(t, nil, &fakeVCS{})
	engine.Lister = fakeLister{candidates: []Candidate{
		{Slug: "Repo-One", URL: "https://host/ws/repo-one.git"},
		{URL: "https://host/ws/repo-two.git"},
	}}

	candidates, err := engine.Candidates(context.Background())
	require.NoError(t, err)

	require.Equal(t, "repo_one", candidates[0].Slug)
	require.Equal(t, "repo_two", candidates[1].Slug, "slug derived from URL when API omits it")
}

func TestCandidates_NoListNoLister(t *testing.T) {
	engine, _ := newTestEngine(t, nil, &fakeVCS{})

	_, err := engine.Candidates(context.Background())
	require.Error(t, err)
}

func TestSummary_Partition(t *testing.T) {
	s := &Summary{Results: []Result{
		{Slug: "a", State: StateSynced},
		{Slug: "b", State: StateFailed, Err: fmt.Errorf("x")},
		{Slug: "c", State: StateSynced},
	}}

	require.Len(t, s.Synced(), 2)
	require.Len(t, s.Failed(), 1)
	require.Equal(t, "b", s.Failed()[0].Slug)
}
