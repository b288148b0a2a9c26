// Package reconcile compares persisted sync metadata against live
// repository state and drives the per-repository clone/update cycle.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ramongranda/bitbucket-env-sync/internal/envfile"
	"github.com/ramongranda/bitbucket-env-sync/internal/settings"
)

// Status is the persisted outcome of a successful sync.
type Status string

const (
	// StatusCloned marks a repository that was cloned fresh this run.
	StatusCloned Status = "cloned"
	// StatusUpdated marks a repository whose existing working copy was
	// brought up to date.
	StatusUpdated Status = "updated"
)

// State tracks one repository through the run.
// Pending -> (Cloning | Updating) -> {Synced | Failed}
type State string

const (
	StatePending  State = "pending"
	StateCloning  State = "cloning"
	StateUpdating State = "updating"
	StateSynced   State = "synced"
	StateFailed   State = "failed"
)

// VCS is the version-control collaborator. Every error is treated
// uniformly as "this repository failed".
type VCS interface {
	Clone(ctx context.Context, url, dest string) error
	FetchAndUpdate(ctx context.Context, dest, defaultBranch string) error
	ResolveHead(ctx context.Context, dest string) (string, error)
	CurrentBranch(ctx context.Context, dest string) (string, error)
	DefaultBranch(ctx context.Context, dest string) (string, error)
	OriginURL(dest string) (string, error)
}

// Candidate is one repository to reconcile.
type Candidate struct {
	Slug string
	URL  string
}

// Lister supplies the full candidate set when the allow-list is empty.
type Lister interface {
	List(ctx context.Context) ([]Candidate, error)
}

// Committer is the optional auto-commit helper for the backing file.
type Committer interface {
	AutoCommit(ctx context.Context, dir, file, message string) error
}

// WorkingCopyCheck reports whether a working copy already exists at dir.
// Variable so engine tests can run without a real git tree.
type WorkingCopyCheck func(dir string) bool

// Result is the terminal outcome for one repository.
type Result struct {
	Slug          string
	URL           string
	State         State
	Status        Status
	Commit        string
	ActiveBranch  string
	DefaultBranch string
	Err           error
}

// Summary is the end-of-run report. Individual failures never abort the
// batch and never affect the exit code.
type Summary struct {
	Results []Result
}

// Synced returns the repositories whose metadata was persisted this run.
func (s *Summary) Synced() []Result {
	return s.filter(StateSynced)
}

// Failed returns the repositories that kept their prior metadata untouched.
func (s *Summary) Failed() []Result {
	return s.filter(StateFailed)
}

func (s *Summary) filter(state State) []Result {
	var out []Result
	for _, r := range s.Results {
		if r.State == state {
			out = append(out, r)
		}
	}
	return out
}

// Engine reconciles candidates sequentially. Cross-process safety comes
// from the Guard; there is no in-process parallelism.
type Engine struct {
	Settings   *settings.Settings
	Guard      *envfile.Guard
	VCS        VCS
	Lister     Lister
	Committer  Committer // nil or disabled settings skip auto-commit
	Logger     *slog.Logger
	Now        func() time.Time // test hook; defaults to time.Now
	HasWorkdir WorkingCopyCheck // test hook; defaults to detecting .git
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Candidates resolves the repositories to reconcile: the REPO_LIST
// allow-list when non-empty, otherwise the full API listing.
func (e *Engine) Candidates(ctx context.Context) ([]Candidate, error) {
	if len(e.Settings.RepoList) > 0 {
		candidates := make([]Candidate, 0, len(e.Settings.RepoList))
		for _, url := range e.Settings.RepoList {
			candidates = append(candidates, Candidate{Slug: envfile.Slug(url), URL: envfile.NormalizeURL(url)})
		}
		return candidates, nil
	}

	if e.Lister == nil {
		return nil, fmt.Errorf("no repository list configured and no API listing available")
	}
	listed, err := e.Lister.List(ctx)
	if err != nil {
		return nil, err
	}
	for i, c := range listed {
		if c.Slug == "" {
			listed[i].Slug = envfile.Slug(c.URL)
		} else {
			listed[i].Slug = envfile.Slug(c.Slug)
		}
	}
	return listed, nil
}

// Run reconciles every candidate and returns the summary. It fails only
// when the candidate set itself cannot be resolved; per-repository errors
// are recorded in the summary and the batch continues.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	candidates, err := e.Candidates(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	for _, c := range candidates {
		res := e.syncOne(ctx, c)
		summary.Results = append(summary.Results, res)

		if res.Err != nil {
			e.logger().Error("repository sync failed", "slug", res.Slug, "error", res.Err)
			continue
		}
		e.logger().Info("repository synced",
			"slug", res.Slug, "status", string(res.Status), "commit", res.Commit, "branch", res.ActiveBranch)
	}

	return summary, nil
}

func (e *Engine) hasWorkdir(dir string) bool {
	if e.HasWorkdir != nil {
		return e.HasWorkdir(dir)
	}
	return defaultWorkingCopyCheck(dir)
}

// syncOne drives one repository through the state machine. Nothing is
// persisted unless every collaborator call succeeded.
func (e *Engine) syncOne(ctx context.Context, c Candidate) Result {
	res := Result{Slug: c.Slug, URL: c.URL, State: StatePending}
	dest := filepath.Join(e.Settings.BaseDir, c.Slug)

	if e.hasWorkdir(dest) {
		res.State = StateUpdating
		res.Status = StatusUpdated

		origin, err := e.VCS.OriginURL(dest)
		if err != nil {
			return failed(res, err)
		}
		if !sameRemote(origin, c.URL) {
			return failed(res, fmt.Errorf("working copy at %s tracks %s, expected %s", dest, origin, c.URL))
		}

		branch, err := e.VCS.DefaultBranch(ctx, dest)
		if err != nil {
			return failed(res, err)
		}
		res.DefaultBranch = branch

		if err := e.VCS.FetchAndUpdate(ctx, dest, branch); err != nil {
			return failed(res, err)
		}
	} else {
		res.State = StateCloning
		res.Status = StatusCloned

		if err := e.VCS.Clone(ctx, c.URL, dest); err != nil {
			return failed(res, err)
		}

		branch, err := e.VCS.DefaultBranch(ctx, dest)
		if err != nil {
			return failed(res, err)
		}
		res.DefaultBranch = branch
	}

	commit, err := e.VCS.ResolveHead(ctx, dest)
	if err != nil {
		return failed(res, err)
	}
	res.Commit = commit

	active, err := e.VCS.CurrentBranch(ctx, dest)
	if err != nil {
		return failed(res, err)
	}
	res.ActiveBranch = active

	record := envfile.Record{
		DefaultBranch: res.DefaultBranch,
		LastSync:      e.now().UTC(),
		LastStatus:    string(res.Status),
		LastCommit:    res.Commit,
		ActiveBranch:  res.ActiveBranch,
	}

	if err := e.persist(ctx, c, record); err != nil {
		return failed(res, err)
	}

	res.State = StateSynced
	e.autoCommit(ctx, c.Slug, record.LastSync)
	return res
}

// persist applies the five-key delta for one slug under the guard. The
// on-disk store is re-read inside the critical section, so unrelated keys
// written by concurrent processes survive.
func (e *Engine) persist(ctx context.Context, c Candidate, record envfile.Record) error {
	return e.Guard.Update(ctx, func(st *envfile.Store) error {
		envfile.MigrateLegacyKeys(st)
		envfile.EnsureListed(st, c.URL)
		record.Apply(st, c.Slug)
		return nil
	})
}

// autoCommit best-effort commits the backing file after a successful
// per-repo write. Failures are logged, never propagated.
func (e *Engine) autoCommit(ctx context.Context, slug string, syncedAt time.Time) {
	if e.Committer == nil || !e.Settings.AutoCommit {
		return
	}

	path := e.Guard.Path()
	message := fmt.Sprintf("env: update %s %s", strings.ToUpper(slug), syncedAt.UTC().Format(envfile.TimeLayout))

	if err := e.Committer.AutoCommit(ctx, filepath.Dir(path), filepath.Base(path), message); err != nil {
		e.logger().Warn("auto-commit of backing file failed", "slug", slug, "error", err)
	}
}

func failed(res Result, err error) Result {
	res.State = StateFailed
	res.Err = err
	return res
}

func sameRemote(a, b string) bool {
	norm := func(u string) string {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		return strings.TrimSuffix(u, ".git")
	}
	return norm(a) == norm(b)
}

func defaultWorkingCopyCheck(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}
