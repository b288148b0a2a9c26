package cmd

import (
	"context"
	"log/slog"

	"github.com/ramongranda/bitbucket-env-sync/internal/bitbucket"
	"github.com/ramongranda/bitbucket-env-sync/internal/envfile"
	"github.com/ramongranda/bitbucket-env-sync/internal/reconcile"
	"github.com/ramongranda/bitbucket-env-sync/internal/settings"
)

// loadSettings reads the backing file, fills in the keys the tool always
// maintains, persists any added defaults best-effort, and validates.
func loadSettings(ctx context.Context, guard *envfile.Guard) (*settings.Settings, error) {
	st, err := guard.Load(ctx)
	if err != nil {
		return nil, err
	}

	if settings.EnsureDefaults(st) {
		if err := guard.Update(ctx, func(disk *envfile.Store) error {
			st.ApplyDirtyTo(disk)
			return nil
		}); err != nil {
			slog.Warn("could not persist default keys", "error", err)
		}
		st.ResetDirty()
	}

	return settings.Load(st)
}

// newAPIClient builds the Bitbucket client for the configured instance,
// with credentials from the process environment.
func newAPIClient(cfg *settings.Settings) (*bitbucket.Client, error) {
	return bitbucket.NewClient(
		bitbucket.CredentialsFromEnv(cfg.User),
		bitbucket.Options{Insecure: cfg.Insecure, CABundle: cfg.CABundle},
	)
}

// listAPIRepositories fetches the full repository listing for the
// configured workspace or project.
func listAPIRepositories(ctx context.Context, cfg *settings.Settings) ([]bitbucket.Repository, error) {
	client, err := newAPIClient(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Mode == settings.ModeServer {
		return client.ListProject(ctx, cfg.BaseURL, cfg.Project)
	}
	return client.ListWorkspace(ctx, "", cfg.Workspace)
}

// apiLister adapts the Bitbucket client to the engine's Lister interface.
type apiLister struct {
	cfg *settings.Settings
}

func (l apiLister) List(ctx context.Context) ([]reconcile.Candidate, error) {
	repos, err := listAPIRepositories(ctx, l.cfg)
	if err != nil {
		return nil, err
	}

	candidates := make([]reconcile.Candidate, 0, len(repos))
	for _, r := range repos {
		candidates = append(candidates, reconcile.Candidate{Slug: r.Slug, URL: r.URL})
	}
	return candidates, nil
}
