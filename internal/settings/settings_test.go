package settings

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ramongranda/bitbucket-env-sync/internal/envfile"
)

func storeWith(t *testing.T, pairs map[string]string) *envfile.Store {
	t.Helper()
	st := envfile.NewStore()
	for k, v := range pairs {
		st.Set(k, v)
	}
	return st
}

func TestEnsureDefaults(t *testing.T) {
	st := envfile.NewStore()

	require.True(t, EnsureDefaults(st))

	insecure, _ := st.Get(envfile.KeyInsecure)
	require.Equal(t, "true", insecure)
	require.True(t, st.Has(envfile.KeyRepoList))

	// Second call changes nothing.
	require.False(t, EnsureDefaults(st))
}

func TestLoad_CloudMode(t *testing.T) {
	st := storeWith(t, map[string]string{
		envfile.KeyUser:      "alice",
		envfile.KeyWorkspace: "myteam",
		envfile.KeyBaseDir:   "/srv/repos",
		envfile.KeyRepoList:  "https://bitbucket.org/myteam/r1\nhttps://bitbucket.org/myteam/r2",
	})

	cfg, err := Load(st)
	require.NoError(t, err)

	require.Equal(t, ModeCloud, cfg.Mode)
	require.Equal(t, "myteam", cfg.Workspace)
	require.Equal(t, "alice", cfg.User)
	require.Equal(t, "/srv/repos", cfg.BaseDir)
	require.True(t, cfg.Insecure, "INSECURE defaults to true")
	require.False(t, cfg.AutoCommit, "AUTO_COMMIT_ENV defaults to false")
	require.Len(t, cfg.RepoList, 2)
}

func TestLoad_ServerModeExplicit(t *testing.T) {
	st := storeWith(t, map[string]string{
		envfile.KeyUser:    "alice",
		envfile.KeyBaseURL: "https://bitbucket.corp/",
		envfile.KeyProject: "PLAT",
		envfile.KeyBaseDir: "/srv/repos",
	})

	cfg, err := Load(st)
	require.NoError(t, err)

	require.Equal(t, ModeServer, cfg.Mode)
	require.Equal(t, "https://bitbucket.corp", cfg.BaseURL)
	require.Equal(t, "PLAT", cfg.Project)
}

func TestLoad_ServerModeFromWorkspaceURL(t *testing.T) {
	st := storeWith(t, map[string]string{
		envfile.KeyUser:      "alice",
		envfile.KeyWorkspace: "https://bitbucket.corp/projects/PLAT/",
		envfile.KeyBaseDir:   "/srv/repos",
	})

	cfg, err := Load(st)
	require.NoError(t, err)

	require.Equal(t, ModeServer, cfg.Mode)
	require.Equal(t, "https://bitbucket.corp", cfg.BaseURL)
	require.Equal(t, "PLAT", cfg.Project)
}

func TestLoad_WorkspaceURLWithoutProjectsPath(t *testing.T) {
	st := storeWith(t, map[string]string{
		envfile.KeyUser:      "alice",
		envfile.KeyWorkspace: "https://bitbucket.corp/other/thing",
		envfile.KeyBaseDir:   "/srv/repos",
	})

	_, err := Load(st)
	require.Error(t, err)
	require.Contains(t, err.Error(), "/projects/KEY")
}

func TestLoad_ReportsAllMissingAtOnce(t *testing.T) {
	// Neither the user, base dir, nor any destination is configured.
	st := storeWith(t, map[string]string{
		envfile.KeyInsecure: "true",
	})

	_, err := Load(st)

	var missing *envfile.MissingFieldsError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, []string{
		envfile.KeyUser,
		envfile.KeyBaseDir,
		"BITBUCKET_WORKSPACE or (BITBUCKET_BASE_URL and BITBUCKET_PROJECT)",
	}, missing.Missing)
}

func TestLoad_Booleans(t *testing.T) {
	tests := []struct {
		name       string
		insecure   string
		autoCommit string
		wantTLS    bool
		wantCommit bool
	}{
		{name: "defaults", insecure: "", autoCommit: "", wantTLS: true, wantCommit: false},
		{name: "explicit off", insecure: "false", autoCommit: "no", wantTLS: false, wantCommit: false},
		{name: "truthy spellings", insecure: "YES", autoCommit: "1", wantTLS: true, wantCommit: true},
		{name: "garbage keeps defaults", insecure: "maybe", autoCommit: "sometimes", wantTLS: true, wantCommit: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := storeWith(t, map[string]string{
				envfile.KeyUser:       "alice",
				envfile.KeyWorkspace:  "myteam",
				envfile.KeyBaseDir:    "/srv/repos",
				envfile.KeyInsecure:   tt.insecure,
				envfile.KeyAutoCommit: tt.autoCommit,
			})

			cfg, err := Load(st)
			require.NoError(t, err)
			require.Equal(t, tt.wantTLS, cfg.Insecure)
			require.Equal(t, tt.wantCommit, cfg.AutoCommit)
		})
	}
}
