// Package settings derives the validated global configuration from the
// backing file's top-level keys.
package settings

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ramongranda/bitbucket-env-sync/internal/envfile"
)

// Mode selects which Bitbucket API flavor the tool talks to.
type Mode string

const (
	// ModeCloud targets api.bitbucket.org for a workspace.
	ModeCloud Mode = "cloud"
	// ModeServer targets a self-hosted Server/DC instance for a project.
	ModeServer Mode = "server"
)

var projectsPathPattern = regexp.MustCompile(`(?i)/projects/([^/]+)/?`)

// Settings is the immutable global configuration for one run, validated
// before any network or VCS work starts.
type Settings struct {
	Mode       Mode
	Workspace  string // cloud workspace slug
	BaseURL    string // server base URL, e.g. https://bitbucket.corp
	Project    string // server project key
	User       string
	BaseDir    string
	Insecure   bool
	CABundle   string // PEM bundle for API TLS verification
	GitCA      string // PEM bundle handed to git
	AutoCommit bool
	RepoList   []string // allow-list; empty means sync the full API listing
}

// EnsureDefaults makes sure the keys the tool always maintains exist,
// reporting whether the store changed and needs persisting.
func EnsureDefaults(st *envfile.Store) bool {
	changed := false
	if !st.Has(envfile.KeyInsecure) {
		st.Set(envfile.KeyInsecure, "true")
		changed = true
	}
	if !st.Has(envfile.KeyRepoList) {
		st.Set(envfile.KeyRepoList, "")
		changed = true
	}
	return changed
}

// Load validates the store and builds the settings for this run. All
// missing required keys are reported at once via MissingFieldsError.
func Load(st *envfile.Store) (*Settings, error) {
	var missing []string
	if err := st.Require(envfile.KeyUser, envfile.KeyBaseDir); err != nil {
		var fieldsErr *envfile.MissingFieldsError
		if !errors.As(err, &fieldsErr) {
			return nil, err
		}
		missing = fieldsErr.Missing
	}

	user, _ := st.Get(envfile.KeyUser)
	baseDir, _ := st.Get(envfile.KeyBaseDir)
	workspace, _ := st.Get(envfile.KeyWorkspace)
	baseURL, _ := st.Get(envfile.KeyBaseURL)
	project, _ := st.Get(envfile.KeyProject)

	mode, target, err := detectMode(workspace, baseURL, project)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		missing = append(missing,
			fmt.Sprintf("%s or (%s and %s)", envfile.KeyWorkspace, envfile.KeyBaseURL, envfile.KeyProject))
	}

	if len(missing) > 0 {
		return nil, &envfile.MissingFieldsError{Missing: missing}
	}

	s := &Settings{
		Mode:    mode,
		User:    strings.TrimSpace(user),
		BaseDir: strings.TrimSpace(baseDir),
	}
	switch mode {
	case ModeCloud:
		s.Workspace = target.workspace
	case ModeServer:
		s.BaseURL = target.baseURL
		s.Project = target.project
	}

	insecure, _ := st.Get(envfile.KeyInsecure)
	s.Insecure = parseBool(insecure, true)
	autoCommit, _ := st.Get(envfile.KeyAutoCommit)
	s.AutoCommit = parseBool(autoCommit, false)
	s.CABundle, _ = st.Get(envfile.KeyCABundle)
	s.GitCA, _ = st.Get(envfile.KeyGitCABundle)

	repoList, _ := st.Get(envfile.KeyRepoList)
	s.RepoList = envfile.SplitList(repoList)

	return s, nil
}

type destination struct {
	workspace string
	baseURL   string
	project   string
}

// detectMode resolves cloud versus server configuration. A workspace value
// that is itself a https://host/projects/KEY URL selects server mode with
// the base URL and project key extracted from it.
func detectMode(workspace, baseURL, project string) (Mode, destination, error) {
	workspace = strings.TrimSpace(workspace)
	baseURL = strings.TrimSpace(baseURL)
	project = strings.TrimSpace(project)

	if strings.HasPrefix(workspace, "http://") || strings.HasPrefix(workspace, "https://") {
		u, err := url.Parse(workspace)
		if err != nil {
			return "", destination{}, fmt.Errorf("parse %s: %w", envfile.KeyWorkspace, err)
		}
		m := projectsPathPattern.FindStringSubmatch(u.Path)
		if m == nil {
			return "", destination{}, fmt.Errorf(
				"%s looks like a URL but is not of the form https://host/projects/KEY", envfile.KeyWorkspace)
		}
		return ModeServer, destination{baseURL: u.Scheme + "://" + u.Host, project: m[1]}, nil
	}

	if baseURL != "" && project != "" {
		return ModeServer, destination{baseURL: strings.TrimRight(baseURL, "/"), project: project}, nil
	}

	if workspace != "" {
		return ModeCloud, destination{workspace: workspace}, nil
	}

	return "", destination{}, nil
}

// parseBool accepts the truthy spellings the legacy tool accepted.
func parseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	default:
		return def
	}
}
