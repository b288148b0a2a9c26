package envfile

import (
	"regexp"
	"strings"
	"time"
)

// Top-level configuration keys.
const (
	KeyUser        = "BITBUCKET_USER"
	KeyWorkspace   = "BITBUCKET_WORKSPACE"
	KeyBaseURL     = "BITBUCKET_BASE_URL"
	KeyProject     = "BITBUCKET_PROJECT"
	KeyBaseDir     = "BB_BASE_DIR"
	KeyRepoList    = "REPO_LIST"
	KeyInsecure    = "INSECURE"
	KeyCABundle    = "BITBUCKET_CA_BUNDLE"
	KeyGitCABundle = "GIT_CA_BUNDLE"
	KeyAutoCommit  = "AUTO_COMMIT_ENV"
)

// Per-repository metadata key suffixes. The full key is
// REPO_<SLUG>_<suffix> with the slug uppercased.
const (
	suffixDefaultBranch = "DEFAULT_BRANCH"
	suffixLastSync      = "LAST_SYNC"
	suffixLastStatus    = "LAST_STATUS"
	suffixLastCommit    = "LAST_COMMIT"
	suffixActiveBranch  = "ACTIVE_BRANCH"
)

// TimeLayout is the persisted timestamp form: UTC ISO-8601 at second
// resolution, e.g. 2025-10-24T12:34:56Z.
const TimeLayout = "2006-01-02T15:04:05Z"

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// Slug derives the filesystem-safe repository identifier from its URL:
// the last path segment, lowercased, with runs of non-alphanumeric
// characters collapsed to a single underscore.
func Slug(rawURL string) string {
	s := strings.TrimRight(strings.TrimSpace(rawURL), "/")
	s = strings.TrimSuffix(s, ".git")
	if i := strings.LastIndexAny(s, "/:"); i >= 0 {
		s = s[i+1:]
	}
	s = nonAlnumRun.ReplaceAllString(strings.ToLower(s), "_")
	return strings.Trim(s, "_")
}

// RepoKey builds the persisted key for a slug and metadata suffix.
func RepoKey(slug, suffix string) string {
	return "REPO_" + strings.ToUpper(slug) + "_" + suffix
}

// Record is the typed view over the five per-repository metadata keys.
// All five are written together after a successful sync; a repository never
// has a partial record.
type Record struct {
	DefaultBranch string
	LastSync      time.Time
	LastStatus    string
	LastCommit    string
	ActiveBranch  string
}

// Apply writes the record's five keys for slug onto the store.
func (r Record) Apply(s *Store, slug string) {
	s.Set(RepoKey(slug, suffixDefaultBranch), r.DefaultBranch)
	s.Set(RepoKey(slug, suffixLastSync), r.LastSync.UTC().Format(TimeLayout))
	s.Set(RepoKey(slug, suffixLastStatus), r.LastStatus)
	s.Set(RepoKey(slug, suffixLastCommit), r.LastCommit)
	s.Set(RepoKey(slug, suffixActiveBranch), r.ActiveBranch)
}

// LoadRecord reconstructs the record for slug. The second return is false
// when no sync has ever been recorded for that slug.
func LoadRecord(s *Store, slug string) (Record, bool) {
	syncRaw, ok := s.Get(RepoKey(slug, suffixLastSync))
	if !ok {
		return Record{}, false
	}

	var r Record
	r.LastSync, _ = time.Parse(TimeLayout, syncRaw)
	r.DefaultBranch, _ = s.Get(RepoKey(slug, suffixDefaultBranch))
	r.LastStatus, _ = s.Get(RepoKey(slug, suffixLastStatus))
	r.LastCommit, _ = s.Get(RepoKey(slug, suffixLastCommit))
	r.ActiveBranch, _ = s.Get(RepoKey(slug, suffixActiveBranch))
	return r, true
}

// RecordedSlugs returns, in file order, every slug that has a persisted
// record, derived from the LAST_SYNC keys.
func RecordedSlugs(s *Store) []string {
	var slugs []string
	for _, key := range s.Keys() {
		if !strings.HasPrefix(key, "REPO_") || !strings.HasSuffix(key, "_"+suffixLastSync) {
			continue
		}
		slug := strings.TrimSuffix(strings.TrimPrefix(key, "REPO_"), "_"+suffixLastSync)
		if slug != "" {
			slugs = append(slugs, strings.ToLower(slug))
		}
	}
	return slugs
}

// NormalizeURL prepares a URL for storage or comparison in the repository
// list: surrounding whitespace and any trailing slash are removed.
func NormalizeURL(rawURL string) string {
	return strings.TrimRight(strings.TrimSpace(rawURL), "/")
}

// EnsureListed adds url to the repository list if no normalized-equal entry
// is present, reporting whether the list changed. The list is rewritten in
// the canonical one-per-line form.
func EnsureListed(s *Store, url string) bool {
	raw, _ := s.Get(KeyRepoList)
	items := SplitList(raw)

	existing := make(map[string]struct{}, len(items))
	for _, u := range items {
		existing[NormalizeURL(u)] = struct{}{}
	}

	norm := NormalizeURL(url)
	if _, ok := existing[norm]; ok {
		// Still canonicalize legacy comma-separated lists on rewrite.
		if joined := JoinList(items); joined != raw {
			s.Set(KeyRepoList, joined)
			return false
		}
		return false
	}

	items = append(items, norm)
	s.Set(KeyRepoList, JoinList(items))
	return true
}

var metadataSuffixes = []string{
	suffixDefaultBranch, suffixLastSync, suffixLastStatus, suffixLastCommit, suffixActiveBranch,
}

// MigrateLegacyKeys removes obsolete bare REPO_<SLUG>=<url> entries left by
// old releases, which stored one URL per key instead of using REPO_LIST.
// Metadata keys and REPO_LIST itself are untouched. Idempotent.
func MigrateLegacyKeys(s *Store) {
	for _, key := range s.Keys() {
		if !strings.HasPrefix(key, "REPO_") || key == KeyRepoList {
			continue
		}
		legacy := true
		for _, suffix := range metadataSuffixes {
			if strings.HasSuffix(key, "_"+suffix) {
				legacy = false
				break
			}
		}
		if legacy {
			s.Delete(key)
		}
	}
}
