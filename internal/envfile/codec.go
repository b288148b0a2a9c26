// Package envfile implements the backing-file engine: a line-oriented
// KEY=VALUE codec, an ordered in-memory store, and a cross-process guard
// that serializes atomic read-modify-write cycles against the file.
package envfile

import (
	"fmt"
	"regexp"
	"strings"
)

// keyValuePattern matches lines that start a new entry. Anything else is
// either a comment, a blank line, or a continuation of the repository list.
var keyValuePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*=`)

// headerComment is written at the top of every serialized file, matching the
// format the tool has always produced.
var headerComment = []string{
	"# Bitbucket Sync .env",
	"# Fill required values. INSECURE=true by default.",
	"",
}

// FormatError reports structurally unrecoverable input. Unknown keys are not
// an error; they are preserved verbatim for forward compatibility.
type FormatError struct {
	Line int
	Text string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("envfile: line %d: expected KEY=VALUE, got %q", e.Line, e.Text)
}

// Parse decodes the backing file into an ordered Store.
//
// Comment and blank lines are skipped. A line that does not look like
// KEY=VALUE is folded into the preceding RepoList value as a continuation
// line; anywhere else it is a FormatError.
func Parse(data []byte) (*Store, error) {
	st := NewStore()

	lastKey := ""
	for i, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if !keyValuePattern.MatchString(trimmed) {
			// Continuation lines belong to the multi-line repository list.
			if lastKey != KeyRepoList {
				return nil, &FormatError{Line: i + 1, Text: trimmed}
			}
			prev, _ := st.Get(KeyRepoList)
			if prev == "" {
				st.setLoaded(KeyRepoList, trimmed)
			} else {
				st.setLoaded(KeyRepoList, prev+"\n"+trimmed)
			}
			continue
		}

		key, value, _ := strings.Cut(trimmed, "=")
		key = strings.TrimSpace(key)
		st.setLoaded(key, strings.TrimSpace(value))
		lastKey = key
	}

	return st, nil
}

// Serialize encodes the store back to the on-disk form. Entry order is
// preserved so rewrites stay diff-friendly. The repository list is written
// with continuation lines, one URL per line.
func (s *Store) Serialize() []byte {
	var b strings.Builder

	for _, line := range headerComment {
		b.WriteString(line)
		b.WriteString("\n")
	}

	for _, e := range s.entries {
		if e.Key == KeyRepoList && strings.Contains(e.Value, "\n") {
			lines := strings.Split(e.Value, "\n")
			b.WriteString(e.Key)
			b.WriteString("=")
			b.WriteString(lines[0])
			b.WriteString("\n")
			for _, cont := range lines[1:] {
				b.WriteString(cont)
				b.WriteString("\n")
			}
			continue
		}

		b.WriteString(e.Key)
		b.WriteString("=")
		b.WriteString(e.Value)
		b.WriteString("\n")
	}

	return []byte(b.String())
}

// SplitList parses a repository list value. Entries may be separated by
// newlines (the written form) or commas (the legacy form); both are accepted
// and may be mixed. Empty items are dropped.
func SplitList(value string) []string {
	if value == "" {
		return nil
	}

	var items []string
	for _, line := range strings.Split(value, "\n") {
		for _, part := range strings.Split(line, ",") {
			if p := strings.TrimSpace(part); p != "" {
				items = append(items, p)
			}
		}
	}

	return items
}

// JoinList renders a repository list in the canonical written form, one
// entry per line.
func JoinList(items []string) string {
	return strings.Join(items, "\n")
}
