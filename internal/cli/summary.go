// Package cli renders terminal output for the sync commands.
package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ramongranda/bitbucket-env-sync/internal/envfile"
	"github.com/ramongranda/bitbucket-env-sync/internal/reconcile"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	syncedBadge = lipgloss.NewStyle().
			Background(lipgloss.Color("42")).
			Foreground(lipgloss.Color("0")).
			Padding(0, 1)

	failedBadge = lipgloss.NewStyle().
			Background(lipgloss.Color("196")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// RenderSummary formats the end-of-run report: synced repositories first,
// then failures with their errors.
func RenderSummary(s *reconcile.Summary) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Sync summary"))
	b.WriteString("\n")

	if len(s.Results) == 0 {
		b.WriteString(dimStyle.Render("no repositories to sync"))
		b.WriteString("\n")
		return b.String()
	}

	for _, r := range s.Synced() {
		b.WriteString(fmt.Sprintf("%s %s %s\n",
			syncedBadge.Render(string(r.Status)),
			r.Slug,
			dimStyle.Render(fmt.Sprintf("%s @ %s", r.Commit, r.ActiveBranch))))
	}

	for _, r := range s.Failed() {
		b.WriteString(fmt.Sprintf("%s %s %s\n",
			failedBadge.Render("failed"),
			r.Slug,
			dimStyle.Render(r.Err.Error())))
	}

	b.WriteString(dimStyle.Render(fmt.Sprintf("%d synced, %d failed", len(s.Synced()), len(s.Failed()))))
	b.WriteString("\n")

	return b.String()
}

// RenderStatus formats the per-repository metadata currently recorded in
// the backing file.
func RenderStatus(st *envfile.Store) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Recorded repositories"))
	b.WriteString("\n")

	slugs := envfile.RecordedSlugs(st)
	if len(slugs) == 0 {
		b.WriteString(dimStyle.Render("no sync metadata recorded yet"))
		b.WriteString("\n")
		return b.String()
	}

	for _, slug := range slugs {
		record, ok := envfile.LoadRecord(st, slug)
		if !ok {
			continue
		}
		badge := syncedBadge
		if record.LastStatus == "" {
			badge = failedBadge
		}
		b.WriteString(fmt.Sprintf("%s %s %s\n",
			badge.Render(record.LastStatus),
			slug,
			dimStyle.Render(fmt.Sprintf("%s @ %s, synced %s",
				record.LastCommit, record.ActiveBranch, record.LastSync.Format(envfile.TimeLayout)))))
	}

	return b.String()
}
