package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ramongranda/bitbucket-env-sync/internal/cli"
	"github.com/ramongranda/bitbucket-env-sync/internal/envfile"
	"github.com/ramongranda/bitbucket-env-sync/internal/git"
	"github.com/ramongranda/bitbucket-env-sync/internal/reconcile"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Clone or update all tracked repositories",
	Long: `Reconcile every repository from REPO_LIST (or the full workspace/project
listing when REPO_LIST is empty) against the local base directory: missing
working copies are cloned, existing ones are fast-forwarded to the upstream
default branch. Sync metadata is written back to the .env file after each
successful repository; a failed repository keeps its previous metadata and
never aborts the batch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		guard := envfile.NewGuard(envFilePath())

		cfg, err := loadSettings(ctx, guard)
		if err != nil {
			return err
		}

		gitClient := git.NewClient(git.Options{Insecure: cfg.Insecure, CABundle: cfg.GitCA})

		engine := &reconcile.Engine{
			Settings:   cfg,
			Guard:      guard,
			VCS:        gitClient,
			Lister:     apiLister{cfg: cfg},
			Committer:  gitClient,
			Logger:     slog.Default(),
			HasWorkdir: git.IsWorkingCopy,
		}

		summary, err := engine.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Print(cli.RenderSummary(summary))

		// Individual repository failures are summarized, not fatal.
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
