package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ramongranda/bitbucket-env-sync/internal/envfile"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List repositories visible via the Bitbucket API",
	Long:  `Fetch and print the full repository listing for the configured workspace or project.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		guard := envfile.NewGuard(envFilePath())

		cfg, err := loadSettings(ctx, guard)
		if err != nil {
			return err
		}

		repos, err := listAPIRepositories(ctx, cfg)
		if err != nil {
			return err
		}

		for _, r := range repos {
			fmt.Printf("%s\t%s\n", r.Slug, r.URL)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reposCmd)
}
