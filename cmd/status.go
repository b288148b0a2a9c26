package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ramongranda/bitbucket-env-sync/internal/cli"
	"github.com/ramongranda/bitbucket-env-sync/internal/envfile"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded sync metadata",
	Long:  `Display the per-repository sync metadata currently recorded in the backing file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		guard := envfile.NewGuard(envFilePath())

		st, err := guard.Load(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Print(cli.RenderStatus(st))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
