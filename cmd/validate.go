package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ramongranda/bitbucket-env-sync/internal/envfile"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the backing file configuration",
	Long: `Load the backing file, apply defaults, and validate the required keys
without touching any repository. Exits non-zero listing every missing key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		guard := envfile.NewGuard(envFilePath())

		if _, err := loadSettings(cmd.Context(), guard); err != nil {
			return err
		}

		fmt.Println("Environment OK. Ready to run sync.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
