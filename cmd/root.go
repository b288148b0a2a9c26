// Package cmd wires the cobra command surface.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ramongranda/bitbucket-env-sync/internal/application"
	"github.com/ramongranda/bitbucket-env-sync/internal/envfile"
)

var (
	envFileFlag string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:     application.AppName,
	Version: application.Version,
	Short:   "Sync Bitbucket repositories and track state in a .env file",
	Long: `bbsync clones or updates the repositories of a Bitbucket Cloud workspace
or Server/DC project. Configuration and per-repository sync metadata live in a
single .env backing file that is rewritten atomically under a file lock, so
concurrent invocations never corrupt it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verboseFlag {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the CLI. Validation failures list every missing key before
// the process exits non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var missing *envfile.MissingFieldsError
		if errors.As(err, &missing) {
			fmt.Fprintln(os.Stderr, "Missing required .env values:")
			for _, key := range missing.Missing {
				fmt.Fprintf(os.Stderr, "  %s\n", key)
			}
			fmt.Fprintln(os.Stderr, "Please fill them in and re-run.")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// envFilePath resolves the backing file path for this invocation.
func envFilePath() string {
	if envFileFlag != "" {
		return envFileFlag
	}
	return application.EnvFileName
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", "", "Path to the backing .env file (default ./"+application.EnvFileName+")")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
}
