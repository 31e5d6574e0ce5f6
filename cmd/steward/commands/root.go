package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	region     string
	profile    string
	endpoint   string
	verbose    bool
	jsonOutput bool
	dbPath     string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "steward",
		Short: "Steward - Serverless Policy Function Reconciler",
		Long: `Steward deploys declarative cloud policies as serverless functions and
keeps them converged against their declarations.

Each policy in a policy file becomes one function, one published alias,
and one event rule routing matching cloud events into it. Deploys are
idempotent: re-running against converged infrastructure issues reads
only.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&region, "region", "", "AWS region (defaults to shared config)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "AWS shared config profile")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "service endpoint override (LocalStack and friends)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "deployment history database path (empty disables history)")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newRemoveCommand())
	rootCmd.AddCommand(newPauseCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
