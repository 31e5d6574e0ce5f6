package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/pkg/deploy"
)

func newStatusCommand() *cobra.Command {
	var (
		prefix  string
		history int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show deployed policy functions",
		Long: `List the policy functions currently deployed, with their runtime and
code identity. With --db set, recent deployment history from the local
store is shown as well.`,
		Example: `  # List deployed functions
  steward status

  # Include recent deployment history
  steward status --db ~/.steward/history.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			functions, err := s.reconciler.List(ctx, prefix)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(functions)
			}

			if len(functions) == 0 {
				fmt.Println("No policy functions deployed.")
			}
			for _, fn := range functions {
				fmt.Printf("%s  runtime=%s sha256=%s modified=%s\n",
					aws.ToString(fn.FunctionName),
					fn.Runtime,
					aws.ToString(fn.CodeSha256),
					aws.ToString(fn.LastModified))
			}

			if s.store == nil {
				return nil
			}

			deployments, err := s.store.ListDeployments(ctx, history, 0)
			if err != nil {
				return err
			}
			if len(deployments) == 0 {
				return nil
			}

			fmt.Println("\nRecent deployments:")
			for _, d := range deployments {
				fmt.Printf("%s  %s  policies=%d changed=%d failed=%d  %s\n",
					d.StartedAt.Format("2006-01-02 15:04:05"),
					d.Status, d.Policies, d.Changed, d.Failed, d.Source)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", deploy.FunctionPrefix, "function name prefix to list")
	cmd.Flags().IntVar(&history, "history", 10, "number of recent deployments to show (with --db)")

	return cmd
}
