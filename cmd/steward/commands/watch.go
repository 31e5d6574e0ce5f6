package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/pkg/deploy"
	"github.com/stewardhq/steward/pkg/policy"
	"github.com/stewardhq/steward/pkg/telemetry"
	"github.com/stewardhq/steward/pkg/uploader"
)

func newWatchCommand() *cobra.Command {
	var (
		runtimeRoot string
		s3URI       string
		alias       string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "watch [policy-file]",
		Short: "Deploy and keep redeploying on policy file changes",
		Long: `Deploy the policy file, then watch it and redeploy on every change.

A bad edit does not kill the watch: load and validation failures are
logged and the previous deployment stays in place. Runs until
interrupted.`,
		Example: `  # Continuously converge a policy file under active editing
  steward watch policies.yml --runtime-root ./dist`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			logger := s.tel.Logger.Zerolog()

			opts := deploy.ReconcileOptions{Alias: alias}
			if s3URI != "" {
				up, err := uploader.New(s.clients.S3, s3URI, logger)
				if err != nil {
					return err
				}
				opts.Uploader = up
			}

			redeploy := func(trigger string, policies []policy.Description) error {
				specs, err := buildSpecs(policies, runtimeRoot)
				if err != nil {
					return err
				}

				deploymentID := uuid.NewString()
				dctx := s.tel.WithContext(ctx)
				dctx = telemetry.WithDeploymentContext(dctx, deploymentID, args[0], trigger)
				timer := telemetry.NewTimer()

				if s.store != nil {
					if err := s.store.CreateDeployment(dctx, newDeploymentRecord(deploymentID, args[0], len(specs))); err != nil {
						return err
					}
				}

				results := s.reconciler.DeployAll(dctx, specs, opts, concurrency)

				changed, failed := 0, 0
				for _, res := range results {
					if res.Err != nil {
						failed++
					} else if res.Record.Changed() {
						changed++
					}
				}
				status := deploymentStatus(len(results), failed)
				telemetry.EndDeploymentContext(dctx, string(status), timer, firstError(results))

				if s.store != nil {
					recordHistory(dctx, s.store, deploymentID, status, changed, failed, results)
				}

				logger.Info().
					Str("deployment_id", deploymentID).
					Str("trigger", trigger).
					Int("policies", len(results)).
					Int("changed", changed).
					Int("failed", failed).
					Msg("Deployment pass finished")
				return firstError(results)
			}

			loader, err := policy.NewLoader(logger)
			if err != nil {
				return err
			}

			policies, err := loader.Load(args[0])
			if err != nil {
				return err
			}
			if err := redeploy("cli", policies); err != nil {
				logger.Error().Err(err).Msg("Initial deployment had failures")
			}

			if err := loader.Watch(ctx, args[0], func(policies []policy.Description) error {
				return redeploy("watch", policies)
			}); err != nil {
				return err
			}
			defer func() { _ = loader.StopWatching() }()

			fmt.Printf("Watching %s, press Ctrl+C to stop\n", args[0])
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&runtimeRoot, "runtime-root", "", "directory holding the compiled policy runtime to bundle")
	cmd.Flags().StringVar(&s3URI, "s3-uri", "", "stage bundles under this s3://bucket/prefix instead of inline upload")
	cmd.Flags().StringVar(&alias, "alias", deploy.DefaultAlias, "published alias name")
	cmd.Flags().IntVar(&concurrency, "concurrency", deploy.DefaultConcurrency, "max policies reconciling at once")
	_ = cmd.MarkFlagRequired("runtime-root")

	return cmd
}
