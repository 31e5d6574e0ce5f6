package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/pkg/deploy"
	"github.com/stewardhq/steward/pkg/stores"
	"github.com/stewardhq/steward/pkg/telemetry"
	"github.com/stewardhq/steward/pkg/uploader"
)

func newDeployCommand() *cobra.Command {
	var (
		runtimeRoot string
		s3URI       string
		alias       string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "deploy [policy-file]",
		Short: "Deploy policy functions",
		Long: `Deploy every policy in the file as a serverless function.

This command:
  - Builds one content-addressed bundle per policy
  - Creates or updates the function, diffing code and configuration
    independently
  - Publishes the alias event rules target
  - Converges the event rule and its delivery target

Re-running against converged infrastructure issues reads only.`,
		Example: `  # Deploy all policies in a file
  steward deploy policies.yml --runtime-root ./dist

  # Stage bundles in S3 instead of inline upload
  steward deploy policies.yml --runtime-root ./dist --s3-uri s3://bundles/steward

  # Record deployment history
  steward deploy policies.yml --runtime-root ./dist --db ~/.steward/history.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			specs, err := loadSpecs(s.tel.Logger.Zerolog(), args[0], runtimeRoot)
			if err != nil {
				return err
			}

			opts := deploy.ReconcileOptions{Alias: alias}
			if s3URI != "" {
				up, err := uploader.New(s.clients.S3, s3URI, s.tel.Logger.Zerolog())
				if err != nil {
					return err
				}
				opts.Uploader = up
			}

			deploymentID := uuid.NewString()
			ctx = s.tel.WithContext(ctx)
			ctx = telemetry.WithDeploymentContext(ctx, deploymentID, args[0], "cli")
			timer := telemetry.NewTimer()

			if s.store != nil {
				if err := s.store.CreateDeployment(ctx, newDeploymentRecord(deploymentID, args[0], len(specs))); err != nil {
					return err
				}
			}

			results := s.reconciler.DeployAll(ctx, specs, opts, concurrency)

			changed, failed := 0, 0
			for _, res := range results {
				if res.Err != nil {
					failed++
				} else if res.Record.Changed() {
					changed++
				}
			}
			status := deploymentStatus(len(results), failed)
			telemetry.EndDeploymentContext(ctx, string(status), timer, firstError(results))

			if s.store != nil {
				recordHistory(ctx, s.store, deploymentID, status, changed, failed, results)
			}

			if err := printResults(results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d policies failed to deploy", failed, len(results))
			}
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

func newDeploymentRecord(id, source string, policies int) *stores.Deployment {
	now := time.Now().UTC()
	return &stores.Deployment{
		ID:        id,
		Source:    source,
		Status:    stores.DeploymentStatusRunning,
		Policies:  policies,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func deploymentStatus(total, failed int) stores.DeploymentStatus {
	switch {
	case failed == 0:
		return stores.DeploymentStatusCompleted
	case failed == total:
		return stores.DeploymentStatusFailed
	default:
		return stores.DeploymentStatusPartial
	}
}

func firstError(results []deploy.Result) error {
	for _, res := range results {
		if res.Err != nil {
			return res.Err
		}
	}
	return nil
}

func revisionAction(res deploy.Result) stores.RevisionAction {
	switch {
	case res.Err != nil:
		return stores.RevisionActionFailed
	case res.Record.Created:
		return stores.RevisionActionCreated
	case res.Record.Changed():
		return stores.RevisionActionUpdated
	default:
		return stores.RevisionActionUnchanged
	}
}

func recordHistory(ctx context.Context, store stores.Store, deploymentID string, status stores.DeploymentStatus, changed, failed int, results []deploy.Result) {
	for _, res := range results {
		rev := &stores.FunctionRevision{
			ID:           uuid.NewString(),
			DeploymentID: deploymentID,
			Policy:       res.Policy,
			Action:       revisionAction(res),
			CodeSha256:   res.Record.CodeSha256,
			Version:      res.Record.Version,
			AliasArn:     res.Record.AliasArn,
			CreatedAt:    time.Now().UTC(),
		}
		if res.Err != nil {
			msg := res.Err.Error()
			rev.Error = &msg
		}
		if err := store.RecordRevision(ctx, rev); err != nil {
			log.Warn().Err(err).Str("policy", res.Policy).Msg("Recording revision failed")
		}
	}
	if err := store.CompleteDeployment(ctx, deploymentID, status, changed, failed); err != nil {
		log.Warn().Err(err).Msg("Completing deployment record failed")
	}
}

func printResults(results []deploy.Result) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for _, res := range results {
		switch {
		case res.Err != nil:
			fmt.Printf("✗ %s: %v\n", res.Policy, res.Err)
		case res.Record.Created:
			fmt.Printf("+ %s created (version %s)\n", res.Policy, res.Record.Version)
		case res.Record.Changed():
			fmt.Printf("~ %s updated (code=%v config=%v rules=%v)\n",
				res.Policy, res.Record.CodeChanged, res.Record.ConfigChanged, res.Record.RulesChanged)
		default:
			fmt.Printf("= %s unchanged\n", res.Policy)
		}
	}
	return nil
}
