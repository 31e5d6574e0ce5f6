package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [policy-file]",
		Short: "Resume event delivery for paused policies",
		Long: `Re-enable the event rules feeding the functions deployed from the
policy file. The inverse of "steward pause". Resuming a rule that is
already enabled is not an error.`,
		Example: `  # Restore event delivery after a pause
  steward resume policies.yml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := newSession(ctx)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			specs, err := loadSpecs(s.tel.Logger.Zerolog(), args[0], "")
			if err != nil {
				return err
			}

			failed := 0
			for _, spec := range specs {
				if err := s.reconciler.Resume(ctx, spec); err != nil {
					failed++
					fmt.Printf("✗ %s: %v\n", spec.Name(), err)
					continue
				}
				fmt.Printf("▶ %s resumed\n", spec.Name())
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d functions failed to resume", failed, len(specs))
			}
			return nil
		},
	}
}
