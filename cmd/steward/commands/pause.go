package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause [policy-file]",
		Short: "Pause event delivery for deployed policies",
		Long: `Disable the event rules feeding the functions deployed from the
policy file. The functions, their code, and their configuration stay in
place; only event delivery stops. Resume with "steward resume".`,
		Example: `  # Stop event delivery without removing anything
  steward pause policies.yml`,
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
				if err := s.reconciler.Pause(ctx, spec); err != nil {
					failed++
					fmt.Printf("✗ %s: %v\n", spec.Name(), err)
					continue
				}
				fmt.Printf("⏸ %s paused\n", spec.Name())
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d functions failed to pause", failed, len(specs))
			}
			return nil
		},
	}
}
