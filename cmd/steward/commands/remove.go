package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [policy-file]",
		Short: "Remove deployed policy functions",
		Long: `Remove every function deployed from the policy file.

Event rules and their targets are torn down before the function so no
rule is ever left pointing at a deleted function. Removing a policy
that was never deployed is not an error.`,
		Example: `  # Remove all functions deployed from a file
  steward remove policies.yml`,
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
				if err := s.reconciler.Remove(ctx, spec); err != nil {
					failed++
					fmt.Printf("✗ %s: %v\n", spec.Name(), err)
					continue
				}
				fmt.Printf("- %s removed\n", spec.Name())
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d functions failed to remove", failed, len(specs))
			}
			return nil
		},
	}
}
