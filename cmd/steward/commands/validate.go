package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [policy-file]",
		Short: "Validate a policy file",
		Long: `Validate a policy file without touching remote infrastructure.

Checks the document against the policy schema, verifies each mode
declaration, and rejects duplicate policy names.`,
		Example: `  # Validate a policy file
  steward validate policies.yml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := policy.NewLoader(log.Logger)
			if err != nil {
				return err
			}

			policies, err := loader.Load(args[0])
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(policies)
			}

			fmt.Printf("✓ %s is valid (%d policies)\n", args[0], len(policies))
			for _, d := range policies {
				fmt.Printf("  %s  mode=%s resource=%s\n", d.Name, d.Mode.Type, d.Resource)
			}
			return nil
		},
	}
}
