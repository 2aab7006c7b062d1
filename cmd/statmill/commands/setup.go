package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSetupCommand creates the setup command: collections and indexes.
func NewSetupCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the collections and indexes the pipeline requires",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			db, err := env.openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close(ctx) //nolint:errcheck

			if err := db.Setup(ctx); err != nil {
				return fmt.Errorf("setup failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "backend %s ready\n", db.Driver())

			return nil
		},
	}

	return cmd
}
