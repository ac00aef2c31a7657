package bootstrap

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opsgate-labs/backoffice-core/platform/go/persistence"
)

// Command applies the embedded core schema. Statements are CREATE IF NOT
// EXISTS throughout, so re-running against an initialized database is a no-op.
func Command() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Apply the core schema to the target database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.Bootstrap(ctx, pool); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Schema applied.")
			return nil
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	_ = cmd.MarkFlagRequired("database-url")

	return cmd
}
