package org

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/opsgate-labs/backoffice-core/platform/go/persistence"
)

// Command groups organization helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Organization helpers (dev seeding)",
	}

	cmd.AddCommand(createCommand())
	return cmd
}

// createCommand seeds an organization with its initial owner. Sign-up flows
// live upstream of this service; in dev the CLI stands in for them.
func createCommand() *cobra.Command {
	var (
		databaseURL string
		name        string
		ownerID     string
		ownerEmail  string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Create an organization with its initial owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("name is required")
			}

			owner := uuid.New()
			if ownerID != "" {
				parsed, err := uuid.Parse(ownerID)
				if err != nil {
					return fmt.Errorf("invalid owner-id uuid: %w", err)
				}
				owner = parsed
			}

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			db := persistence.NewDB(pool)
			store, err := persistence.NewOrganizationStore(pool, db)
			if err != nil {
				return fmt.Errorf("init organization store: %w", err)
			}

			rec, err := store.CreateWithOwner(ctx, persistence.OrganizationRecord{
				OrganizationID: uuid.New(),
				Name:           strings.TrimSpace(name),
				CreatedAt:      time.Now().UTC(),
			}, owner, ownerEmail)
			if err != nil {
				return fmt.Errorf("create organization: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Organization %q created: %s | owner: %s (%s)\n", rec.Name, rec.OrganizationID, owner, ownerEmail)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	c.Flags().StringVar(&name, "name", "", "organization name")
	c.Flags().StringVar(&ownerID, "owner-id", "", "owner user id (uuid; random when omitted)")
	c.Flags().StringVar(&ownerEmail, "owner-email", "", "owner email")

	_ = c.MarkFlagRequired("database-url")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("owner-email")

	return c
}
