package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/opsgate-labs/backoffice-core/database"
)

// Bootstrap applies the embedded DDL for all core tables. Statements are
// idempotent (CREATE ... IF NOT EXISTS) and run in a single transaction.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin bootstrap tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Organizations first; the other tables reference it.
	assets := []string{
		sqlassets.OrganizationsSQL,
		sqlassets.MembershipsSQL,
		sqlassets.OwnershipTransfersSQL,
		sqlassets.InvitationsSQL,
	}
	for _, ddl := range assets {
		// pgx runs one statement per Exec; the assets hold several each.
		for _, raw := range strings.Split(ddl, ";") {
			stmt := strings.TrimSpace(raw)
			if stmt == "" {
				continue
			}
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply ddl: %w", err)
			}
		}
	}

	return tx.Commit(ctx)
}
