package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const OrganizationsTable = "organizations"

// OrganizationRecord represents a row in the organizations table.
type OrganizationRecord struct {
	OrganizationID               uuid.UUID  `db:"organization_id"`
	Name                         string     `db:"name"`
	CreatedAt                    time.Time  `db:"created_at"`
	DeletedAt                    *time.Time `db:"deleted_at"`
	DeletedBy                    *uuid.UUID `db:"deleted_by"`
	DeletionReason               *string    `db:"deletion_reason"`
	PermanentDeletionScheduledAt *time.Time `db:"permanent_deletion_scheduled_at"`
}

// OrganizationStore provides access to the organizations table.
type OrganizationStore struct {
	pool *pgxpool.Pool
	db   *DB
}

// NewOrganizationStore creates a store; assumes migrations already created the table.
func NewOrganizationStore(pool *pgxpool.Pool, db *DB) (*OrganizationStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &OrganizationStore{pool: pool, db: db}, nil
}

// CreateWithOwner inserts an organization together with its owner membership in
// one transaction. The single-owner invariant holds from the first commit.
func (s *OrganizationStore) CreateWithOwner(ctx context.Context, rec OrganizationRecord, ownerID uuid.UUID, ownerEmail string) (OrganizationRecord, error) {
	if rec.OrganizationID == uuid.Nil {
		return OrganizationRecord{}, errors.New("organization id is required")
	}
	if ownerID == uuid.Nil {
		return OrganizationRecord{}, errors.New("owner id is required")
	}

	var out OrganizationRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, fmt.Sprintf(`
            INSERT INTO %s (organization_id, name)
            VALUES ($1, $2)
            RETURNING organization_id, name, created_at, deleted_at, deleted_by, deletion_reason, permanent_deletion_scheduled_at
        `, OrganizationsTable), rec.OrganizationID, strings.TrimSpace(rec.Name))

		var scanErr error
		out, scanErr = scanOrganization(row)
		if scanErr != nil {
			return scanErr
		}

		_, err := tx.Exec(ctx, fmt.Sprintf(`
            INSERT INTO %s (organization_id, user_id, role, email)
            VALUES ($1, $2, $3, $4)
        `, MembershipsTable), rec.OrganizationID, ownerID, string(RoleOwner), strings.ToLower(strings.TrimSpace(ownerEmail)))
		if err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return OrganizationRecord{}, err
	}
	return out, nil
}

// Get returns the organization visible to the caller. Callers without a
// membership get ErrNotFound rather than a hint the organization exists.
func (s *OrganizationStore) Get(ctx context.Context, orgID, callerID uuid.UUID) (OrganizationRecord, error) {
	var out OrganizationRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := RequireRoleTx(ctx, tx, orgID, callerID, RoleOwner, RoleAdmin, RoleManager, RoleMember); err != nil {
			return err
		}
		var scanErr error
		out, scanErr = getOrganizationTx(ctx, tx, orgID)
		return scanErr
	})
	if err != nil {
		return OrganizationRecord{}, err
	}
	return out, nil
}

// SoftDelete marks the organization deleted and schedules permanent deletion.
// Pending ownership transfers and invitations are cancelled in the same
// transaction so nothing lingers in pending against a deleted organization.
func (s *OrganizationStore) SoftDelete(ctx context.Context, orgID, callerID uuid.UUID, reason *string, now, scheduledAt time.Time) (OrganizationRecord, error) {
	var out OrganizationRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := RequireRoleTx(ctx, tx, orgID, callerID, RoleOwner); err != nil {
			return err
		}

		current, err := getOrganizationTx(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if current.DeletedAt != nil {
			return ErrAlreadyDeleted
		}

		row := tx.QueryRow(ctx, fmt.Sprintf(`
            UPDATE %s
            SET deleted_at = $2, deleted_by = $3, deletion_reason = $4, permanent_deletion_scheduled_at = $5
            WHERE organization_id = $1
            RETURNING organization_id, name, created_at, deleted_at, deleted_by, deletion_reason, permanent_deletion_scheduled_at
        `, OrganizationsTable), orgID, now, callerID, reason, scheduledAt)

		out, err = scanOrganization(row)
		if err != nil {
			return err
		}

		if err := cancelPendingTransfersTx(ctx, tx, orgID, now); err != nil {
			return err
		}
		return cancelPendingInvitationsTx(ctx, tx, orgID, now)
	})
	if err != nil {
		return OrganizationRecord{}, err
	}
	return out, nil
}

// Restore clears the soft-delete fields while the grace period is still open.
func (s *OrganizationStore) Restore(ctx context.Context, orgID, callerID uuid.UUID, now time.Time) (OrganizationRecord, error) {
	var out OrganizationRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := RequireRoleTx(ctx, tx, orgID, callerID, RoleOwner); err != nil {
			return err
		}

		current, err := getOrganizationTx(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if current.DeletedAt == nil {
			return ErrNotDeleted
		}
		if current.PermanentDeletionScheduledAt != nil && !current.PermanentDeletionScheduledAt.After(now) {
			return ErrGraceElapsed
		}

		row := tx.QueryRow(ctx, fmt.Sprintf(`
            UPDATE %s
            SET deleted_at = NULL, deleted_by = NULL, deletion_reason = NULL, permanent_deletion_scheduled_at = NULL
            WHERE organization_id = $1
            RETURNING organization_id, name, created_at, deleted_at, deleted_by, deletion_reason, permanent_deletion_scheduled_at
        `, OrganizationsTable), orgID)

		out, err = scanOrganization(row)
		return err
	})
	if err != nil {
		return OrganizationRecord{}, err
	}
	return out, nil
}

// ForceDelete removes the organization immediately. Memberships, invitations
// and transfers go with it through the FK cascades. The caller's live owner
// role and the typed confirmation are both verified in the deleting transaction.
func (s *OrganizationStore) ForceDelete(ctx context.Context, orgID, callerID uuid.UUID, confirmName string) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := RequireRoleTx(ctx, tx, orgID, callerID, RoleOwner); err != nil {
			return err
		}
		current, err := getOrganizationTx(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if current.Name != confirmName {
			return ErrConfirmationMismatch
		}
		tag, err := tx.Exec(ctx, fmt.Sprintf(`
            DELETE FROM %s WHERE organization_id = $1
        `, OrganizationsTable), orgID)
		if err != nil {
			return fmt.Errorf("delete organization: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteDue removes every organization whose permanent deletion is due. It is
// idempotent and safe to run from any number of sweepers concurrently.
func (s *OrganizationStore) DeleteDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
        DELETE FROM %s
        WHERE deleted_at IS NOT NULL AND permanent_deletion_scheduled_at <= $1
        RETURNING organization_id
    `, OrganizationsTable), now)
	if err != nil {
		return nil, fmt.Errorf("delete due organizations: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted organization id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func getOrganizationTx(ctx context.Context, tx pgx.Tx, orgID uuid.UUID) (OrganizationRecord, error) {
	row := tx.QueryRow(ctx, fmt.Sprintf(`
        SELECT organization_id, name, created_at, deleted_at, deleted_by, deletion_reason, permanent_deletion_scheduled_at
        FROM %s WHERE organization_id = $1 FOR UPDATE
    `, OrganizationsTable), orgID)

	rec, err := scanOrganization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return OrganizationRecord{}, ErrNotFound
	}
	return rec, err
}

func scanOrganization(row pgx.Row) (OrganizationRecord, error) {
	var rec OrganizationRecord
	if err := row.Scan(
		&rec.OrganizationID,
		&rec.Name,
		&rec.CreatedAt,
		&rec.DeletedAt,
		&rec.DeletedBy,
		&rec.DeletionReason,
		&rec.PermanentDeletionScheduledAt,
	); err != nil {
		return OrganizationRecord{}, err
	}
	return rec, nil
}
