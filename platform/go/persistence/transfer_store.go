package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const OwnershipTransfersTable = "ownership_transfers"

// Transfer statuses as stored. Expiry is additionally derived from expires_at
// at read time; the stored value only catches up via the sweeper.
const (
	TransferPending   = "pending"
	TransferAccepted  = "accepted"
	TransferCancelled = "cancelled"
	TransferExpired   = "expired"
)

// TransferRecord represents a row in the ownership_transfers table. Rows are
// never physically deleted; resolved transfers stay as an audit trail.
type TransferRecord struct {
	TransferID     uuid.UUID  `db:"transfer_id"`
	OrganizationID uuid.UUID  `db:"organization_id"`
	FromUserID     uuid.UUID  `db:"from_user_id"`
	ToUserID       uuid.UUID  `db:"to_user_id"`
	Reason         *string    `db:"reason"`
	Status         string     `db:"status"`
	CreatedAt      time.Time  `db:"created_at"`
	ExpiresAt      time.Time  `db:"expires_at"`
	ResolvedAt     *time.Time `db:"resolved_at"`
}

// TransferStore provides access to the ownership_transfers table.
type TransferStore struct {
	pool *pgxpool.Pool
	db   *DB
}

// NewTransferStore creates a store; assumes migrations already created the table.
func NewTransferStore(pool *pgxpool.Pool, db *DB) (*TransferStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &TransferStore{pool: pool, db: db}, nil
}

// Initiate inserts a pending transfer after re-validating, inside one
// transaction: the organization is active, the caller is the live owner, the
// recipient is a non-owner member, and no other transfer is pending. The
// partial unique index backs the pending check against insert races.
func (s *TransferStore) Initiate(ctx context.Context, rec TransferRecord, callerID uuid.UUID) (TransferRecord, error) {
	if rec.TransferID == uuid.Nil {
		return TransferRecord{}, errors.New("transfer id is required")
	}

	var out TransferRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := RequireActiveOrganizationTx(ctx, tx, rec.OrganizationID); err != nil {
			return err
		}
		if _, err := RequireRoleTx(ctx, tx, rec.OrganizationID, callerID, RoleOwner); err != nil {
			return err
		}

		// An unknown recipient reads the same as an unknown organization, so
		// roleOfTx's ErrNotFound passes through unchanged.
		recipientRole, err := roleOfTx(ctx, tx, rec.OrganizationID, rec.ToUserID)
		if err != nil {
			return err
		}
		if recipientRole == RoleOwner {
			return ErrInvalidState
		}

		var pendingExists bool
		err = tx.QueryRow(ctx, fmt.Sprintf(`
            SELECT EXISTS (SELECT 1 FROM %s WHERE organization_id = $1 AND status = $2)
        `, OwnershipTransfersTable), rec.OrganizationID, TransferPending).Scan(&pendingExists)
		if err != nil {
			return fmt.Errorf("check pending transfer: %w", err)
		}
		if pendingExists {
			return ErrTransferPending
		}

		row := tx.QueryRow(ctx, fmt.Sprintf(`
            INSERT INTO %s (transfer_id, organization_id, from_user_id, to_user_id, reason, status, created_at, expires_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
            RETURNING transfer_id, organization_id, from_user_id, to_user_id, reason, status, created_at, expires_at, resolved_at
        `, OwnershipTransfersTable),
			rec.TransferID, rec.OrganizationID, callerID, rec.ToUserID, rec.Reason,
			TransferPending, rec.CreatedAt, rec.ExpiresAt,
		)

		out, err = scanTransfer(row)
		if isUniqueViolation(err) {
			return ErrTransferPending
		}
		return err
	})
	if err != nil {
		return TransferRecord{}, err
	}
	return out, nil
}

// Get returns a transfer visible to the caller: one of its parties, or an
// owner/admin of the organization.
func (s *TransferStore) Get(ctx context.Context, transferID, callerID uuid.UUID) (TransferRecord, error) {
	var out TransferRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err := getTransferTx(ctx, tx, transferID)
		if err != nil {
			return err
		}
		if rec.FromUserID != callerID && rec.ToUserID != callerID {
			if _, err := RequireRoleTx(ctx, tx, rec.OrganizationID, callerID, RoleOwner, RoleAdmin); err != nil {
				// Hide existence from callers without visibility.
				return ErrNotFound
			}
		}
		out = rec
		return nil
	})
	if err != nil {
		return TransferRecord{}, err
	}
	return out, nil
}

// ListByOrganization returns the organization's transfers, newest first.
func (s *TransferStore) ListByOrganization(ctx context.Context, orgID, callerID uuid.UUID) ([]TransferRecord, error) {
	var records []TransferRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := RequireRoleTx(ctx, tx, orgID, callerID, RoleOwner, RoleAdmin); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, fmt.Sprintf(`
            SELECT transfer_id, organization_id, from_user_id, to_user_id, reason, status, created_at, expires_at, resolved_at
            FROM %s WHERE organization_id = $1
            ORDER BY created_at DESC
        `, OwnershipTransfersTable), orgID)
		if err != nil {
			return fmt.Errorf("list transfers: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			rec, scanErr := scanTransfer(rows)
			if scanErr != nil {
				return fmt.Errorf("scan transfer: %w", scanErr)
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Cancel resolves a pending transfer as cancelled. The caller must be the
// organization's live owner; the transfer row's from_user_id is not trusted
// because ownership could have changed since initiation.
func (s *TransferStore) Cancel(ctx context.Context, transferID, callerID uuid.UUID, now time.Time) (TransferRecord, error) {
	var out TransferRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err := getTransferTx(ctx, tx, transferID)
		if err != nil {
			return err
		}
		if _, err := RequireRoleTx(ctx, tx, rec.OrganizationID, callerID, RoleOwner); err != nil {
			return err
		}
		if rec.Status != TransferPending {
			return ErrInvalidState
		}
		if !rec.ExpiresAt.After(now) {
			return ErrInvalidState
		}

		out, err = resolveTransferTx(ctx, tx, transferID, TransferCancelled, now)
		return err
	})
	if err != nil {
		return TransferRecord{}, err
	}
	return out, nil
}

// Accept resolves a pending transfer and rotates ownership in one atomic
// transaction: the current owner drops to admin, the recipient becomes owner,
// the transfer row is marked accepted. Either all three commit or none do.
func (s *TransferStore) Accept(ctx context.Context, transferID, callerID uuid.UUID, now time.Time) (TransferRecord, error) {
	var out TransferRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err := getTransferTx(ctx, tx, transferID)
		if err != nil {
			return err
		}
		if rec.Status != TransferPending {
			return ErrInvalidState
		}
		if callerID != rec.ToUserID {
			return ErrNotIntendedRecipient
		}
		if !rec.ExpiresAt.After(now) {
			return ErrTransferExpired
		}
		if err := RequireActiveOrganizationTx(ctx, tx, rec.OrganizationID); err != nil {
			return err
		}

		recipientRole, err := roleOfTx(ctx, tx, rec.OrganizationID, rec.ToUserID)
		if errors.Is(err, ErrNotFound) {
			// Recipient was removed from the organization mid-flight.
			return ErrInvalidState
		}
		if err != nil {
			return err
		}
		if recipientRole == RoleOwner {
			return ErrInvalidState
		}

		// Demote whoever currently holds ownership, not the from_user_id snapshot.
		tag, err := tx.Exec(ctx, fmt.Sprintf(`
            UPDATE %s SET role = $3
            WHERE organization_id = $1 AND role = $2
        `, MembershipsTable), rec.OrganizationID, string(RoleOwner), string(RoleAdmin))
		if err != nil {
			return fmt.Errorf("demote owner: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("expected exactly one owner, updated %d rows", tag.RowsAffected())
		}

		tag, err = tx.Exec(ctx, fmt.Sprintf(`
            UPDATE %s SET role = $3
            WHERE organization_id = $1 AND user_id = $2
        `, MembershipsTable), rec.OrganizationID, rec.ToUserID, string(RoleOwner))
		if err != nil {
			return fmt.Errorf("promote recipient: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("promote recipient: expected one row, updated %d", tag.RowsAffected())
		}

		out, err = resolveTransferTx(ctx, tx, transferID, TransferAccepted, now)
		return err
	})
	if err != nil {
		return TransferRecord{}, err
	}
	return out, nil
}

// MarkExpired catches the stored status up with derived expiry. Reads never
// depend on it; it only keeps the audit trail tidy.
func (s *TransferStore) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
        UPDATE %s SET status = $2, resolved_at = $3
        WHERE status = $1 AND expires_at <= $3
    `, OwnershipTransfersTable), TransferPending, TransferExpired, now)
	if err != nil {
		return 0, fmt.Errorf("mark expired transfers: %w", err)
	}
	return tag.RowsAffected(), nil
}

func cancelPendingTransfersTx(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, now time.Time) error {
	_, err := tx.Exec(ctx, fmt.Sprintf(`
        UPDATE %s SET status = $3, resolved_at = $4
        WHERE organization_id = $1 AND status = $2
    `, OwnershipTransfersTable), orgID, TransferPending, TransferCancelled, now)
	if err != nil {
		return fmt.Errorf("cancel pending transfers: %w", err)
	}
	return nil
}

func getTransferTx(ctx context.Context, tx pgx.Tx, transferID uuid.UUID) (TransferRecord, error) {
	row := tx.QueryRow(ctx, fmt.Sprintf(`
        SELECT transfer_id, organization_id, from_user_id, to_user_id, reason, status, created_at, expires_at, resolved_at
        FROM %s WHERE transfer_id = $1 FOR UPDATE
    `, OwnershipTransfersTable), transferID)

	rec, err := scanTransfer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return TransferRecord{}, ErrNotFound
	}
	return rec, err
}

func resolveTransferTx(ctx context.Context, tx pgx.Tx, transferID uuid.UUID, status string, now time.Time) (TransferRecord, error) {
	row := tx.QueryRow(ctx, fmt.Sprintf(`
        UPDATE %s SET status = $2, resolved_at = $3
        WHERE transfer_id = $1
        RETURNING transfer_id, organization_id, from_user_id, to_user_id, reason, status, created_at, expires_at, resolved_at
    `, OwnershipTransfersTable), transferID, status, now)
	return scanTransfer(row)
}

func scanTransfer(row pgx.Row) (TransferRecord, error) {
	var rec TransferRecord
	if err := row.Scan(
		&rec.TransferID,
		&rec.OrganizationID,
		&rec.FromUserID,
		&rec.ToUserID,
		&rec.Reason,
		&rec.Status,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.ResolvedAt,
	); err != nil {
		return TransferRecord{}, err
	}
	return rec, nil
}
