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

const InvitationsTable = "invitations"

// Invitation statuses as stored. Like transfers, expiry is derived from
// expires_at at the point of use.
const (
	InvitationPending   = "pending"
	InvitationAccepted  = "accepted"
	InvitationCancelled = "cancelled"
	InvitationExpired   = "expired"
)

// InvitationRecord represents a row in the invitations table.
type InvitationRecord struct {
	InvitationID   uuid.UUID  `db:"invitation_id"`
	OrganizationID uuid.UUID  `db:"organization_id"`
	Email          string     `db:"email"`
	Role           Role       `db:"role"`
	Status         string     `db:"status"`
	InvitedBy      uuid.UUID  `db:"invited_by"`
	InvitedAt      time.Time  `db:"invited_at"`
	ExpiresAt      time.Time  `db:"expires_at"`
	ResolvedAt     *time.Time `db:"resolved_at"`
}

// InvitationStore provides access to the invitations table.
type InvitationStore struct {
	pool *pgxpool.Pool
	db   *DB
}

// NewInvitationStore creates a store; assumes migrations already created the table.
func NewInvitationStore(pool *pgxpool.Pool, db *DB) (*InvitationStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &InvitationStore{pool: pool, db: db}, nil
}

// Create inserts a pending invitation after re-validating inside one
// transaction: organization active, caller owner or admin, email not already a
// member, no pending invitation for the pair. The partial unique index backs
// the pending check against insert races.
func (s *InvitationStore) Create(ctx context.Context, rec InvitationRecord, callerID uuid.UUID) (InvitationRecord, error) {
	if rec.InvitationID == uuid.Nil {
		return InvitationRecord{}, errors.New("invitation id is required")
	}
	email := strings.ToLower(strings.TrimSpace(rec.Email))

	var out InvitationRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := RequireActiveOrganizationTx(ctx, tx, rec.OrganizationID); err != nil {
			return err
		}
		if _, err := RequireRoleTx(ctx, tx, rec.OrganizationID, callerID, RoleOwner, RoleAdmin); err != nil {
			return err
		}

		isMember, err := emailIsMemberTx(ctx, tx, rec.OrganizationID, email)
		if err != nil {
			return err
		}
		if isMember {
			return ErrAlreadyMember
		}

		var pendingExists bool
		err = tx.QueryRow(ctx, fmt.Sprintf(`
            SELECT EXISTS (SELECT 1 FROM %s WHERE organization_id = $1 AND LOWER(email) = $2 AND status = $3)
        `, InvitationsTable), rec.OrganizationID, email, InvitationPending).Scan(&pendingExists)
		if err != nil {
			return fmt.Errorf("check pending invitation: %w", err)
		}
		if pendingExists {
			return ErrInvitationExists
		}

		row := tx.QueryRow(ctx, fmt.Sprintf(`
            INSERT INTO %s (invitation_id, organization_id, email, role, status, invited_by, invited_at, expires_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
            RETURNING invitation_id, organization_id, email, role, status, invited_by, invited_at, expires_at, resolved_at
        `, InvitationsTable),
			rec.InvitationID, rec.OrganizationID, email, string(rec.Role),
			InvitationPending, callerID, rec.InvitedAt, rec.ExpiresAt,
		)

		out, err = scanInvitation(row)
		if isUniqueViolation(err) {
			return ErrInvitationExists
		}
		return err
	})
	if err != nil {
		return InvitationRecord{}, err
	}
	return out, nil
}

// Get returns an invitation visible to the caller (owner or admin of its
// organization). Accepting users go through Accept directly with the id from
// their link.
func (s *InvitationStore) Get(ctx context.Context, invitationID, callerID uuid.UUID) (InvitationRecord, error) {
	var out InvitationRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err := getInvitationTx(ctx, tx, invitationID)
		if err != nil {
			return err
		}
		if _, err := RequireRoleTx(ctx, tx, rec.OrganizationID, callerID, RoleOwner, RoleAdmin); err != nil {
			return ErrNotFound
		}
		out = rec
		return nil
	})
	if err != nil {
		return InvitationRecord{}, err
	}
	return out, nil
}

// ListByOrganization returns the organization's invitations, newest first.
func (s *InvitationStore) ListByOrganization(ctx context.Context, orgID, callerID uuid.UUID) ([]InvitationRecord, error) {
	var records []InvitationRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := RequireRoleTx(ctx, tx, orgID, callerID, RoleOwner, RoleAdmin); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, fmt.Sprintf(`
            SELECT invitation_id, organization_id, email, role, status, invited_by, invited_at, expires_at, resolved_at
            FROM %s WHERE organization_id = $1
            ORDER BY invited_at DESC
        `, InvitationsTable), orgID)
		if err != nil {
			return fmt.Errorf("list invitations: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			rec, scanErr := scanInvitation(rows)
			if scanErr != nil {
				return fmt.Errorf("scan invitation: %w", scanErr)
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

// Resend extends a pending, non-expired invitation. Expired invitations must
// be cancelled and reissued so the invitee gets a fresh id.
func (s *InvitationStore) Resend(ctx context.Context, invitationID, callerID uuid.UUID, now, newExpiresAt time.Time) (InvitationRecord, error) {
	var out InvitationRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err := getInvitationTx(ctx, tx, invitationID)
		if err != nil {
			return err
		}
		if err := RequireActiveOrganizationTx(ctx, tx, rec.OrganizationID); err != nil {
			return err
		}
		if _, err := RequireRoleTx(ctx, tx, rec.OrganizationID, callerID, RoleOwner, RoleAdmin); err != nil {
			return err
		}
		if rec.Status != InvitationPending {
			return ErrInvalidState
		}
		if !rec.ExpiresAt.After(now) {
			return ErrInvitationExpired
		}

		row := tx.QueryRow(ctx, fmt.Sprintf(`
            UPDATE %s SET expires_at = $2
            WHERE invitation_id = $1
            RETURNING invitation_id, organization_id, email, role, status, invited_by, invited_at, expires_at, resolved_at
        `, InvitationsTable), invitationID, newExpiresAt)

		out, err = scanInvitation(row)
		return err
	})
	if err != nil {
		return InvitationRecord{}, err
	}
	return out, nil
}

// Cancel resolves a stored-pending invitation as cancelled. A pending row past
// its expiry can still be cancelled; that is the cancel-and-reinvite path.
func (s *InvitationStore) Cancel(ctx context.Context, invitationID, callerID uuid.UUID, now time.Time) (InvitationRecord, error) {
	var out InvitationRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err := getInvitationTx(ctx, tx, invitationID)
		if err != nil {
			return err
		}
		if _, err := RequireRoleTx(ctx, tx, rec.OrganizationID, callerID, RoleOwner, RoleAdmin); err != nil {
			return err
		}
		if rec.Status != InvitationPending {
			return ErrInvalidState
		}

		out, err = resolveInvitationTx(ctx, tx, invitationID, InvitationCancelled, now)
		return err
	})
	if err != nil {
		return InvitationRecord{}, err
	}
	return out, nil
}

// Accept marks a pending, non-expired invitation accepted and creates the
// member's row with the invited role, in one transaction. An existing
// membership is kept untouched; a second accept fails with ErrAlreadyAccepted.
func (s *InvitationStore) Accept(ctx context.Context, invitationID, acceptingUserID uuid.UUID, now time.Time) (InvitationRecord, error) {
	if acceptingUserID == uuid.Nil {
		return InvitationRecord{}, errors.New("accepting user id is required")
	}

	var out InvitationRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err := getInvitationTx(ctx, tx, invitationID)
		if err != nil {
			return err
		}
		switch rec.Status {
		case InvitationAccepted:
			return ErrAlreadyAccepted
		case InvitationCancelled, InvitationExpired:
			return ErrInvalidState
		}
		if !rec.ExpiresAt.After(now) {
			return ErrInvitationExpired
		}
		if err := RequireActiveOrganizationTx(ctx, tx, rec.OrganizationID); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, fmt.Sprintf(`
            INSERT INTO %s (organization_id, user_id, role, email)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (organization_id, user_id) DO NOTHING
        `, MembershipsTable), rec.OrganizationID, acceptingUserID, string(rec.Role), rec.Email)
		if err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}

		out, err = resolveInvitationTx(ctx, tx, invitationID, InvitationAccepted, now)
		return err
	})
	if err != nil {
		return InvitationRecord{}, err
	}
	return out, nil
}

// MarkExpired catches the stored status up with derived expiry.
func (s *InvitationStore) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
        UPDATE %s SET status = $2, resolved_at = $3
        WHERE status = $1 AND expires_at <= $3
    `, InvitationsTable), InvitationPending, InvitationExpired, now)
	if err != nil {
		return 0, fmt.Errorf("mark expired invitations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func cancelPendingInvitationsTx(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, now time.Time) error {
	_, err := tx.Exec(ctx, fmt.Sprintf(`
        UPDATE %s SET status = $3, resolved_at = $4
        WHERE organization_id = $1 AND status = $2
    `, InvitationsTable), orgID, InvitationPending, InvitationCancelled, now)
	if err != nil {
		return fmt.Errorf("cancel pending invitations: %w", err)
	}
	return nil
}

func getInvitationTx(ctx context.Context, tx pgx.Tx, invitationID uuid.UUID) (InvitationRecord, error) {
	row := tx.QueryRow(ctx, fmt.Sprintf(`
        SELECT invitation_id, organization_id, email, role, status, invited_by, invited_at, expires_at, resolved_at
        FROM %s WHERE invitation_id = $1 FOR UPDATE
    `, InvitationsTable), invitationID)

	rec, err := scanInvitation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return InvitationRecord{}, ErrNotFound
	}
	return rec, err
}

func resolveInvitationTx(ctx context.Context, tx pgx.Tx, invitationID uuid.UUID, status string, now time.Time) (InvitationRecord, error) {
	row := tx.QueryRow(ctx, fmt.Sprintf(`
        UPDATE %s SET status = $2, resolved_at = $3
        WHERE invitation_id = $1
        RETURNING invitation_id, organization_id, email, role, status, invited_by, invited_at, expires_at, resolved_at
    `, InvitationsTable), invitationID, status, now)
	return scanInvitation(row)
}

func scanInvitation(row pgx.Row) (InvitationRecord, error) {
	var rec InvitationRecord
	var role string
	if err := row.Scan(
		&rec.InvitationID,
		&rec.OrganizationID,
		&rec.Email,
		&role,
		&rec.Status,
		&rec.InvitedBy,
		&rec.InvitedAt,
		&rec.ExpiresAt,
		&rec.ResolvedAt,
	); err != nil {
		return InvitationRecord{}, err
	}
	rec.Role = Role(role)
	return rec, nil
}
