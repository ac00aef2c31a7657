package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const MembershipsTable = "memberships"

// MembershipRecord represents a row in the memberships table.
type MembershipRecord struct {
	OrganizationID uuid.UUID `db:"organization_id"`
	UserID         uuid.UUID `db:"user_id"`
	Role           Role      `db:"role"`
	Email          string    `db:"email"`
	CreatedAt      time.Time `db:"created_at"`
}

// MembershipStore exposes persistence helpers for the memberships table.
type MembershipStore struct {
	pool *pgxpool.Pool
	db   *DB
}

// NewMembershipStore creates a store; assumes migrations already created the table.
func NewMembershipStore(pool *pgxpool.Pool, db *DB) (*MembershipStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &MembershipStore{pool: pool, db: db}, nil
}

// Add inserts a membership row. Intended for onboarding and test fixtures; the
// invitation accept path inserts within its own transaction instead.
func (s *MembershipStore) Add(ctx context.Context, rec MembershipRecord) (MembershipRecord, error) {
	if rec.OrganizationID == uuid.Nil || rec.UserID == uuid.Nil {
		return MembershipRecord{}, errors.New("organization id and user id are required")
	}
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (organization_id, user_id, role, email)
        VALUES ($1, $2, $3, $4)
        RETURNING organization_id, user_id, role, email, created_at
    `, MembershipsTable),
		rec.OrganizationID,
		rec.UserID,
		string(rec.Role),
		strings.ToLower(strings.TrimSpace(rec.Email)),
	)

	out, err := scanMembership(row)
	if err != nil {
		if isUniqueViolation(err) {
			return MembershipRecord{}, ErrAlreadyMember
		}
		return MembershipRecord{}, err
	}
	return out, nil
}

// RoleOf returns the caller's current role for the organization.
func (s *MembershipStore) RoleOf(ctx context.Context, orgID, userID uuid.UUID) (Role, error) {
	var role string
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
        SELECT role FROM %s WHERE organization_id = $1 AND user_id = $2
    `, MembershipsTable), orgID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read role: %w", err)
	}
	return Role(role), nil
}

// EmailOf returns the member's email, used for notification dispatch after commit.
func (s *MembershipStore) EmailOf(ctx context.Context, orgID, userID uuid.UUID) (string, error) {
	var email string
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
        SELECT email FROM %s WHERE organization_id = $1 AND user_id = $2
    `, MembershipsTable), orgID, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read member email: %w", err)
	}
	return email, nil
}

// ListByOrganization returns the organization's members ordered by join date.
// The caller's live role is verified in the same transaction as the read.
func (s *MembershipStore) ListByOrganization(ctx context.Context, orgID, callerID uuid.UUID) ([]MembershipRecord, error) {
	var records []MembershipRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := RequireRoleTx(ctx, tx, orgID, callerID, RoleOwner, RoleAdmin, RoleManager, RoleMember); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, fmt.Sprintf(`
            SELECT organization_id, user_id, role, email, created_at
            FROM %s WHERE organization_id = $1
            ORDER BY created_at ASC
        `, MembershipsTable), orgID)
		if err != nil {
			return fmt.Errorf("list memberships: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			rec, scanErr := scanMembership(rows)
			if scanErr != nil {
				return fmt.Errorf("scan membership: %w", scanErr)
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

// emailIsMemberTx reports whether the email already belongs to a member of the organization.
func emailIsMemberTx(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, email string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, fmt.Sprintf(`
        SELECT EXISTS (SELECT 1 FROM %s WHERE organization_id = $1 AND email = LOWER($2))
    `, MembershipsTable), orgID, strings.TrimSpace(email)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check member email: %w", err)
	}
	return exists, nil
}

func scanMembership(row pgx.Row) (MembershipRecord, error) {
	var rec MembershipRecord
	var role string
	if err := row.Scan(&rec.OrganizationID, &rec.UserID, &role, &rec.Email, &rec.CreatedAt); err != nil {
		return MembershipRecord{}, err
	}
	rec.Role = Role(role)
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
