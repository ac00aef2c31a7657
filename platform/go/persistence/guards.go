package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Role is the membership role stored per (organization, user) pair.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

// ValidRole reports whether s is one of the known membership roles.
func ValidRole(s string) bool {
	switch Role(s) {
	case RoleOwner, RoleAdmin, RoleManager, RoleMember:
		return true
	}
	return false
}

// roleOfTx reads the caller's current role inside the transaction that will
// perform the write. Roles are never trusted from an earlier read.
func roleOfTx(ctx context.Context, tx pgx.Tx, orgID, userID uuid.UUID) (Role, error) {
	var role string
	err := tx.QueryRow(ctx, fmt.Sprintf(`
        SELECT role FROM %s WHERE organization_id = $1 AND user_id = $2
    `, MembershipsTable), orgID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read caller role: %w", err)
	}
	return Role(role), nil
}

// RequireRoleTx verifies the caller's live role for the organization within tx.
// A caller with no membership at all gets ErrNotFound, so the response is
// indistinguishable from a nonexistent organization; an insufficient role gets
// ErrUnauthorized.
func RequireRoleTx(ctx context.Context, tx pgx.Tx, orgID, callerID uuid.UUID, allowed ...Role) (Role, error) {
	role, err := roleOfTx(ctx, tx, orgID, callerID)
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if role == a {
			return role, nil
		}
	}
	return role, ErrUnauthorized
}

// RequireActiveOrganizationTx locks the organization row and fails with
// ErrOrganizationDeleted when it is soft-deleted. The row lock serializes
// concurrent transitions touching the same organization.
func RequireActiveOrganizationTx(ctx context.Context, tx pgx.Tx, orgID uuid.UUID) error {
	var deletedAt *time.Time
	err := tx.QueryRow(ctx, fmt.Sprintf(`
        SELECT deleted_at FROM %s WHERE organization_id = $1 FOR UPDATE
    `, OrganizationsTable), orgID).Scan(&deletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock organization: %w", err)
	}
	if deletedAt != nil {
		return ErrOrganizationDeleted
	}
	return nil
}
