package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/opsgate-labs/backoffice-core/domains/organizations/be/service"
	"github.com/opsgate-labs/backoffice-core/platform/go/persistence"
)

// PostgresRepository implements the organizations repository on the shared
// persistence stores.
type PostgresRepository struct {
	orgs    *persistence.OrganizationStore
	members *persistence.MembershipStore
}

// NewPostgresRepository constructs a repository backed by the core stores.
func NewPostgresRepository(orgs *persistence.OrganizationStore, members *persistence.MembershipStore) *PostgresRepository {
	if orgs == nil {
		panic("organization store is required")
	}
	if members == nil {
		panic("membership store is required")
	}
	return &PostgresRepository{orgs: orgs, members: members}
}

func (r *PostgresRepository) Get(ctx context.Context, orgID, callerID uuid.UUID) (service.Organization, error) {
	rec, err := r.orgs.Get(ctx, orgID, callerID)
	if err != nil {
		return service.Organization{}, mapError(err)
	}
	return toServiceOrganization(rec), nil
}

func (r *PostgresRepository) Members(ctx context.Context, orgID, callerID uuid.UUID) ([]service.Member, error) {
	recs, err := r.members.ListByOrganization(ctx, orgID, callerID)
	if err != nil {
		return nil, mapError(err)
	}
	members := make([]service.Member, 0, len(recs))
	for _, rec := range recs {
		members = append(members, service.Member{
			OrganizationID: rec.OrganizationID,
			UserID:         rec.UserID,
			Role:           rec.Role,
			Email:          rec.Email,
			CreatedAt:      rec.CreatedAt,
		})
	}
	return members, nil
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, orgID, callerID uuid.UUID, reason *string, now, scheduledAt time.Time) (service.Organization, error) {
	rec, err := r.orgs.SoftDelete(ctx, orgID, callerID, reason, now, scheduledAt)
	if err != nil {
		return service.Organization{}, mapError(err)
	}
	return toServiceOrganization(rec), nil
}

func (r *PostgresRepository) Restore(ctx context.Context, orgID, callerID uuid.UUID, now time.Time) (service.Organization, error) {
	rec, err := r.orgs.Restore(ctx, orgID, callerID, now)
	if err != nil {
		return service.Organization{}, mapError(err)
	}
	return toServiceOrganization(rec), nil
}

func (r *PostgresRepository) ForceDelete(ctx context.Context, orgID, callerID uuid.UUID, confirmation string) error {
	if err := r.orgs.ForceDelete(ctx, orgID, callerID, confirmation); err != nil {
		return mapError(err)
	}
	return nil
}

func (r *PostgresRepository) DeleteDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return r.orgs.DeleteDue(ctx, now)
}

func toServiceOrganization(rec persistence.OrganizationRecord) service.Organization {
	return service.Organization{
		ID:                           rec.OrganizationID,
		Name:                         rec.Name,
		CreatedAt:                    rec.CreatedAt,
		DeletedAt:                    rec.DeletedAt,
		DeletedBy:                    rec.DeletedBy,
		DeletionReason:               rec.DeletionReason,
		PermanentDeletionScheduledAt: rec.PermanentDeletionScheduledAt,
	}
}

func mapError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return service.ErrNotFound
	case errors.Is(err, persistence.ErrUnauthorized):
		return service.ErrUnauthorized
	case errors.Is(err, persistence.ErrAlreadyDeleted):
		return service.ErrAlreadyDeleted
	case errors.Is(err, persistence.ErrNotDeleted):
		return service.ErrNotDeleted
	case errors.Is(err, persistence.ErrGraceElapsed):
		return service.ErrGraceElapsed
	case errors.Is(err, persistence.ErrConfirmationMismatch):
		return service.ErrInvalidConfirmation
	default:
		return err
	}
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
