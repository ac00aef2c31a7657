package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/opsgate-labs/backoffice-core/domains/invitations/be/service"
	"github.com/opsgate-labs/backoffice-core/platform/go/persistence"
)

// PostgresRepository implements the invitations repository on the shared
// persistence store.
type PostgresRepository struct {
	invitations *persistence.InvitationStore
}

// NewPostgresRepository constructs a repository backed by the core store.
func NewPostgresRepository(invitations *persistence.InvitationStore) *PostgresRepository {
	if invitations == nil {
		panic("invitation store is required")
	}
	return &PostgresRepository{invitations: invitations}
}

func (r *PostgresRepository) Create(ctx context.Context, inv service.Invitation, callerID uuid.UUID) (service.Invitation, error) {
	rec, err := r.invitations.Create(ctx, toRecord(inv), callerID)
	if err != nil {
		return service.Invitation{}, mapError(err)
	}
	return toServiceInvitation(rec), nil
}

func (r *PostgresRepository) Get(ctx context.Context, invitationID, callerID uuid.UUID) (service.Invitation, error) {
	rec, err := r.invitations.Get(ctx, invitationID, callerID)
	if err != nil {
		return service.Invitation{}, mapError(err)
	}
	return toServiceInvitation(rec), nil
}

func (r *PostgresRepository) List(ctx context.Context, orgID, callerID uuid.UUID) ([]service.Invitation, error) {
	recs, err := r.invitations.ListByOrganization(ctx, orgID, callerID)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]service.Invitation, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toServiceInvitation(rec))
	}
	return out, nil
}

func (r *PostgresRepository) Resend(ctx context.Context, invitationID, callerID uuid.UUID, now, newExpiresAt time.Time) (service.Invitation, error) {
	rec, err := r.invitations.Resend(ctx, invitationID, callerID, now, newExpiresAt)
	if err != nil {
		return service.Invitation{}, mapError(err)
	}
	return toServiceInvitation(rec), nil
}

func (r *PostgresRepository) Cancel(ctx context.Context, invitationID, callerID uuid.UUID, now time.Time) (service.Invitation, error) {
	rec, err := r.invitations.Cancel(ctx, invitationID, callerID, now)
	if err != nil {
		return service.Invitation{}, mapError(err)
	}
	return toServiceInvitation(rec), nil
}

func (r *PostgresRepository) Accept(ctx context.Context, invitationID, acceptingUserID uuid.UUID, now time.Time) (service.Invitation, error) {
	rec, err := r.invitations.Accept(ctx, invitationID, acceptingUserID, now)
	if err != nil {
		return service.Invitation{}, mapError(err)
	}
	return toServiceInvitation(rec), nil
}

func toRecord(inv service.Invitation) persistence.InvitationRecord {
	return persistence.InvitationRecord{
		InvitationID:   inv.ID,
		OrganizationID: inv.OrganizationID,
		Email:          inv.Email,
		Role:           inv.Role,
		Status:         string(inv.Status),
		InvitedBy:      inv.InvitedBy,
		InvitedAt:      inv.InvitedAt,
		ExpiresAt:      inv.ExpiresAt,
		ResolvedAt:     inv.ResolvedAt,
	}
}

func toServiceInvitation(rec persistence.InvitationRecord) service.Invitation {
	return service.Invitation{
		ID:             rec.InvitationID,
		OrganizationID: rec.OrganizationID,
		Email:          rec.Email,
		Role:           rec.Role,
		Status:         service.Status(rec.Status),
		InvitedBy:      rec.InvitedBy,
		InvitedAt:      rec.InvitedAt,
		ExpiresAt:      rec.ExpiresAt,
		ResolvedAt:     rec.ResolvedAt,
	}
}

func mapError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return service.ErrNotFound
	case errors.Is(err, persistence.ErrUnauthorized):
		return service.ErrUnauthorized
	case errors.Is(err, persistence.ErrOrganizationDeleted):
		return service.ErrOrganizationDeleted
	case errors.Is(err, persistence.ErrAlreadyMember):
		return service.ErrAlreadyMember
	case errors.Is(err, persistence.ErrInvitationExists):
		return service.ErrExists
	case errors.Is(err, persistence.ErrInvitationExpired):
		return service.ErrExpired
	case errors.Is(err, persistence.ErrAlreadyAccepted):
		return service.ErrAlreadyAccepted
	case errors.Is(err, persistence.ErrInvalidState):
		return service.ErrInvalidState
	default:
		return err
	}
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
