package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opsgate-labs/backoffice-core/domains/invitations/be/service"
	"github.com/opsgate-labs/backoffice-core/platform/go/memdb"
)

// MemoryRepository implements the invitations repository on the shared
// in-memory store, for tests and early development.
type MemoryRepository struct {
	store *memdb.Store
}

// NewMemoryRepository constructs a MemoryRepository on the given store.
func NewMemoryRepository(store *memdb.Store) *MemoryRepository {
	if store == nil {
		panic("memdb store is required")
	}
	return &MemoryRepository{store: store}
}

func (r *MemoryRepository) Create(ctx context.Context, inv service.Invitation, callerID uuid.UUID) (service.Invitation, error) {
	rec, err := r.store.CreateInvitation(ctx, toRecord(inv), callerID)
	if err != nil {
		return service.Invitation{}, mapError(err)
	}
	return toServiceInvitation(rec), nil
}

func (r *MemoryRepository) Get(ctx context.Context, invitationID, callerID uuid.UUID) (service.Invitation, error) {
	rec, err := r.store.GetInvitation(ctx, invitationID, callerID)
	if err != nil {
		return service.Invitation{}, mapError(err)
	}
	return toServiceInvitation(rec), nil
}

func (r *MemoryRepository) List(ctx context.Context, orgID, callerID uuid.UUID) ([]service.Invitation, error) {
	recs, err := r.store.ListInvitations(ctx, orgID, callerID)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]service.Invitation, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toServiceInvitation(rec))
	}
	return out, nil
}

func (r *MemoryRepository) Resend(ctx context.Context, invitationID, callerID uuid.UUID, now, newExpiresAt time.Time) (service.Invitation, error) {
	rec, err := r.store.ResendInvitation(ctx, invitationID, callerID, now, newExpiresAt)
	if err != nil {
		return service.Invitation{}, mapError(err)
	}
	return toServiceInvitation(rec), nil
}

func (r *MemoryRepository) Cancel(ctx context.Context, invitationID, callerID uuid.UUID, now time.Time) (service.Invitation, error) {
	rec, err := r.store.CancelInvitation(ctx, invitationID, callerID, now)
	if err != nil {
		return service.Invitation{}, mapError(err)
	}
	return toServiceInvitation(rec), nil
}

func (r *MemoryRepository) Accept(ctx context.Context, invitationID, acceptingUserID uuid.UUID, now time.Time) (service.Invitation, error) {
	rec, err := r.store.AcceptInvitation(ctx, invitationID, acceptingUserID, now)
	if err != nil {
		return service.Invitation{}, mapError(err)
	}
	return toServiceInvitation(rec), nil
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
