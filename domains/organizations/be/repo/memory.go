package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opsgate-labs/backoffice-core/domains/organizations/be/service"
	"github.com/opsgate-labs/backoffice-core/platform/go/memdb"
	"github.com/opsgate-labs/backoffice-core/platform/go/persistence"
)

// MemoryRepository implements the organizations repository on the shared
// in-memory store, for tests and early development.
type MemoryRepository struct {
	store *memdb.Store
}

// NewMemoryRepository constructs a MemoryRepository on the given store. Repos
// for all three domains can share one store, mirroring a shared database.
func NewMemoryRepository(store *memdb.Store) *MemoryRepository {
	if store == nil {
		panic("memdb store is required")
	}
	return &MemoryRepository{store: store}
}

func (r *MemoryRepository) Get(ctx context.Context, orgID, callerID uuid.UUID) (service.Organization, error) {
	rec, err := r.store.GetOrganization(ctx, orgID, callerID)
	if err != nil {
		return service.Organization{}, mapError(err)
	}
	return toServiceOrganization(rec), nil
}

func (r *MemoryRepository) Members(ctx context.Context, orgID, callerID uuid.UUID) ([]service.Member, error) {
	recs, err := r.store.ListMembers(ctx, orgID, callerID)
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

func (r *MemoryRepository) SoftDelete(ctx context.Context, orgID, callerID uuid.UUID, reason *string, now, scheduledAt time.Time) (service.Organization, error) {
	rec, err := r.store.SoftDelete(ctx, orgID, callerID, reason, now, scheduledAt)
	if err != nil {
		return service.Organization{}, mapError(err)
	}
	return toServiceOrganization(rec), nil
}

func (r *MemoryRepository) Restore(ctx context.Context, orgID, callerID uuid.UUID, now time.Time) (service.Organization, error) {
	rec, err := r.store.Restore(ctx, orgID, callerID, now)
	if err != nil {
		return service.Organization{}, mapError(err)
	}
	return toServiceOrganization(rec), nil
}

func (r *MemoryRepository) ForceDelete(ctx context.Context, orgID, callerID uuid.UUID, confirmation string) error {
	if err := r.store.ForceDelete(ctx, orgID, callerID, confirmation); err != nil {
		return mapError(err)
	}
	return nil
}

func (r *MemoryRepository) DeleteDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return r.store.DeleteDue(ctx, now)
}

// Seed inserts an organization with its owner, bypassing authorization. Test
// fixture only.
func (r *MemoryRepository) Seed(ctx context.Context, org service.Organization, ownerID uuid.UUID, ownerEmail string) error {
	_, err := r.store.CreateWithOwner(ctx, persistence.OrganizationRecord{
		OrganizationID: org.ID,
		Name:           org.Name,
		CreatedAt:      org.CreatedAt,
	}, ownerID, ownerEmail)
	return err
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
