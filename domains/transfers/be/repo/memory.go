package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opsgate-labs/backoffice-core/domains/transfers/be/service"
	"github.com/opsgate-labs/backoffice-core/platform/go/memdb"
)

// MemoryRepository implements the transfers repository on the shared
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

func (r *MemoryRepository) Initiate(ctx context.Context, t service.Transfer, callerID uuid.UUID) (service.Transfer, error) {
	rec, err := r.store.InitiateTransfer(ctx, toRecord(t), callerID)
	if err != nil {
		return service.Transfer{}, mapError(err)
	}
	return toServiceTransfer(rec), nil
}

func (r *MemoryRepository) Get(ctx context.Context, transferID, callerID uuid.UUID) (service.Transfer, error) {
	rec, err := r.store.GetTransfer(ctx, transferID, callerID)
	if err != nil {
		return service.Transfer{}, mapError(err)
	}
	return toServiceTransfer(rec), nil
}

func (r *MemoryRepository) List(ctx context.Context, orgID, callerID uuid.UUID) ([]service.Transfer, error) {
	recs, err := r.store.ListTransfers(ctx, orgID, callerID)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]service.Transfer, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toServiceTransfer(rec))
	}
	return out, nil
}

func (r *MemoryRepository) Cancel(ctx context.Context, transferID, callerID uuid.UUID, now time.Time) (service.Transfer, error) {
	rec, err := r.store.CancelTransfer(ctx, transferID, callerID, now)
	if err != nil {
		return service.Transfer{}, mapError(err)
	}
	return toServiceTransfer(rec), nil
}

func (r *MemoryRepository) Accept(ctx context.Context, transferID, callerID uuid.UUID, now time.Time) (service.Transfer, error) {
	rec, err := r.store.AcceptTransfer(ctx, transferID, callerID, now)
	if err != nil {
		return service.Transfer{}, mapError(err)
	}
	return toServiceTransfer(rec), nil
}

func (r *MemoryRepository) MemberEmail(ctx context.Context, orgID, userID uuid.UUID) (string, error) {
	email, err := r.store.EmailOf(ctx, orgID, userID)
	if err != nil {
		return "", mapError(err)
	}
	return email, nil
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
