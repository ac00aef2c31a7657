package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/opsgate-labs/backoffice-core/domains/transfers/be/service"
	"github.com/opsgate-labs/backoffice-core/platform/go/persistence"
)

// PostgresRepository implements the transfers repository on the shared
// persistence stores.
type PostgresRepository struct {
	transfers *persistence.TransferStore
	members   *persistence.MembershipStore
}

// NewPostgresRepository constructs a repository backed by the core stores.
func NewPostgresRepository(transfers *persistence.TransferStore, members *persistence.MembershipStore) *PostgresRepository {
	if transfers == nil {
		panic("transfer store is required")
	}
	if members == nil {
		panic("membership store is required")
	}
	return &PostgresRepository{transfers: transfers, members: members}
}

func (r *PostgresRepository) Initiate(ctx context.Context, t service.Transfer, callerID uuid.UUID) (service.Transfer, error) {
	rec, err := r.transfers.Initiate(ctx, toRecord(t), callerID)
	if err != nil {
		return service.Transfer{}, mapError(err)
	}
	return toServiceTransfer(rec), nil
}

func (r *PostgresRepository) Get(ctx context.Context, transferID, callerID uuid.UUID) (service.Transfer, error) {
	rec, err := r.transfers.Get(ctx, transferID, callerID)
	if err != nil {
		return service.Transfer{}, mapError(err)
	}
	return toServiceTransfer(rec), nil
}

func (r *PostgresRepository) List(ctx context.Context, orgID, callerID uuid.UUID) ([]service.Transfer, error) {
	recs, err := r.transfers.ListByOrganization(ctx, orgID, callerID)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]service.Transfer, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toServiceTransfer(rec))
	}
	return out, nil
}

func (r *PostgresRepository) Cancel(ctx context.Context, transferID, callerID uuid.UUID, now time.Time) (service.Transfer, error) {
	rec, err := r.transfers.Cancel(ctx, transferID, callerID, now)
	if err != nil {
		return service.Transfer{}, mapError(err)
	}
	return toServiceTransfer(rec), nil
}

func (r *PostgresRepository) Accept(ctx context.Context, transferID, callerID uuid.UUID, now time.Time) (service.Transfer, error) {
	rec, err := r.transfers.Accept(ctx, transferID, callerID, now)
	if err != nil {
		return service.Transfer{}, mapError(err)
	}
	return toServiceTransfer(rec), nil
}

func (r *PostgresRepository) MemberEmail(ctx context.Context, orgID, userID uuid.UUID) (string, error) {
	email, err := r.members.EmailOf(ctx, orgID, userID)
	if err != nil {
		return "", mapError(err)
	}
	return email, nil
}

func toRecord(t service.Transfer) persistence.TransferRecord {
	return persistence.TransferRecord{
		TransferID:     t.ID,
		OrganizationID: t.OrganizationID,
		FromUserID:     t.FromUserID,
		ToUserID:       t.ToUserID,
		Reason:         t.Reason,
		Status:         string(t.Status),
		CreatedAt:      t.CreatedAt,
		ExpiresAt:      t.ExpiresAt,
		ResolvedAt:     t.ResolvedAt,
	}
}

func toServiceTransfer(rec persistence.TransferRecord) service.Transfer {
	return service.Transfer{
		ID:             rec.TransferID,
		OrganizationID: rec.OrganizationID,
		FromUserID:     rec.FromUserID,
		ToUserID:       rec.ToUserID,
		Reason:         rec.Reason,
		Status:         service.Status(rec.Status),
		CreatedAt:      rec.CreatedAt,
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
	case errors.Is(err, persistence.ErrTransferPending):
		return service.ErrAlreadyPending
	case errors.Is(err, persistence.ErrTransferExpired):
		return service.ErrExpired
	case errors.Is(err, persistence.ErrNotIntendedRecipient):
		return service.ErrNotIntendedRecipient
	case errors.Is(err, persistence.ErrInvalidState):
		return service.ErrInvalidState
	default:
		return err
	}
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
