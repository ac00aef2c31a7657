package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsgate-labs/backoffice-core/platform/go/notify"
)

// DefaultExpiry bounds how long a transfer may stay unresolved.
const DefaultExpiry = 72 * time.Hour

// Transfer statuses. Expired is both a stored terminal state and a derived
// one; use CurrentStatus for any authorization decision.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Errors returned by the service layer.
var (
	ErrNotFound             = errors.New("transfer not found")
	ErrUnauthorized         = errors.New("caller role insufficient")
	ErrOrganizationDeleted  = errors.New("organization deleted")
	ErrAlreadyPending       = errors.New("transfer already pending for organization")
	ErrExpired              = errors.New("transfer expired")
	ErrNotIntendedRecipient = errors.New("caller is not the transfer recipient")
	ErrInvalidState         = errors.New("transfer not in required state")
)

// Transfer represents the domain model for an ownership transfer. Rows are an
// audit trail; they are never physically deleted once resolved.
type Transfer struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	FromUserID     uuid.UUID
	ToUserID       uuid.UUID
	Reason         *string
	Status         Status
	CreatedAt      time.Time
	ExpiresAt      time.Time
	ResolvedAt     *time.Time
}

// CurrentStatus derives the effective status at the given instant. A stored
// pending row past its expiry is expired even before any sweep rewrites it.
func CurrentStatus(t Transfer, now time.Time) Status {
	if t.Status == StatusPending && !t.ExpiresAt.After(now) {
		return StatusExpired
	}
	return t.Status
}

// Repository abstracts persistence. Mutating operations re-read the caller's
// live role and the transfer's current state inside their own transaction.
type Repository interface {
	Initiate(ctx context.Context, t Transfer, callerID uuid.UUID) (Transfer, error)
	Get(ctx context.Context, transferID, callerID uuid.UUID) (Transfer, error)
	List(ctx context.Context, orgID, callerID uuid.UUID) ([]Transfer, error)
	Cancel(ctx context.Context, transferID, callerID uuid.UUID, now time.Time) (Transfer, error)
	Accept(ctx context.Context, transferID, callerID uuid.UUID, now time.Time) (Transfer, error)
	MemberEmail(ctx context.Context, orgID, userID uuid.UUID) (string, error)
}

// Service owns the initiate/cancel/accept protocol for handing organization
// ownership to another member.
type Service struct {
	repo     Repository
	notifier notify.Notifier
	logger   *zap.Logger
	expiry   time.Duration
	clock    func() time.Time
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithExpiry overrides the pending-transfer expiry window.
func WithExpiry(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithClock injects a deterministic time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New constructs a Service with required dependencies.
func New(repo Repository, notifier notify.Notifier, logger *zap.Logger, opts ...Option) *Service {
	if repo == nil {
		panic("transfers repo is required")
	}
	if notifier == nil {
		panic("notifier is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	s := &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		expiry:   DefaultExpiry,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate opens a pending transfer to newOwnerID. Ownership does not change
// until the recipient accepts. Only one transfer may be in flight per
// organization; a concurrent second initiate surfaces ErrAlreadyPending.
func (s *Service) Initiate(ctx context.Context, orgID, newOwnerID, callerID uuid.UUID, reason *string) (Transfer, error) {
	if orgID == uuid.Nil || callerID == uuid.Nil {
		return Transfer{}, ErrNotFound
	}
	if newOwnerID == uuid.Nil || newOwnerID == callerID {
		return Transfer{}, ErrInvalidState
	}
	if reason != nil {
		trimmed := strings.TrimSpace(*reason)
		if trimmed == "" {
			reason = nil
		} else {
			reason = &trimmed
		}
	}

	now := s.clock()
	t, err := s.repo.Initiate(ctx, Transfer{
		ID:             uuid.New(),
		OrganizationID: orgID,
		ToUserID:       newOwnerID,
		Reason:         reason,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.expiry),
	}, callerID)
	if err != nil {
		return Transfer{}, err
	}

	s.notify(ctx, notify.TemplateTransferInitiated, t.OrganizationID, t.ToUserID, map[string]any{
		"transferId":     t.ID.String(),
		"organizationId": t.OrganizationID.String(),
		"expiresAt":      t.ExpiresAt,
	})
	return t, nil
}

// Get returns a transfer visible to the caller.
func (s *Service) Get(ctx context.Context, transferID, callerID uuid.UUID) (Transfer, error) {
	if transferID == uuid.Nil || callerID == uuid.Nil {
		return Transfer{}, ErrNotFound
	}
	t, err := s.repo.Get(ctx, transferID, callerID)
	if err != nil {
		return Transfer{}, err
	}
	t.Status = CurrentStatus(t, s.clock())
	return t, nil
}

// List returns the organization's transfers with derived statuses.
func (s *Service) List(ctx context.Context, orgID, callerID uuid.UUID) ([]Transfer, error) {
	if orgID == uuid.Nil || callerID == uuid.Nil {
		return nil, ErrNotFound
	}
	ts, err := s.repo.List(ctx, orgID, callerID)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	for i := range ts {
		ts[i].Status = CurrentStatus(ts[i], now)
	}
	return ts, nil
}

// Cancel resolves a pending transfer as cancelled. A transfer already
// resolved surfaces ErrInvalidState so the caller can tell someone else got
// there first.
func (s *Service) Cancel(ctx context.Context, transferID, callerID uuid.UUID) (Transfer, error) {
	if transferID == uuid.Nil || callerID == uuid.Nil {
		return Transfer{}, ErrNotFound
	}

	t, err := s.repo.Cancel(ctx, transferID, callerID, s.clock())
	if err != nil {
		return Transfer{}, err
	}

	s.notify(ctx, notify.TemplateTransferCancelled, t.OrganizationID, t.ToUserID, map[string]any{
		"transferId":     t.ID.String(),
		"organizationId": t.OrganizationID.String(),
	})
	return t, nil
}

// Accept resolves the transfer and rotates ownership: the current owner drops
// to admin, the recipient becomes owner. Only the intended recipient may
// accept, regardless of privilege.
func (s *Service) Accept(ctx context.Context, transferID, callerID uuid.UUID) (Transfer, error) {
	if transferID == uuid.Nil || callerID == uuid.Nil {
		return Transfer{}, ErrNotFound
	}

	t, err := s.repo.Accept(ctx, transferID, callerID, s.clock())
	if err != nil {
		return Transfer{}, err
	}

	payload := map[string]any{
		"transferId":     t.ID.String(),
		"organizationId": t.OrganizationID.String(),
	}
	s.notify(ctx, notify.TemplateTransferAccepted, t.OrganizationID, t.FromUserID, payload)
	s.notify(ctx, notify.TemplateTransferAccepted, t.OrganizationID, t.ToUserID, payload)
	return t, nil
}

// notify dispatches a best-effort notification to a member after commit.
func (s *Service) notify(ctx context.Context, templateID string, orgID, userID uuid.UUID, payload map[string]any) {
	email, err := s.repo.MemberEmail(ctx, orgID, userID)
	if err != nil {
		s.logger.Warn("resolve notification recipient",
			zap.String("template_id", templateID),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return
	}
	if err := s.notifier.Send(ctx, templateID, email, payload); err != nil {
		s.logger.Warn("notification failed",
			zap.String("template_id", templateID),
			zap.Error(err),
		)
	}
}
