package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsgate-labs/backoffice-core/platform/go/notify"
	"github.com/opsgate-labs/backoffice-core/platform/go/persistence"
)

// DefaultTTL bounds how long an invitation can be accepted.
const DefaultTTL = 7 * 24 * time.Hour

// Invitation statuses. Use CurrentStatus for any authorization decision;
// expiry is derived from ExpiresAt, not only from the stored column.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Errors returned by the service layer.
var (
	ErrNotFound            = errors.New("invitation not found")
	ErrUnauthorized        = errors.New("caller role insufficient")
	ErrOrganizationDeleted = errors.New("organization deleted")
	ErrAlreadyMember       = errors.New("email already belongs to a member")
	ErrExists              = errors.New("pending invitation already exists")
	ErrExpired             = errors.New("invitation expired")
	ErrAlreadyAccepted     = errors.New("invitation already accepted")
	ErrInvalidState        = errors.New("invitation not in required state")
	ErrInvalidInput        = errors.New("invalid input")
)

// Invitation represents the domain model for a membership invitation.
type Invitation struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Email          string
	Role           persistence.Role
	Status         Status
	InvitedBy      uuid.UUID
	InvitedAt      time.Time
	ExpiresAt      time.Time
	ResolvedAt     *time.Time
}

// CurrentStatus derives the effective status at the given instant.
func CurrentStatus(inv Invitation, now time.Time) Status {
	if inv.Status == StatusPending && !inv.ExpiresAt.After(now) {
		return StatusExpired
	}
	return inv.Status
}

// BulkCancelResult reports the outcome for one id in a bulk cancellation.
type BulkCancelResult struct {
	InvitationID uuid.UUID
	Err          error
}

// Repository abstracts persistence. Mutating operations re-read the caller's
// live role and the invitation's current state inside their own transaction.
type Repository interface {
	Create(ctx context.Context, inv Invitation, callerID uuid.UUID) (Invitation, error)
	Get(ctx context.Context, invitationID, callerID uuid.UUID) (Invitation, error)
	List(ctx context.Context, orgID, callerID uuid.UUID) ([]Invitation, error)
	Resend(ctx context.Context, invitationID, callerID uuid.UUID, now, newExpiresAt time.Time) (Invitation, error)
	Cancel(ctx context.Context, invitationID, callerID uuid.UUID, now time.Time) (Invitation, error)
	Accept(ctx context.Context, invitationID, acceptingUserID uuid.UUID, now time.Time) (Invitation, error)
}

// Service owns the invitation lifecycle: create, resend, cancel, accept, and
// expiry evaluation.
type Service struct {
	repo     Repository
	notifier notify.Notifier
	logger   *zap.Logger
	ttl      time.Duration
	clock    func() time.Time
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithTTL overrides the invitation time-to-live.
func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
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
		panic("invitations repo is required")
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
		ttl:      DefaultTTL,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invite creates a pending invitation and notifies the invitee. Owners and
// admins may invite; the invited role can be anything but owner.
func (s *Service) Invite(ctx context.Context, orgID uuid.UUID, email string, role persistence.Role, callerID uuid.UUID) (Invitation, error) {
	if orgID == uuid.Nil || callerID == uuid.Nil {
		return Invitation{}, ErrNotFound
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return Invitation{}, ErrInvalidInput
	}
	if role == persistence.RoleOwner || !persistence.ValidRole(string(role)) {
		return Invitation{}, ErrInvalidInput
	}

	now := s.clock()
	inv, err := s.repo.Create(ctx, Invitation{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Email:          email,
		Role:           role,
		InvitedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}, callerID)
	if err != nil {
		return Invitation{}, err
	}

	s.notify(ctx, notify.TemplateInvitation, inv)
	return inv, nil
}

// Get returns an invitation visible to the caller with its derived status.
func (s *Service) Get(ctx context.Context, invitationID, callerID uuid.UUID) (Invitation, error) {
	if invitationID == uuid.Nil || callerID == uuid.Nil {
		return Invitation{}, ErrNotFound
	}
	inv, err := s.repo.Get(ctx, invitationID, callerID)
	if err != nil {
		return Invitation{}, err
	}
	inv.Status = CurrentStatus(inv, s.clock())
	return inv, nil
}

// List returns the organization's invitations with derived statuses.
func (s *Service) List(ctx context.Context, orgID, callerID uuid.UUID) ([]Invitation, error) {
	if orgID == uuid.Nil || callerID == uuid.Nil {
		return nil, ErrNotFound
	}
	invs, err := s.repo.List(ctx, orgID, callerID)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	for i := range invs {
		invs[i].Status = CurrentStatus(invs[i], now)
	}
	return invs, nil
}

// Resend extends a pending, non-expired invitation from now and re-notifies
// the invitee. Resending an expired invitation fails; cancel and reinvite.
func (s *Service) Resend(ctx context.Context, invitationID, callerID uuid.UUID) (Invitation, error) {
	if invitationID == uuid.Nil || callerID == uuid.Nil {
		return Invitation{}, ErrNotFound
	}

	now := s.clock()
	inv, err := s.repo.Resend(ctx, invitationID, callerID, now, now.Add(s.ttl))
	if err != nil {
		return Invitation{}, err
	}

	s.notify(ctx, notify.TemplateInvitationResend, inv)
	return inv, nil
}

// Cancel resolves a pending invitation as cancelled.
func (s *Service) Cancel(ctx context.Context, invitationID, callerID uuid.UUID) (Invitation, error) {
	if invitationID == uuid.Nil || callerID == uuid.Nil {
		return Invitation{}, ErrNotFound
	}
	return s.repo.Cancel(ctx, invitationID, callerID, s.clock())
}

// BulkCancel cancels each invitation independently. Ids may span different
// organizations; each is authorized on its own and a failure on one never
// rolls back the others.
func (s *Service) BulkCancel(ctx context.Context, invitationIDs []uuid.UUID, callerID uuid.UUID) []BulkCancelResult {
	results := make([]BulkCancelResult, 0, len(invitationIDs))
	for _, id := range invitationIDs {
		_, err := s.Cancel(ctx, id, callerID)
		results = append(results, BulkCancelResult{InvitationID: id, Err: err})
	}
	return results
}

// Accept marks the invitation accepted and creates the caller's membership
// with the invited role. A double submission surfaces ErrAlreadyAccepted
// instead of duplicating the membership or changing its role again.
func (s *Service) Accept(ctx context.Context, invitationID, acceptingUserID uuid.UUID) (Invitation, error) {
	if invitationID == uuid.Nil || acceptingUserID == uuid.Nil {
		return Invitation{}, ErrNotFound
	}
	return s.repo.Accept(ctx, invitationID, acceptingUserID, s.clock())
}

// notify dispatches a best-effort notification to the invitee after commit.
func (s *Service) notify(ctx context.Context, templateID string, inv Invitation) {
	if err := s.notifier.Send(ctx, templateID, inv.Email, map[string]any{
		"invitationId":   inv.ID.String(),
		"organizationId": inv.OrganizationID.String(),
		"role":           string(inv.Role),
		"expiresAt":      inv.ExpiresAt,
	}); err != nil {
		s.logger.Warn("notification failed",
			zap.String("template_id", templateID),
			zap.Error(err),
		)
	}
}
