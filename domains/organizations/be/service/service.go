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
	"github.com/opsgate-labs/backoffice-core/platform/go/requesttrace"
)

// DefaultGracePeriod is the window between soft delete and permanent deletion.
const DefaultGracePeriod = 30 * 24 * time.Hour

// Errors returned by the service layer.
var (
	ErrNotFound            = errors.New("organization not found")
	ErrUnauthorized        = errors.New("caller role insufficient")
	ErrAlreadyDeleted      = errors.New("organization already deleted")
	ErrNotDeleted          = errors.New("organization not deleted")
	ErrGraceElapsed        = errors.New("grace period elapsed")
	ErrInvalidConfirmation = errors.New("confirmation does not match organization name")
)

// Organization represents the domain model for a tenant record.
type Organization struct {
	ID                           uuid.UUID
	Name                         string
	CreatedAt                    time.Time
	DeletedAt                    *time.Time
	DeletedBy                    *uuid.UUID
	DeletionReason               *string
	PermanentDeletionScheduledAt *time.Time
}

// Deleted reports whether the organization is soft-deleted.
func (o Organization) Deleted() bool {
	return o.DeletedAt != nil
}

// Member is a membership row as exposed to callers.
type Member struct {
	OrganizationID uuid.UUID
	UserID         uuid.UUID
	Role           persistence.Role
	Email          string
	CreatedAt      time.Time
}

// Repository abstracts persistence. Every mutating operation re-checks the
// caller's live role and the record's current state inside its own transaction.
type Repository interface {
	Get(ctx context.Context, orgID, callerID uuid.UUID) (Organization, error)
	Members(ctx context.Context, orgID, callerID uuid.UUID) ([]Member, error)
	SoftDelete(ctx context.Context, orgID, callerID uuid.UUID, reason *string, now, scheduledAt time.Time) (Organization, error)
	Restore(ctx context.Context, orgID, callerID uuid.UUID, now time.Time) (Organization, error)
	ForceDelete(ctx context.Context, orgID, callerID uuid.UUID, confirmation string) error
	DeleteDue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// Service owns the tenant deletion lifecycle: soft delete, restore, permanent
// deletion. It never mutates membership roles; that is the transfer manager's job.
type Service struct {
	repo        Repository
	notifier    notify.Notifier
	logger      *zap.Logger
	gracePeriod time.Duration
	clock       func() time.Time
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithGracePeriod overrides the soft-delete grace period.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.gracePeriod = d
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
		panic("organizations repo is required")
	}
	if notifier == nil {
		panic("notifier is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	s := &Service{
		repo:        repo,
		notifier:    notifier,
		logger:      logger,
		gracePeriod: DefaultGracePeriod,
		clock:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the organization as seen by the caller.
func (s *Service) Get(ctx context.Context, orgID, callerID uuid.UUID) (Organization, error) {
	if orgID == uuid.Nil || callerID == uuid.Nil {
		return Organization{}, ErrNotFound
	}
	return s.repo.Get(ctx, orgID, callerID)
}

// Members lists the organization's memberships.
func (s *Service) Members(ctx context.Context, orgID, callerID uuid.UUID) ([]Member, error) {
	if orgID == uuid.Nil || callerID == uuid.Nil {
		return nil, ErrNotFound
	}
	return s.repo.Members(ctx, orgID, callerID)
}

// SoftDelete marks the organization deleted and schedules permanent deletion
// after the grace period. A second call surfaces ErrAlreadyDeleted so racing
// UIs can see the conflict instead of silently succeeding.
func (s *Service) SoftDelete(ctx context.Context, orgID, callerID uuid.UUID, reason *string) (Organization, error) {
	if orgID == uuid.Nil || callerID == uuid.Nil {
		return Organization{}, ErrNotFound
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
	org, err := s.repo.SoftDelete(ctx, orgID, callerID, reason, now, now.Add(s.gracePeriod))
	if err != nil {
		return Organization{}, err
	}

	s.notifyCaller(ctx, notify.TemplateOrgSoftDeleted, map[string]any{
		"organizationId": org.ID.String(),
		"name":           org.Name,
		"restoreBy":      org.PermanentDeletionScheduledAt,
	})
	return org, nil
}

// Restore clears the soft-delete state while the grace period is still open.
func (s *Service) Restore(ctx context.Context, orgID, callerID uuid.UUID) (Organization, error) {
	if orgID == uuid.Nil || callerID == uuid.Nil {
		return Organization{}, ErrNotFound
	}

	org, err := s.repo.Restore(ctx, orgID, callerID, s.clock())
	if err != nil {
		return Organization{}, err
	}

	s.notifyCaller(ctx, notify.TemplateOrgRestored, map[string]any{
		"organizationId": org.ID.String(),
		"name":           org.Name,
	})
	return org, nil
}

// PermanentlyDelete is the explicit force path: the owner destroys the
// organization before the grace period elapses. The confirmation is verified
// by the repository in the deleting transaction, never assumed checked upstream.
func (s *Service) PermanentlyDelete(ctx context.Context, orgID, callerID uuid.UUID, confirmation string) error {
	if orgID == uuid.Nil || callerID == uuid.Nil {
		return ErrNotFound
	}
	if strings.TrimSpace(confirmation) == "" {
		return ErrInvalidConfirmation
	}
	return s.repo.ForceDelete(ctx, orgID, callerID, strings.TrimSpace(confirmation))
}

// SweepDue permanently deletes every organization whose schedule has elapsed.
// Idempotent; the sweeper invokes it on a timer and retries are harmless.
func (s *Service) SweepDue(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := s.repo.DeleteDue(ctx, s.clock())
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.logger.Info("organization permanently deleted", zap.String("organization_id", id.String()))
	}
	return ids, nil
}

// notifyCaller dispatches a best-effort notification to the acting user after
// the transition committed. Failures are logged, never surfaced.
func (s *Service) notifyCaller(ctx context.Context, templateID string, payload map[string]any) {
	audit := requesttrace.FromContextOrAnonymous(ctx)
	if audit.Email == "" {
		return
	}
	if err := s.notifier.Send(ctx, templateID, audit.Email, payload); err != nil {
		s.logger.Warn("notification failed",
			zap.String("template_id", templateID),
			zap.Error(err),
		)
	}
}
