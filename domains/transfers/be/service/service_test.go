package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsgate-labs/backoffice-core/domains/transfers/be/repo"
	"github.com/opsgate-labs/backoffice-core/domains/transfers/be/service"
	"github.com/opsgate-labs/backoffice-core/platform/go/memdb"
	"github.com/opsgate-labs/backoffice-core/platform/go/persistence"
)

type sentNote struct {
	templateID string
	recipient  string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNote
}

func (n *recordingNotifier) Send(_ context.Context, templateID, recipient string, _ map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNote{templateID: templateID, recipient: recipient})
	return nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fixture struct {
	store    *memdb.Store
	svc      *service.Service
	notifier *recordingNotifier
	clock    *fakeClock

	orgID  uuid.UUID
	owner  uuid.UUID
	admin  uuid.UUID
	member uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store:    memdb.NewStore(),
		notifier: &recordingNotifier{},
		clock:    &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		orgID:    uuid.New(),
		owner:    uuid.New(),
		admin:    uuid.New(),
		member:   uuid.New(),
	}

	_, err := f.store.CreateWithOwner(ctx, persistence.OrganizationRecord{
		OrganizationID: f.orgID,
		Name:           "Acme",
		CreatedAt:      f.clock.now,
	}, f.owner, "owner@acme.test")
	require.NoError(t, err)

	_, err = f.store.AddMember(ctx, persistence.MembershipRecord{
		OrganizationID: f.orgID, UserID: f.admin, Role: persistence.RoleAdmin,
		Email: "admin@acme.test", CreatedAt: f.clock.now,
	})
	require.NoError(t, err)
	_, err = f.store.AddMember(ctx, persistence.MembershipRecord{
		OrganizationID: f.orgID, UserID: f.member, Role: persistence.RoleMember,
		Email: "member@acme.test", CreatedAt: f.clock.now,
	})
	require.NoError(t, err)

	f.svc = service.New(
		repo.NewMemoryRepository(f.store),
		f.notifier,
		zap.NewNop(),
		service.WithClock(f.clock.Now),
	)
	return f
}

func TestCurrentStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pending := service.Transfer{Status: service.StatusPending, ExpiresAt: now.Add(time.Hour)}

	assert.Equal(t, service.StatusPending, service.CurrentStatus(pending, now))
	assert.Equal(t, service.StatusExpired, service.CurrentStatus(pending, now.Add(time.Hour)))
	assert.Equal(t, service.StatusExpired, service.CurrentStatus(pending, now.Add(2*time.Hour)))

	cancelled := service.Transfer{Status: service.StatusCancelled, ExpiresAt: now.Add(-time.Hour)}
	assert.Equal(t, service.StatusCancelled, service.CurrentStatus(cancelled, now))
}

func TestInitiate(t *testing.T) {
	ctx := context.Background()

	t.Run("owner initiates and recipient is notified", func(t *testing.T) {
		f := newFixture(t)

		tr, err := f.svc.Initiate(ctx, f.orgID, f.admin, f.owner, nil)
		require.NoError(t, err)
		assert.Equal(t, service.StatusPending, tr.Status)
		assert.Equal(t, f.owner, tr.FromUserID)
		assert.Equal(t, f.admin, tr.ToUserID)
		assert.Equal(t, f.clock.now.Add(service.DefaultExpiry), tr.ExpiresAt)

		require.Len(t, f.notifier.sent, 1)
		assert.Equal(t, "admin@acme.test", f.notifier.sent[0].recipient)
	})

	t.Run("second pending transfer is rejected until the first resolves", func(t *testing.T) {
		f := newFixture(t)

		first, err := f.svc.Initiate(ctx, f.orgID, f.admin, f.owner, nil)
		require.NoError(t, err)

		_, err = f.svc.Initiate(ctx, f.orgID, f.member, f.owner, nil)
		assert.ErrorIs(t, err, service.ErrAlreadyPending)

		_, err = f.svc.Cancel(ctx, first.ID, f.owner)
		require.NoError(t, err)

		_, err = f.svc.Initiate(ctx, f.orgID, f.member, f.owner, nil)
		assert.NoError(t, err)
	})

	t.Run("only the owner may initiate", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Initiate(ctx, f.orgID, f.member, f.admin, nil)
		assert.ErrorIs(t, err, service.ErrUnauthorized)
	})

	t.Run("non-members cannot see the organization", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Initiate(ctx, f.orgID, f.admin, uuid.New(), nil)
		assert.ErrorIs(t, err, service.ErrNotFound)
	})

	t.Run("recipient must be a different member", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Initiate(ctx, f.orgID, f.owner, f.owner, nil)
		assert.ErrorIs(t, err, service.ErrInvalidState)

		_, err = f.svc.Initiate(ctx, f.orgID, uuid.New(), f.owner, nil)
		assert.ErrorIs(t, err, service.ErrNotFound)
	})
}

func TestAccept(t *testing.T) {
	ctx := context.Background()

	t.Run("accept swaps the owner and admin roles atomically", func(t *testing.T) {
		f := newFixture(t)

		tr, err := f.svc.Initiate(ctx, f.orgID, f.admin, f.owner, nil)
		require.NoError(t, err)

		accepted, err := f.svc.Accept(ctx, tr.ID, f.admin)
		require.NoError(t, err)
		assert.Equal(t, service.StatusAccepted, accepted.Status)
		require.NotNil(t, accepted.ResolvedAt)

		newOwnerRole, err := f.store.RoleOf(ctx, f.orgID, f.admin)
		require.NoError(t, err)
		assert.Equal(t, persistence.RoleOwner, newOwnerRole)

		oldOwnerRole, err := f.store.RoleOf(ctx, f.orgID, f.owner)
		require.NoError(t, err)
		assert.Equal(t, persistence.RoleAdmin, oldOwnerRole)

		// The demoted owner no longer holds transfer rights.
		_, err = f.svc.Initiate(ctx, f.orgID, f.member, f.owner, nil)
		assert.ErrorIs(t, err, service.ErrUnauthorized)

		// The new owner does.
		_, err = f.svc.Initiate(ctx, f.orgID, f.member, f.admin, nil)
		assert.NoError(t, err)
	})

	t.Run("only the designated recipient can accept", func(t *testing.T) {
		f := newFixture(t)

		tr, err := f.svc.Initiate(ctx, f.orgID, f.admin, f.owner, nil)
		require.NoError(t, err)

		_, err = f.svc.Accept(ctx, tr.ID, f.member)
		assert.ErrorIs(t, err, service.ErrNotIntendedRecipient)

		// The initiating owner is no exception.
		_, err = f.svc.Accept(ctx, tr.ID, f.owner)
		assert.ErrorIs(t, err, service.ErrNotIntendedRecipient)

		role, err := f.store.RoleOf(ctx, f.orgID, f.owner)
		require.NoError(t, err)
		assert.Equal(t, persistence.RoleOwner, role)
	})

	t.Run("double accept fails and leaves roles untouched", func(t *testing.T) {
		f := newFixture(t)

		tr, err := f.svc.Initiate(ctx, f.orgID, f.admin, f.owner, nil)
		require.NoError(t, err)

		_, err = f.svc.Accept(ctx, tr.ID, f.admin)
		require.NoError(t, err)

		_, err = f.svc.Accept(ctx, tr.ID, f.admin)
		assert.ErrorIs(t, err, service.ErrInvalidState)

		role, err := f.store.RoleOf(ctx, f.orgID, f.admin)
		require.NoError(t, err)
		assert.Equal(t, persistence.RoleOwner, role)
	})

	t.Run("accept after expiry is rejected", func(t *testing.T) {
		f := newFixture(t)

		tr, err := f.svc.Initiate(ctx, f.orgID, f.admin, f.owner, nil)
		require.NoError(t, err)

		f.clock.now = f.clock.now.Add(service.DefaultExpiry + time.Minute)
		_, err = f.svc.Accept(ctx, tr.ID, f.admin)
		assert.ErrorIs(t, err, service.ErrExpired)

		role, err := f.store.RoleOf(ctx, f.orgID, f.owner)
		require.NoError(t, err)
		assert.Equal(t, persistence.RoleOwner, role)
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("owner cancels a pending transfer", func(t *testing.T) {
		f := newFixture(t)

		tr, err := f.svc.Initiate(ctx, f.orgID, f.admin, f.owner, nil)
		require.NoError(t, err)

		cancelled, err := f.svc.Cancel(ctx, tr.ID, f.owner)
		require.NoError(t, err)
		assert.Equal(t, service.StatusCancelled, cancelled.Status)

		_, err = f.svc.Cancel(ctx, tr.ID, f.owner)
		assert.ErrorIs(t, err, service.ErrInvalidState)
	})

	t.Run("expired transfers cannot be cancelled", func(t *testing.T) {
		f := newFixture(t)

		tr, err := f.svc.Initiate(ctx, f.orgID, f.admin, f.owner, nil)
		require.NoError(t, err)

		f.clock.now = f.clock.now.Add(service.DefaultExpiry + time.Minute)
		_, err = f.svc.Cancel(ctx, tr.ID, f.owner)
		assert.ErrorIs(t, err, service.ErrInvalidState)
	})

	t.Run("admins cannot cancel", func(t *testing.T) {
		f := newFixture(t)

		tr, err := f.svc.Initiate(ctx, f.orgID, f.admin, f.owner, nil)
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, tr.ID, f.admin)
		assert.ErrorIs(t, err, service.ErrUnauthorized)
	})
}

func TestGetAndList(t *testing.T) {
	ctx := context.Background()

	t.Run("stored pending rows read back expired after the deadline", func(t *testing.T) {
		f := newFixture(t)

		tr, err := f.svc.Initiate(ctx, f.orgID, f.admin, f.owner, nil)
		require.NoError(t, err)

		f.clock.now = f.clock.now.Add(service.DefaultExpiry + time.Minute)

		got, err := f.svc.Get(ctx, tr.ID, f.owner)
		require.NoError(t, err)
		assert.Equal(t, service.StatusExpired, got.Status)

		list, err := f.svc.List(ctx, f.orgID, f.owner)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, service.StatusExpired, list[0].Status)
	})

	t.Run("uninvolved members cannot read a transfer", func(t *testing.T) {
		f := newFixture(t)

		tr, err := f.svc.Initiate(ctx, f.orgID, f.admin, f.owner, nil)
		require.NoError(t, err)

		_, err = f.svc.Get(ctx, tr.ID, f.member)
		assert.ErrorIs(t, err, service.ErrNotFound)
	})
}
