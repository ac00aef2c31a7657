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

	invrepo "github.com/opsgate-labs/backoffice-core/domains/invitations/be/repo"
	invservice "github.com/opsgate-labs/backoffice-core/domains/invitations/be/service"
	"github.com/opsgate-labs/backoffice-core/domains/organizations/be/repo"
	"github.com/opsgate-labs/backoffice-core/domains/organizations/be/service"
	trrepo "github.com/opsgate-labs/backoffice-core/domains/transfers/be/repo"
	trservice "github.com/opsgate-labs/backoffice-core/domains/transfers/be/service"
	"github.com/opsgate-labs/backoffice-core/platform/go/memdb"
	"github.com/opsgate-labs/backoffice-core/platform/go/persistence"
)

type noopNotifier struct {
	mu   sync.Mutex
	sent int
}

func (n *noopNotifier) Send(context.Context, string, string, map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent++
	return nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fixture struct {
	store *memdb.Store
	svc   *service.Service
	clock *fakeClock

	orgID uuid.UUID
	owner uuid.UUID
	admin uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store: memdb.NewStore(),
		clock: &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		orgID: uuid.New(),
		owner: uuid.New(),
		admin: uuid.New(),
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

	f.svc = service.New(
		repo.NewMemoryRepository(f.store),
		&noopNotifier{},
		zap.NewNop(),
		service.WithClock(f.clock.Now),
	)
	return f
}

func TestSoftDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("owner schedules permanent deletion after the grace period", func(t *testing.T) {
		f := newFixture(t)

		reason := "migrating away"
		org, err := f.svc.SoftDelete(ctx, f.orgID, f.owner, &reason)
		require.NoError(t, err)
		require.NotNil(t, org.DeletedAt)
		require.NotNil(t, org.PermanentDeletionScheduledAt)
		assert.Equal(t, f.clock.now.Add(service.DefaultGracePeriod), *org.PermanentDeletionScheduledAt)
		assert.Equal(t, &f.owner, org.DeletedBy)
		assert.Equal(t, &reason, org.DeletionReason)
	})

	t.Run("deleting twice fails", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.SoftDelete(ctx, f.orgID, f.owner, nil)
		require.NoError(t, err)

		_, err = f.svc.SoftDelete(ctx, f.orgID, f.owner, nil)
		assert.ErrorIs(t, err, service.ErrAlreadyDeleted)
	})

	t.Run("admins cannot delete", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.SoftDelete(ctx, f.orgID, f.admin, nil)
		assert.ErrorIs(t, err, service.ErrUnauthorized)
	})

	t.Run("pending transfers and invitations are cancelled in the same step", func(t *testing.T) {
		f := newFixture(t)
		notifier := &noopNotifier{}

		transfers := trservice.New(trrepo.NewMemoryRepository(f.store), notifier, zap.NewNop(), trservice.WithClock(f.clock.Now))
		invitations := invservice.New(invrepo.NewMemoryRepository(f.store), notifier, zap.NewNop(), invservice.WithClock(f.clock.Now))

		tr, err := transfers.Initiate(ctx, f.orgID, f.admin, f.owner, nil)
		require.NoError(t, err)
		inv, err := invitations.Invite(ctx, f.orgID, "new@acme.test", persistence.RoleMember, f.owner)
		require.NoError(t, err)

		_, err = f.svc.SoftDelete(ctx, f.orgID, f.owner, nil)
		require.NoError(t, err)

		gotTr, err := transfers.Get(ctx, tr.ID, f.owner)
		require.NoError(t, err)
		assert.Equal(t, trservice.StatusCancelled, gotTr.Status)

		gotInv, err := invitations.Get(ctx, inv.ID, f.owner)
		require.NoError(t, err)
		assert.Equal(t, invservice.StatusCancelled, gotInv.Status)

		// No new work can start while the organization is deleted.
		_, err = invitations.Invite(ctx, f.orgID, "late@acme.test", persistence.RoleMember, f.owner)
		assert.ErrorIs(t, err, invservice.ErrOrganizationDeleted)
		_, err = transfers.Initiate(ctx, f.orgID, f.admin, f.owner, nil)
		assert.ErrorIs(t, err, trservice.ErrOrganizationDeleted)
	})
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("restore within the grace period clears the schedule", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.SoftDelete(ctx, f.orgID, f.owner, nil)
		require.NoError(t, err)

		f.clock.now = f.clock.now.Add(10 * 24 * time.Hour)
		org, err := f.svc.Restore(ctx, f.orgID, f.owner)
		require.NoError(t, err)
		assert.Nil(t, org.DeletedAt)
		assert.Nil(t, org.PermanentDeletionScheduledAt)
		assert.Nil(t, org.DeletedBy)
		assert.Nil(t, org.DeletionReason)
	})

	t.Run("restore after the grace period fails", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.SoftDelete(ctx, f.orgID, f.owner, nil)
		require.NoError(t, err)

		f.clock.now = f.clock.now.Add(service.DefaultGracePeriod + time.Hour)
		_, err = f.svc.Restore(ctx, f.orgID, f.owner)
		assert.ErrorIs(t, err, service.ErrGraceElapsed)
	})

	t.Run("restoring an active organization fails", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Restore(ctx, f.orgID, f.owner)
		assert.ErrorIs(t, err, service.ErrNotDeleted)
	})
}

func TestPermanentlyDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmation must echo the organization name", func(t *testing.T) {
		f := newFixture(t)

		err := f.svc.PermanentlyDelete(ctx, f.orgID, f.owner, "acme inc")
		assert.ErrorIs(t, err, service.ErrInvalidConfirmation)

		_, err = f.svc.Get(ctx, f.orgID, f.owner)
		assert.NoError(t, err)
	})

	t.Run("matching confirmation destroys the organization", func(t *testing.T) {
		f := newFixture(t)

		err := f.svc.PermanentlyDelete(ctx, f.orgID, f.owner, "Acme")
		require.NoError(t, err)

		_, err = f.svc.Get(ctx, f.orgID, f.owner)
		assert.ErrorIs(t, err, service.ErrNotFound)
	})

	t.Run("empty confirmation is rejected before hitting the store", func(t *testing.T) {
		f := newFixture(t)

		err := f.svc.PermanentlyDelete(ctx, f.orgID, f.owner, "")
		assert.ErrorIs(t, err, service.ErrInvalidConfirmation)
	})
}

func TestSweepDue(t *testing.T) {
	ctx := context.Background()

	t.Run("purges organizations whose schedule has passed", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.SoftDelete(ctx, f.orgID, f.owner, nil)
		require.NoError(t, err)

		// Not due yet.
		purged, err := f.svc.SweepDue(ctx)
		require.NoError(t, err)
		assert.Empty(t, purged)

		f.clock.now = f.clock.now.Add(service.DefaultGracePeriod + time.Hour)
		purged, err = f.svc.SweepDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{f.orgID}, purged)

		_, err = f.svc.Get(ctx, f.orgID, f.owner)
		assert.ErrorIs(t, err, service.ErrNotFound)

		// A second sweep finds nothing left to do.
		purged, err = f.svc.SweepDue(ctx)
		require.NoError(t, err)
		assert.Empty(t, purged)
	})
}

func TestMembers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	members, err := f.svc.Members(ctx, f.orgID, f.owner)
	require.NoError(t, err)
	require.Len(t, members, 2)

	_, err = f.svc.Members(ctx, f.orgID, uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)
}
