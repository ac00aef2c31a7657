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

	"github.com/opsgate-labs/backoffice-core/domains/invitations/be/repo"
	"github.com/opsgate-labs/backoffice-core/domains/invitations/be/service"
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

func TestInvite(t *testing.T) {
	ctx := context.Background()

	t.Run("admin invites and the invitee is notified", func(t *testing.T) {
		f := newFixture(t)

		inv, err := f.svc.Invite(ctx, f.orgID, "New@Acme.test", persistence.RoleMember, f.admin)
		require.NoError(t, err)
		assert.Equal(t, service.StatusPending, inv.Status)
		assert.Equal(t, "new@acme.test", inv.Email)
		assert.Equal(t, f.admin, inv.InvitedBy)
		assert.Equal(t, f.clock.now.Add(service.DefaultTTL), inv.ExpiresAt)

		require.Len(t, f.notifier.sent, 1)
		assert.Equal(t, "new@acme.test", f.notifier.sent[0].recipient)
	})

	t.Run("members cannot invite", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Invite(ctx, f.orgID, "new@acme.test", persistence.RoleMember, f.member)
		assert.ErrorIs(t, err, service.ErrUnauthorized)
	})

	t.Run("invalid email or role is rejected", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Invite(ctx, f.orgID, "not-an-email", persistence.RoleMember, f.owner)
		assert.ErrorIs(t, err, service.ErrInvalidInput)

		_, err = f.svc.Invite(ctx, f.orgID, "new@acme.test", persistence.RoleOwner, f.owner)
		assert.ErrorIs(t, err, service.ErrInvalidInput)

		_, err = f.svc.Invite(ctx, f.orgID, "new@acme.test", persistence.Role("superuser"), f.owner)
		assert.ErrorIs(t, err, service.ErrInvalidInput)
	})

	t.Run("existing members cannot be invited again", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Invite(ctx, f.orgID, "Member@Acme.test", persistence.RoleManager, f.owner)
		assert.ErrorIs(t, err, service.ErrAlreadyMember)
	})

	t.Run("a pending invitation blocks a duplicate until it is cancelled", func(t *testing.T) {
		f := newFixture(t)

		inv, err := f.svc.Invite(ctx, f.orgID, "new@acme.test", persistence.RoleMember, f.owner)
		require.NoError(t, err)

		_, err = f.svc.Invite(ctx, f.orgID, "NEW@acme.test", persistence.RoleManager, f.owner)
		assert.ErrorIs(t, err, service.ErrExists)

		_, err = f.svc.Cancel(ctx, inv.ID, f.owner)
		require.NoError(t, err)

		_, err = f.svc.Invite(ctx, f.orgID, "new@acme.test", persistence.RoleManager, f.owner)
		assert.NoError(t, err)
	})
}

func TestAccept(t *testing.T) {
	ctx := context.Background()

	t.Run("accept creates the membership with the invited role", func(t *testing.T) {
		f := newFixture(t)
		invitee := uuid.New()

		inv, err := f.svc.Invite(ctx, f.orgID, "new@acme.test", persistence.RoleManager, f.owner)
		require.NoError(t, err)

		accepted, err := f.svc.Accept(ctx, inv.ID, invitee)
		require.NoError(t, err)
		assert.Equal(t, service.StatusAccepted, accepted.Status)
		require.NotNil(t, accepted.ResolvedAt)

		role, err := f.store.RoleOf(ctx, f.orgID, invitee)
		require.NoError(t, err)
		assert.Equal(t, persistence.RoleManager, role)
	})

	t.Run("double accept does not change the membership again", func(t *testing.T) {
		f := newFixture(t)
		invitee := uuid.New()

		inv, err := f.svc.Invite(ctx, f.orgID, "new@acme.test", persistence.RoleMember, f.owner)
		require.NoError(t, err)

		_, err = f.svc.Accept(ctx, inv.ID, invitee)
		require.NoError(t, err)

		_, err = f.svc.Accept(ctx, inv.ID, invitee)
		assert.ErrorIs(t, err, service.ErrAlreadyAccepted)

		role, err := f.store.RoleOf(ctx, f.orgID, invitee)
		require.NoError(t, err)
		assert.Equal(t, persistence.RoleMember, role)
	})

	t.Run("accept after expiry fails", func(t *testing.T) {
		f := newFixture(t)

		inv, err := f.svc.Invite(ctx, f.orgID, "new@acme.test", persistence.RoleMember, f.owner)
		require.NoError(t, err)

		f.clock.now = f.clock.now.Add(service.DefaultTTL + time.Minute)
		_, err = f.svc.Accept(ctx, inv.ID, uuid.New())
		assert.ErrorIs(t, err, service.ErrExpired)
	})

	t.Run("accepting a cancelled invitation fails", func(t *testing.T) {
		f := newFixture(t)

		inv, err := f.svc.Invite(ctx, f.orgID, "new@acme.test", persistence.RoleMember, f.owner)
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, inv.ID, f.owner)
		require.NoError(t, err)

		_, err = f.svc.Accept(ctx, inv.ID, uuid.New())
		assert.ErrorIs(t, err, service.ErrInvalidState)
	})
}

func TestResend(t *testing.T) {
	ctx := context.Background()

	t.Run("resend extends the expiry and re-notifies", func(t *testing.T) {
		f := newFixture(t)

		inv, err := f.svc.Invite(ctx, f.orgID, "new@acme.test", persistence.RoleMember, f.owner)
		require.NoError(t, err)

		f.clock.now = f.clock.now.Add(3 * 24 * time.Hour)
		resent, err := f.svc.Resend(ctx, inv.ID, f.owner)
		require.NoError(t, err)
		assert.Equal(t, f.clock.now.Add(service.DefaultTTL), resent.ExpiresAt)
		assert.Len(t, f.notifier.sent, 2)
	})

	t.Run("an expired invitation cannot be resent", func(t *testing.T) {
		f := newFixture(t)

		inv, err := f.svc.Invite(ctx, f.orgID, "new@acme.test", persistence.RoleMember, f.owner)
		require.NoError(t, err)

		f.clock.now = f.clock.now.Add(service.DefaultTTL + time.Minute)
		_, err = f.svc.Resend(ctx, inv.ID, f.owner)
		assert.ErrorIs(t, err, service.ErrExpired)
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("a stored pending invitation can be cancelled even past its expiry", func(t *testing.T) {
		f := newFixture(t)

		inv, err := f.svc.Invite(ctx, f.orgID, "new@acme.test", persistence.RoleMember, f.owner)
		require.NoError(t, err)

		f.clock.now = f.clock.now.Add(service.DefaultTTL + time.Minute)
		cancelled, err := f.svc.Cancel(ctx, inv.ID, f.owner)
		require.NoError(t, err)
		assert.Equal(t, service.StatusCancelled, cancelled.Status)
	})

	t.Run("cancelling twice fails", func(t *testing.T) {
		f := newFixture(t)

		inv, err := f.svc.Invite(ctx, f.orgID, "new@acme.test", persistence.RoleMember, f.owner)
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, inv.ID, f.owner)
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, inv.ID, f.owner)
		assert.ErrorIs(t, err, service.ErrInvalidState)
	})
}

func TestBulkCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("each id is cancelled independently", func(t *testing.T) {
		f := newFixture(t)

		pending, err := f.svc.Invite(ctx, f.orgID, "pending@acme.test", persistence.RoleMember, f.owner)
		require.NoError(t, err)

		accepted, err := f.svc.Invite(ctx, f.orgID, "accepted@acme.test", persistence.RoleMember, f.owner)
		require.NoError(t, err)
		_, err = f.svc.Accept(ctx, accepted.ID, uuid.New())
		require.NoError(t, err)

		unknown := uuid.New()
		results := f.svc.BulkCancel(ctx, []uuid.UUID{pending.ID, accepted.ID, unknown}, f.owner)
		require.Len(t, results, 3)

		assert.NoError(t, results[0].Err)
		assert.ErrorIs(t, results[1].Err, service.ErrInvalidState)
		assert.ErrorIs(t, results[2].Err, service.ErrNotFound)

		got, err := f.svc.Get(ctx, pending.ID, f.owner)
		require.NoError(t, err)
		assert.Equal(t, service.StatusCancelled, got.Status)
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	inv, err := f.svc.Invite(ctx, f.orgID, "new@acme.test", persistence.RoleMember, f.owner)
	require.NoError(t, err)

	f.clock.now = f.clock.now.Add(service.DefaultTTL + time.Minute)
	list, err := f.svc.List(ctx, f.orgID, f.admin)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, inv.ID, list[0].ID)
	assert.Equal(t, service.StatusExpired, list[0].Status)

	_, err = f.svc.List(ctx, f.orgID, f.member)
	assert.ErrorIs(t, err, service.ErrUnauthorized)
}
