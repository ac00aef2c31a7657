// Package memdb is an in-memory mirror of the persistence stores, used by the
// domain memory repositories for tests and early development. It enforces the
// same preconditions and returns the same sentinel errors as the Postgres
// stores, with a single mutex standing in for the transactional boundary.
package memdb

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsgate-labs/backoffice-core/platform/go/persistence"
)

// Store holds all four tables behind one lock so multi-row transitions are atomic.
type Store struct {
	mu          sync.Mutex
	orgs        map[uuid.UUID]persistence.OrganizationRecord
	memberships map[uuid.UUID]map[uuid.UUID]persistence.MembershipRecord
	transfers   map[uuid.UUID]persistence.TransferRecord
	invitations map[uuid.UUID]persistence.InvitationRecord
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		orgs:        make(map[uuid.UUID]persistence.OrganizationRecord),
		memberships: make(map[uuid.UUID]map[uuid.UUID]persistence.MembershipRecord),
		transfers:   make(map[uuid.UUID]persistence.TransferRecord),
		invitations: make(map[uuid.UUID]persistence.InvitationRecord),
	}
}

// CreateWithOwner inserts an organization with its owner membership.
func (s *Store) CreateWithOwner(_ context.Context, rec persistence.OrganizationRecord, ownerID uuid.UUID, ownerEmail string) (persistence.OrganizationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.orgs[rec.OrganizationID] = rec
	s.memberships[rec.OrganizationID] = map[uuid.UUID]persistence.MembershipRecord{
		ownerID: {
			OrganizationID: rec.OrganizationID,
			UserID:         ownerID,
			Role:           persistence.RoleOwner,
			Email:          normalizeEmail(ownerEmail),
			CreatedAt:      rec.CreatedAt,
		},
	}
	return rec, nil
}

// AddMember inserts a membership row.
func (s *Store) AddMember(_ context.Context, rec persistence.MembershipRecord) (persistence.MembershipRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.memberships[rec.OrganizationID]
	if !ok {
		return persistence.MembershipRecord{}, persistence.ErrNotFound
	}
	if _, exists := members[rec.UserID]; exists {
		return persistence.MembershipRecord{}, persistence.ErrAlreadyMember
	}
	rec.Email = normalizeEmail(rec.Email)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	members[rec.UserID] = rec
	return rec, nil
}

// RoleOf returns the member's current role.
func (s *Store) RoleOf(_ context.Context, orgID, userID uuid.UUID) (persistence.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roleOfLocked(orgID, userID)
}

// EmailOf returns the member's email.
func (s *Store) EmailOf(_ context.Context, orgID, userID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.memberships[orgID][userID]
	if !ok {
		return "", persistence.ErrNotFound
	}
	return rec.Email, nil
}

// ListMembers returns memberships ordered by join date.
func (s *Store) ListMembers(_ context.Context, orgID, callerID uuid.UUID) ([]persistence.MembershipRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.requireRoleLocked(orgID, callerID,
		persistence.RoleOwner, persistence.RoleAdmin, persistence.RoleManager, persistence.RoleMember); err != nil {
		return nil, err
	}

	var out []persistence.MembershipRecord
	for _, rec := range s.memberships[orgID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetOrganization returns the organization visible to the caller.
func (s *Store) GetOrganization(_ context.Context, orgID, callerID uuid.UUID) (persistence.OrganizationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.requireRoleLocked(orgID, callerID,
		persistence.RoleOwner, persistence.RoleAdmin, persistence.RoleManager, persistence.RoleMember); err != nil {
		return persistence.OrganizationRecord{}, err
	}
	return s.orgs[orgID], nil
}

// SoftDelete marks the organization deleted and cancels pending work.
func (s *Store) SoftDelete(_ context.Context, orgID, callerID uuid.UUID, reason *string, now, scheduledAt time.Time) (persistence.OrganizationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.requireRoleLocked(orgID, callerID, persistence.RoleOwner); err != nil {
		return persistence.OrganizationRecord{}, err
	}

	org := s.orgs[orgID]
	if org.DeletedAt != nil {
		return persistence.OrganizationRecord{}, persistence.ErrAlreadyDeleted
	}

	deletedAt := now
	org.DeletedAt = &deletedAt
	org.DeletedBy = &callerID
	org.DeletionReason = reason
	scheduled := scheduledAt
	org.PermanentDeletionScheduledAt = &scheduled
	s.orgs[orgID] = org

	resolved := now
	for id, tr := range s.transfers {
		if tr.OrganizationID == orgID && tr.Status == persistence.TransferPending {
			tr.Status = persistence.TransferCancelled
			tr.ResolvedAt = &resolved
			s.transfers[id] = tr
		}
	}
	for id, inv := range s.invitations {
		if inv.OrganizationID == orgID && inv.Status == persistence.InvitationPending {
			inv.Status = persistence.InvitationCancelled
			inv.ResolvedAt = &resolved
			s.invitations[id] = inv
		}
	}
	return org, nil
}

// Restore clears the soft-delete fields while the grace period is open.
func (s *Store) Restore(_ context.Context, orgID, callerID uuid.UUID, now time.Time) (persistence.OrganizationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.requireRoleLocked(orgID, callerID, persistence.RoleOwner); err != nil {
		return persistence.OrganizationRecord{}, err
	}

	org := s.orgs[orgID]
	if org.DeletedAt == nil {
		return persistence.OrganizationRecord{}, persistence.ErrNotDeleted
	}
	if org.PermanentDeletionScheduledAt != nil && !org.PermanentDeletionScheduledAt.After(now) {
		return persistence.OrganizationRecord{}, persistence.ErrGraceElapsed
	}

	org.DeletedAt = nil
	org.DeletedBy = nil
	org.DeletionReason = nil
	org.PermanentDeletionScheduledAt = nil
	s.orgs[orgID] = org
	return org, nil
}

// ForceDelete removes the organization and everything attached to it.
func (s *Store) ForceDelete(_ context.Context, orgID, callerID uuid.UUID, confirmName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.requireRoleLocked(orgID, callerID, persistence.RoleOwner); err != nil {
		return err
	}
	if s.orgs[orgID].Name != confirmName {
		return persistence.ErrConfirmationMismatch
	}
	s.purgeLocked(orgID)
	return nil
}

// DeleteDue removes organizations whose permanent deletion is due.
func (s *Store) DeleteDue(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for id, org := range s.orgs {
		if org.DeletedAt != nil && org.PermanentDeletionScheduledAt != nil && !org.PermanentDeletionScheduledAt.After(now) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		s.purgeLocked(id)
	}
	return ids, nil
}

// InitiateTransfer inserts a pending transfer under the same preconditions as
// the Postgres store.
func (s *Store) InitiateTransfer(_ context.Context, rec persistence.TransferRecord, callerID uuid.UUID) (persistence.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireActiveOrgLocked(rec.OrganizationID); err != nil {
		return persistence.TransferRecord{}, err
	}
	if _, err := s.requireRoleLocked(rec.OrganizationID, callerID, persistence.RoleOwner); err != nil {
		return persistence.TransferRecord{}, err
	}

	recipientRole, err := s.roleOfLocked(rec.OrganizationID, rec.ToUserID)
	if err != nil {
		// Unknown recipient reads the same as an unknown organization.
		return persistence.TransferRecord{}, persistence.ErrNotFound
	}
	if recipientRole == persistence.RoleOwner {
		return persistence.TransferRecord{}, persistence.ErrInvalidState
	}

	for _, tr := range s.transfers {
		if tr.OrganizationID == rec.OrganizationID && tr.Status == persistence.TransferPending {
			return persistence.TransferRecord{}, persistence.ErrTransferPending
		}
	}

	rec.FromUserID = callerID
	rec.Status = persistence.TransferPending
	s.transfers[rec.TransferID] = rec
	return rec, nil
}

// GetTransfer returns a transfer visible to the caller.
func (s *Store) GetTransfer(_ context.Context, transferID, callerID uuid.UUID) (persistence.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.transfers[transferID]
	if !ok {
		return persistence.TransferRecord{}, persistence.ErrNotFound
	}
	if rec.FromUserID != callerID && rec.ToUserID != callerID {
		if _, err := s.requireRoleLocked(rec.OrganizationID, callerID, persistence.RoleOwner, persistence.RoleAdmin); err != nil {
			return persistence.TransferRecord{}, persistence.ErrNotFound
		}
	}
	return rec, nil
}

// ListTransfers returns the organization's transfers, newest first.
func (s *Store) ListTransfers(_ context.Context, orgID, callerID uuid.UUID) ([]persistence.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.requireRoleLocked(orgID, callerID, persistence.RoleOwner, persistence.RoleAdmin); err != nil {
		return nil, err
	}

	var out []persistence.TransferRecord
	for _, rec := range s.transfers {
		if rec.OrganizationID == orgID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CancelTransfer resolves a pending transfer as cancelled.
func (s *Store) CancelTransfer(_ context.Context, transferID, callerID uuid.UUID, now time.Time) (persistence.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.transfers[transferID]
	if !ok {
		return persistence.TransferRecord{}, persistence.ErrNotFound
	}
	if _, err := s.requireRoleLocked(rec.OrganizationID, callerID, persistence.RoleOwner); err != nil {
		return persistence.TransferRecord{}, err
	}
	if rec.Status != persistence.TransferPending || !rec.ExpiresAt.After(now) {
		return persistence.TransferRecord{}, persistence.ErrInvalidState
	}

	rec.Status = persistence.TransferCancelled
	resolved := now
	rec.ResolvedAt = &resolved
	s.transfers[transferID] = rec
	return rec, nil
}

// AcceptTransfer rotates ownership and resolves the transfer atomically.
func (s *Store) AcceptTransfer(_ context.Context, transferID, callerID uuid.UUID, now time.Time) (persistence.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.transfers[transferID]
	if !ok {
		return persistence.TransferRecord{}, persistence.ErrNotFound
	}
	if rec.Status != persistence.TransferPending {
		return persistence.TransferRecord{}, persistence.ErrInvalidState
	}
	if callerID != rec.ToUserID {
		return persistence.TransferRecord{}, persistence.ErrNotIntendedRecipient
	}
	if !rec.ExpiresAt.After(now) {
		return persistence.TransferRecord{}, persistence.ErrTransferExpired
	}
	if err := s.requireActiveOrgLocked(rec.OrganizationID); err != nil {
		return persistence.TransferRecord{}, err
	}

	members := s.memberships[rec.OrganizationID]
	recipient, ok := members[rec.ToUserID]
	if !ok || recipient.Role == persistence.RoleOwner {
		return persistence.TransferRecord{}, persistence.ErrInvalidState
	}

	for id, m := range members {
		if m.Role == persistence.RoleOwner {
			m.Role = persistence.RoleAdmin
			members[id] = m
		}
	}
	recipient.Role = persistence.RoleOwner
	members[rec.ToUserID] = recipient

	rec.Status = persistence.TransferAccepted
	resolved := now
	rec.ResolvedAt = &resolved
	s.transfers[transferID] = rec
	return rec, nil
}

// MarkTransfersExpired catches stored statuses up with derived expiry.
func (s *Store) MarkTransfersExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.transfers {
		if rec.Status == persistence.TransferPending && !rec.ExpiresAt.After(now) {
			rec.Status = persistence.TransferExpired
			resolved := now
			rec.ResolvedAt = &resolved
			s.transfers[id] = rec
			n++
		}
	}
	return n, nil
}

// CreateInvitation inserts a pending invitation under the same preconditions
// as the Postgres store.
func (s *Store) CreateInvitation(_ context.Context, rec persistence.InvitationRecord, callerID uuid.UUID) (persistence.InvitationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireActiveOrgLocked(rec.OrganizationID); err != nil {
		return persistence.InvitationRecord{}, err
	}
	if _, err := s.requireRoleLocked(rec.OrganizationID, callerID, persistence.RoleOwner, persistence.RoleAdmin); err != nil {
		return persistence.InvitationRecord{}, err
	}

	email := normalizeEmail(rec.Email)
	for _, m := range s.memberships[rec.OrganizationID] {
		if m.Email == email {
			return persistence.InvitationRecord{}, persistence.ErrAlreadyMember
		}
	}
	for _, inv := range s.invitations {
		if inv.OrganizationID == rec.OrganizationID && inv.Email == email && inv.Status == persistence.InvitationPending {
			return persistence.InvitationRecord{}, persistence.ErrInvitationExists
		}
	}

	rec.Email = email
	rec.Status = persistence.InvitationPending
	rec.InvitedBy = callerID
	s.invitations[rec.InvitationID] = rec
	return rec, nil
}

// GetInvitation returns an invitation visible to the caller.
func (s *Store) GetInvitation(_ context.Context, invitationID, callerID uuid.UUID) (persistence.InvitationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.invitations[invitationID]
	if !ok {
		return persistence.InvitationRecord{}, persistence.ErrNotFound
	}
	if _, err := s.requireRoleLocked(rec.OrganizationID, callerID, persistence.RoleOwner, persistence.RoleAdmin); err != nil {
		return persistence.InvitationRecord{}, persistence.ErrNotFound
	}
	return rec, nil
}

// ListInvitations returns the organization's invitations, newest first.
func (s *Store) ListInvitations(_ context.Context, orgID, callerID uuid.UUID) ([]persistence.InvitationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.requireRoleLocked(orgID, callerID, persistence.RoleOwner, persistence.RoleAdmin); err != nil {
		return nil, err
	}

	var out []persistence.InvitationRecord
	for _, rec := range s.invitations {
		if rec.OrganizationID == orgID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvitedAt.After(out[j].InvitedAt) })
	return out, nil
}

// ResendInvitation extends a pending, non-expired invitation.
func (s *Store) ResendInvitation(_ context.Context, invitationID, callerID uuid.UUID, now, newExpiresAt time.Time) (persistence.InvitationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.invitations[invitationID]
	if !ok {
		return persistence.InvitationRecord{}, persistence.ErrNotFound
	}
	if err := s.requireActiveOrgLocked(rec.OrganizationID); err != nil {
		return persistence.InvitationRecord{}, err
	}
	if _, err := s.requireRoleLocked(rec.OrganizationID, callerID, persistence.RoleOwner, persistence.RoleAdmin); err != nil {
		return persistence.InvitationRecord{}, err
	}
	if rec.Status != persistence.InvitationPending {
		return persistence.InvitationRecord{}, persistence.ErrInvalidState
	}
	if !rec.ExpiresAt.After(now) {
		return persistence.InvitationRecord{}, persistence.ErrInvitationExpired
	}

	rec.ExpiresAt = newExpiresAt
	s.invitations[invitationID] = rec
	return rec, nil
}

// CancelInvitation resolves a stored-pending invitation as cancelled.
func (s *Store) CancelInvitation(_ context.Context, invitationID, callerID uuid.UUID, now time.Time) (persistence.InvitationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.invitations[invitationID]
	if !ok {
		return persistence.InvitationRecord{}, persistence.ErrNotFound
	}
	if _, err := s.requireRoleLocked(rec.OrganizationID, callerID, persistence.RoleOwner, persistence.RoleAdmin); err != nil {
		return persistence.InvitationRecord{}, err
	}
	if rec.Status != persistence.InvitationPending {
		return persistence.InvitationRecord{}, persistence.ErrInvalidState
	}

	rec.Status = persistence.InvitationCancelled
	resolved := now
	rec.ResolvedAt = &resolved
	s.invitations[invitationID] = rec
	return rec, nil
}

// AcceptInvitation marks the invitation accepted and adds the membership.
func (s *Store) AcceptInvitation(_ context.Context, invitationID, acceptingUserID uuid.UUID, now time.Time) (persistence.InvitationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.invitations[invitationID]
	if !ok {
		return persistence.InvitationRecord{}, persistence.ErrNotFound
	}
	switch rec.Status {
	case persistence.InvitationAccepted:
		return persistence.InvitationRecord{}, persistence.ErrAlreadyAccepted
	case persistence.InvitationCancelled, persistence.InvitationExpired:
		return persistence.InvitationRecord{}, persistence.ErrInvalidState
	}
	if !rec.ExpiresAt.After(now) {
		return persistence.InvitationRecord{}, persistence.ErrInvitationExpired
	}
	if err := s.requireActiveOrgLocked(rec.OrganizationID); err != nil {
		return persistence.InvitationRecord{}, err
	}

	members := s.memberships[rec.OrganizationID]
	if _, exists := members[acceptingUserID]; !exists {
		members[acceptingUserID] = persistence.MembershipRecord{
			OrganizationID: rec.OrganizationID,
			UserID:         acceptingUserID,
			Role:           rec.Role,
			Email:          rec.Email,
			CreatedAt:      now,
		}
	}

	rec.Status = persistence.InvitationAccepted
	resolved := now
	rec.ResolvedAt = &resolved
	s.invitations[invitationID] = rec
	return rec, nil
}

// MarkInvitationsExpired catches stored statuses up with derived expiry.
func (s *Store) MarkInvitationsExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.invitations {
		if rec.Status == persistence.InvitationPending && !rec.ExpiresAt.After(now) {
			rec.Status = persistence.InvitationExpired
			resolved := now
			rec.ResolvedAt = &resolved
			s.invitations[id] = rec
			n++
		}
	}
	return n, nil
}

func (s *Store) roleOfLocked(orgID, userID uuid.UUID) (persistence.Role, error) {
	rec, ok := s.memberships[orgID][userID]
	if !ok {
		return "", persistence.ErrNotFound
	}
	return rec.Role, nil
}

func (s *Store) requireRoleLocked(orgID, callerID uuid.UUID, allowed ...persistence.Role) (persistence.Role, error) {
	role, err := s.roleOfLocked(orgID, callerID)
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if role == a {
			return role, nil
		}
	}
	return role, persistence.ErrUnauthorized
}

func (s *Store) requireActiveOrgLocked(orgID uuid.UUID) error {
	org, ok := s.orgs[orgID]
	if !ok {
		return persistence.ErrNotFound
	}
	if org.DeletedAt != nil {
		return persistence.ErrOrganizationDeleted
	}
	return nil
}

func (s *Store) purgeLocked(orgID uuid.UUID) {
	delete(s.orgs, orgID)
	delete(s.memberships, orgID)
	for id, tr := range s.transfers {
		if tr.OrganizationID == orgID {
			delete(s.transfers, id)
		}
	}
	for id, inv := range s.invitations {
		if inv.OrganizationID == orgID {
			delete(s.invitations, id)
		}
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
