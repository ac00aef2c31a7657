package persistence

import "errors"

// Sentinel errors shared by the stores. Repos translate these into domain
// errors; they never cross the HTTP boundary directly.
var (
	// ErrNotFound covers both a missing record and a caller without any
	// membership in the organization, so outsiders cannot probe for existence.
	ErrNotFound = errors.New("record not found")

	// ErrUnauthorized indicates the caller holds a membership but its live role
	// is insufficient for the operation.
	ErrUnauthorized = errors.New("caller role insufficient")

	// ErrOrganizationDeleted indicates the organization is soft-deleted and
	// must be treated as read-only.
	ErrOrganizationDeleted = errors.New("organization deleted")

	ErrAlreadyDeleted = errors.New("organization already deleted")
	ErrNotDeleted     = errors.New("organization not deleted")
	ErrGraceElapsed   = errors.New("grace period elapsed")

	ErrTransferPending      = errors.New("ownership transfer already pending")
	ErrTransferExpired      = errors.New("ownership transfer expired")
	ErrNotIntendedRecipient = errors.New("caller is not the transfer recipient")

	ErrAlreadyMember     = errors.New("email already belongs to a member")
	ErrInvitationExists  = errors.New("pending invitation already exists")
	ErrInvitationExpired = errors.New("invitation expired")
	ErrAlreadyAccepted   = errors.New("invitation already accepted")

	// ErrConfirmationMismatch indicates the force-delete confirmation does not
	// match the organization name.
	ErrConfirmationMismatch = errors.New("confirmation mismatch")

	// ErrInvalidState indicates the record is already in a terminal state and
	// the requested transition is not possible.
	ErrInvalidState = errors.New("record not in required state")
)
