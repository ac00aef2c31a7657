package requesttrace

import (
	"context"

	"github.com/google/uuid"

	platformauth "github.com/opsgate-labs/backoffice-core/platform/go/auth"
)

type contextKey string

const (
	ctxAuditInfo contextKey = "BACKOFFICE_REQUEST_TRACE"
)

// ActorKind represents who initiated a request.
type ActorKind string

const (
	ActorKindUser      ActorKind = "user"
	ActorKindAnonymous ActorKind = "anonymous"
	ActorKindSystem    ActorKind = "system"
)

// AuditInfo captures request-scoped metadata needed for traceability and auditing.
// UserID is set only when ActorKind is user; RequestID is optional but encouraged.
type AuditInfo struct {
	ActorKind ActorKind
	UserID    *uuid.UUID
	Email     string
	RequestID string
}

// IntoContext stores the AuditInfo in the provided context.
func IntoContext(ctx context.Context, audit AuditInfo) context.Context {
	return context.WithValue(ctx, ctxAuditInfo, audit)
}

// FromContext extracts the AuditInfo from context, returning false when not present.
func FromContext(ctx context.Context) (AuditInfo, bool) {
	if ctx == nil {
		return AuditInfo{}, false
	}
	v := ctx.Value(ctxAuditInfo)
	if v == nil {
		return AuditInfo{}, false
	}

	audit, ok := v.(AuditInfo)
	return audit, ok
}

// FromContextOrAnonymous returns the AuditInfo stored on the context, or an anonymous record when absent.
func FromContextOrAnonymous(ctx context.Context) AuditInfo {
	if audit, ok := FromContext(ctx); ok {
		return audit
	}
	return Anonymous("")
}

// FromIdentity builds an AuditInfo for an authenticated caller.
func FromIdentity(id platformauth.Identity, requestID string) AuditInfo {
	userID := id.UserID
	return AuditInfo{
		ActorKind: ActorKindUser,
		UserID:    &userID,
		Email:     id.Email,
		RequestID: requestID,
	}
}

// Anonymous builds an AuditInfo for an unauthenticated request.
func Anonymous(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindAnonymous, RequestID: requestID}
}

// System builds an AuditInfo for background jobs such as the sweeper.
func System(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindSystem, RequestID: requestID}
}
