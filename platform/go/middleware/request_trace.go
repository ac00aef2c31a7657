package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformauth "github.com/opsgate-labs/backoffice-core/platform/go/auth"
	platformlogging "github.com/opsgate-labs/backoffice-core/platform/go/logging"
	"github.com/opsgate-labs/backoffice-core/platform/go/requesttrace"
)

// RequestTrace populates the context with request-scoped AuditInfo so services can stamp audit fields.
// It should run after authentication middleware so the caller identity is available when present.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := platformlogging.FromRequest(r, nil)
		requestID, _ := r.Context().Value(middleware.RequestIDKey).(string)

		var audit requesttrace.AuditInfo
		if id, ok := platformauth.IdentityFromContext(r.Context()); ok {
			audit = requesttrace.FromIdentity(id, requestID)
		} else {
			audit = requesttrace.Anonymous(requestID)
		}

		ctx := requesttrace.IntoContext(r.Context(), audit)
		if logger != nil {
			fields := []zap.Field{zap.String("actor_kind", string(audit.ActorKind))}
			if audit.UserID != nil {
				fields = append(fields, zap.String("user_id", audit.UserID.String()))
			}
			logger = logger.With(fields...)
			ctx = platformlogging.WithLogger(ctx, logger)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
