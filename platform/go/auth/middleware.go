package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/opsgate-labs/backoffice-core/platform/go/respond"
)

// Middleware verifies the bearer token on every request and stores the caller
// identity on the context. Requests without a valid session are rejected
// before any handler runs.
func Middleware(sessions *Sessions, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "missing bearer token")
				return
			}

			claims, err := sessions.Verify(token)
			if err != nil {
				logger.Debug("session token rejected", zap.Error(err))
				respond.Error(w, http.StatusUnauthorized, respond.CodeUnauthorized, "invalid session token")
				return
			}

			ctx := ContextWithIdentity(r.Context(), Identity{
				UserID: claims.UserID(),
				Email:  claims.Email,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
