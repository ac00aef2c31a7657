package requesttrace

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	platformauth "github.com/opsgate-labs/backoffice-core/platform/go/auth"
)

func TestFromIdentity(t *testing.T) {
	id := platformauth.Identity{UserID: uuid.New(), Email: "alice@example.test"}

	audit := FromIdentity(id, "req-123")

	require.Equal(t, ActorKindUser, audit.ActorKind)
	require.NotNil(t, audit.UserID)
	require.Equal(t, id.UserID, *audit.UserID)
	require.Equal(t, "alice@example.test", audit.Email)
	require.Equal(t, "req-123", audit.RequestID)
}

func TestContextRoundTrip(t *testing.T) {
	audit := System("job-1")

	ctx := IntoContext(context.Background(), audit)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, audit, got)
}

func TestFromContextOrAnonymous(t *testing.T) {
	audit := FromContextOrAnonymous(context.Background())
	require.Equal(t, ActorKindAnonymous, audit.ActorKind)
	require.Nil(t, audit.UserID)
}
