package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsgate-labs/backoffice-core/domains/transfers/be/handler"
	"github.com/opsgate-labs/backoffice-core/domains/transfers/be/repo"
	"github.com/opsgate-labs/backoffice-core/domains/transfers/be/service"
	"github.com/opsgate-labs/backoffice-core/platform/go/auth"
	"github.com/opsgate-labs/backoffice-core/platform/go/memdb"
	"github.com/opsgate-labs/backoffice-core/platform/go/persistence"
)

type nullNotifier struct{}

func (nullNotifier) Send(context.Context, string, string, map[string]any) error { return nil }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// identityMiddleware stands in for the session middleware in tests.
func identityMiddleware(id auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), id)))
		})
	}
}

type testEnv struct {
	store *memdb.Store
	orgID uuid.UUID
	owner uuid.UUID
	admin uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	env := &testEnv{
		store: memdb.NewStore(),
		orgID: uuid.New(),
		owner: uuid.New(),
		admin: uuid.New(),
	}
	_, err := env.store.CreateWithOwner(ctx, persistence.OrganizationRecord{
		OrganizationID: env.orgID,
		Name:           "Acme",
		CreatedAt:      time.Now().UTC(),
	}, env.owner, "owner@acme.test")
	require.NoError(t, err)
	_, err = env.store.AddMember(ctx, persistence.MembershipRecord{
		OrganizationID: env.orgID, UserID: env.admin, Role: persistence.RoleAdmin,
		Email: "admin@acme.test", CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return env
}

func (env *testEnv) router(caller uuid.UUID, email string) http.Handler {
	svc := service.New(repo.NewMemoryRepository(env.store), nullNotifier{}, zap.NewNop())
	h := handler.New(svc, zap.NewNop())

	r := chi.NewRouter()
	r.Use(identityMiddleware(auth.Identity{UserID: caller, Email: email}))
	h.MountOrganizationRoutes(r)
	h.MountTransferRoutes(r)
	return r
}

func postJSON(t *testing.T, router http.Handler, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestInitiateEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("owner gets a created envelope", func(t *testing.T) {
		router := env.router(env.owner, "owner@acme.test")

		rec, resp := postJSON(t, router, "/orgs/"+env.orgID.String()+"/transfers", map[string]any{
			"newOwnerId": env.admin,
		})
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.True(t, resp.Success)
		assert.Nil(t, resp.Error)

		var data struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &data))
		assert.Equal(t, "pending", data.Status)
	})

	t.Run("second initiate returns the pending conflict code", func(t *testing.T) {
		router := env.router(env.owner, "owner@acme.test")

		rec, resp := postJSON(t, router, "/orgs/"+env.orgID.String()+"/transfers", map[string]any{
			"newOwnerId": env.admin,
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "TRANSFER_ALREADY_PENDING", resp.Error.Code)
	})

	t.Run("admin is forbidden", func(t *testing.T) {
		router := env.router(env.admin, "admin@acme.test")

		rec, resp := postJSON(t, router, "/orgs/"+env.orgID.String()+"/transfers", map[string]any{
			"newOwnerId": env.owner,
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
	})

	t.Run("missing body field is a validation error", func(t *testing.T) {
		router := env.router(env.owner, "owner@acme.test")

		rec, resp := postJSON(t, router, "/orgs/"+env.orgID.String()+"/transfers", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	})
}

func TestAcceptEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ownerRouter := env.router(env.owner, "owner@acme.test")
	adminRouter := env.router(env.admin, "admin@acme.test")

	_, created := postJSON(t, ownerRouter, "/orgs/"+env.orgID.String()+"/transfers", map[string]any{
		"newOwnerId": env.admin,
	})
	var data struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(created.Data, &data))

	t.Run("the initiator cannot accept their own transfer", func(t *testing.T) {
		rec, resp := postJSON(t, ownerRouter, "/transfers/"+data.ID.String()+"/accept", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "NOT_INTENDED_RECIPIENT", resp.Error.Code)
	})

	t.Run("the recipient accepts", func(t *testing.T) {
		rec, resp := postJSON(t, adminRouter, "/transfers/"+data.ID.String()+"/accept", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, resp.Success)
	})

	t.Run("a second accept is a state conflict", func(t *testing.T) {
		rec, resp := postJSON(t, adminRouter, "/transfers/"+data.ID.String()+"/accept", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "INVALID_STATE", resp.Error.Code)
	})
}

func TestUnknownTransfer(t *testing.T) {
	env := newTestEnv(t)
	router := env.router(env.owner, "owner@acme.test")

	req := httptest.NewRequest(http.MethodGet, "/transfers/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}
