package authz

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-platform/aegis-iam/internal/identity"
	"github.com/aegis-platform/aegis-iam/internal/observability"
	"github.com/aegis-platform/aegis-iam/internal/roles"
	"github.com/aegis-platform/aegis-iam/internal/sessions"
	"github.com/aegis-platform/aegis-iam/internal/shared"
	_ "github.com/aegis-platform/aegis-iam/testing"
)

type stubTokens struct {
	sessions map[string]*sessions.Session
}

func (s *stubTokens) Validate(ctx context.Context, token string) (*sessions.Session, bool) {
	session, ok := s.sessions[token]
	return session, ok
}

type stubUsers struct {
	users map[int64]*identity.User
}

func (s *stubUsers) Get(ctx context.Context, id int64) (*identity.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return user, nil
}

type stubGrants struct {
	grants map[int64][]roles.PermissionGrant
}

func (s *stubGrants) GrantsByRoleIDs(ctx context.Context, roleIDs []int64) (map[int64][]roles.PermissionGrant, error) {
	result := make(map[int64][]roles.PermissionGrant)
	for _, id := range roleIDs {
		if grants, ok := s.grants[id]; ok {
			result[id] = grants
		}
	}
	return result, nil
}

func newTestEngine() (*Engine, *stubTokens, *stubUsers, *stubGrants) {
	tokens := &stubTokens{sessions: map[string]*sessions.Session{}}
	users := &stubUsers{users: map[int64]*identity.User{}}
	grants := &stubGrants{grants: map[int64][]roles.PermissionGrant{}}
	return NewEngine(slog.Default(), tokens, users, grants, nil), tokens, users, grants
}

func TestCanResolvesThroughRoleGrants(t *testing.T) {
	engine, _, users, grants := newTestEngine()
	ctx := context.Background()

	users.users[1] = &identity.User{
		ID:       1,
		IsActive: true,
		Roles:    []identity.RoleRef{{RoleID: 10, RoleName: "reader"}},
	}
	grants.grants[10] = []roles.PermissionGrant{
		{PermissionID: 5, Name: "doc:read", Resource: "doc", Action: "read"},
	}

	user := users.users[1]
	assert.True(t, engine.Can(ctx, user, "doc:read"))
	assert.True(t, engine.Can(ctx, user, "DOC:READ"))
	assert.False(t, engine.Can(ctx, user, "doc:write"))
	assert.False(t, engine.Can(ctx, nil, "doc:read"))
	assert.False(t, engine.Can(ctx, user, ""))
}

func TestEffectivePermissionsUnionAcrossRoles(t *testing.T) {
	engine, _, users, grants := newTestEngine()
	ctx := context.Background()

	users.users[1] = &identity.User{
		ID:       1,
		IsActive: true,
		Roles: []identity.RoleRef{
			{RoleID: 10, RoleName: "reader"},
			{RoleID: 11, RoleName: "writer"},
		},
	}
	grants.grants[10] = []roles.PermissionGrant{{PermissionID: 5, Name: "doc:read"}}
	grants.grants[11] = []roles.PermissionGrant{
		{PermissionID: 5, Name: "doc:read"},
		{PermissionID: 6, Name: "doc:write"},
	}

	granted, err := engine.EffectivePermissions(ctx, users.users[1])
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc:read", "doc:write"}, granted)
}

func TestGrantChangesApplyOnNextCheck(t *testing.T) {
	engine, _, users, grants := newTestEngine()
	ctx := context.Background()

	users.users[1] = &identity.User{
		ID:       1,
		IsActive: true,
		Roles:    []identity.RoleRef{{RoleID: 10, RoleName: "reader"}},
	}
	grants.grants[10] = []roles.PermissionGrant{{PermissionID: 5, Name: "doc:read"}}

	user := users.users[1]
	assert.True(t, engine.Can(ctx, user, "doc:read"))

	grants.grants[10] = nil
	assert.False(t, engine.Can(ctx, user, "doc:read"))
}

func TestValidateTokenRejectsInactiveUser(t *testing.T) {
	engine, tokens, users, _ := newTestEngine()
	ctx := context.Background()

	tokens.sessions["good"] = &sessions.Session{ID: uuid.New(), UserID: 1, IsActive: true}
	users.users[1] = &identity.User{ID: 1, IsActive: false}

	_, ok := engine.ValidateToken(ctx, "good")
	assert.False(t, ok)

	users.users[1].IsActive = true
	user, ok := engine.ValidateToken(ctx, "good")
	require.True(t, ok)
	assert.Equal(t, int64(1), user.ID)

	_, ok = engine.ValidateToken(ctx, "bad")
	assert.False(t, ok)
}

func TestHasAnyRoleUsesSnapshots(t *testing.T) {
	engine, _, _, _ := newTestEngine()

	user := &identity.User{Roles: []identity.RoleRef{{RoleID: 10, RoleName: "editor"}}}
	assert.True(t, engine.HasAnyRole(user, "admin", "editor"))
	assert.False(t, engine.HasAnyRole(user, "admin"))
	assert.False(t, engine.HasAnyRole(nil, "admin"))
}

func TestChecksAreCounted(t *testing.T) {
	tokens := &stubTokens{sessions: map[string]*sessions.Session{}}
	users := &stubUsers{users: map[int64]*identity.User{}}
	grants := &stubGrants{grants: map[int64][]roles.PermissionGrant{}}
	metrics := observability.NewMetrics()
	engine := NewEngine(slog.Default(), tokens, users, grants, metrics)
	ctx := context.Background()

	user := &identity.User{ID: 1, IsActive: true, Roles: []identity.RoleRef{{RoleID: 10, RoleName: "reader"}}}
	grants.grants[10] = []roles.PermissionGrant{{PermissionID: 5, Name: "doc:read"}}

	assert.True(t, engine.Can(ctx, user, "doc:read"))
	assert.False(t, engine.Can(ctx, user, "doc:write"))
	assert.False(t, engine.Can(ctx, user, "doc:write"))

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	assert.Contains(t, body, `aegis_authz_checks_total{decision="allow"} 1`)
	assert.Contains(t, body, `aegis_authz_checks_total{decision="deny"} 2`)

	// Middleware decisions feed the same counter.
	mw := Middleware{Engine: engine, Logger: slog.Default()}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	req = req.WithContext(context.WithValue(req.Context(), userContextKey{}, user))
	rr = httptest.NewRecorder()
	mw.RequireAny("doc:read")(next).ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), `aegis_authz_checks_total{decision="allow"} 2`)
}

func TestMiddlewareGuardsRoutes(t *testing.T) {
	engine, tokens, users, grants := newTestEngine()

	tokens.sessions["good"] = &sessions.Session{ID: uuid.New(), UserID: 1, IsActive: true}
	users.users[1] = &identity.User{
		ID:       1,
		IsActive: true,
		Roles:    []identity.RoleRef{{RoleID: 10, RoleName: "reader"}},
	}
	grants.grants[10] = []roles.PermissionGrant{{PermissionID: 5, Name: "doc:read"}}

	mw := Middleware{Engine: engine, Logger: slog.Default()}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	protected := mw.Authenticate(mw.RequireAny("doc:read")(next))

	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	req.Header.Set("Authorization", "Bearer good")
	rr := httptest.NewRecorder()
	protected.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/docs", nil)
	rr = httptest.NewRecorder()
	protected.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/docs", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rr = httptest.NewRecorder()
	protected.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	denied := mw.Authenticate(mw.RequireAll("doc:read", "doc:write")(next))
	req = httptest.NewRequest(http.MethodGet, "/docs", nil)
	req.Header.Set("Authorization", "Bearer good")
	rr = httptest.NewRecorder()
	denied.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
