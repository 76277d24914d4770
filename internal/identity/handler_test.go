package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-platform/aegis-iam/internal/observability"
	"github.com/aegis-platform/aegis-iam/internal/sessions"
	"github.com/aegis-platform/aegis-iam/internal/shared"
)

type memorySessionRepo struct {
	sessions map[uuid.UUID]*sessions.Session
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{sessions: make(map[uuid.UUID]*sessions.Session)}
}

func (m *memorySessionRepo) Create(ctx context.Context, session sessions.Session) error {
	m.sessions[session.ID] = &session
	return nil
}

func (m *memorySessionRepo) Find(ctx context.Context, id uuid.UUID, userID int64, tokenHash string, now time.Time) (*sessions.Session, error) {
	session, ok := m.sessions[id]
	if !ok || session.UserID != userID || session.TokenHash != tokenHash ||
		!session.IsActive || !session.ExpiresAt.After(now) {
		return nil, shared.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *memorySessionRepo) ListForUser(ctx context.Context, userID int64, now time.Time) ([]sessions.Session, error) {
	var result []sessions.Session
	for _, session := range m.sessions {
		if session.UserID == userID && session.IsActive && session.ExpiresAt.After(now) {
			result = append(result, *session)
		}
	}
	return result, nil
}

func (m *memorySessionRepo) CountForUser(ctx context.Context, userID int64, now time.Time) (int, error) {
	list, _ := m.ListForUser(ctx, userID, now)
	return len(list), nil
}

func (m *memorySessionRepo) Revoke(ctx context.Context, id uuid.UUID) error {
	if session, ok := m.sessions[id]; ok {
		session.IsActive = false
	}
	return nil
}

func (m *memorySessionRepo) RevokeOldestForUser(ctx context.Context, userID int64, keep int) (int64, error) {
	return 0, nil
}

func (m *memorySessionRepo) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	var revoked int64
	for _, session := range m.sessions {
		if session.UserID == userID && session.IsActive {
			session.IsActive = false
			revoked++
		}
	}
	return revoked, nil
}

func (m *memorySessionRepo) DeleteDefunct(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type noopGuard struct{}

func (noopGuard) RequireAny(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

func (noopGuard) RequireAll(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

func newTestHandler(t *testing.T, repo *mockRepository) (*Handler, *sessions.Manager, *observability.Metrics) {
	t.Helper()
	svc := newTestService(t, repo, nil, nil, Options{})
	codec := sessions.NewTokenCodec("test-secret", time.Hour)
	manager := sessions.NewManager(slog.Default(), newMemorySessionRepo(), codec, 0)
	metrics := observability.NewMetrics()
	return NewHandler(slog.Default(), svc, manager, noopGuard{}, metrics), manager, metrics
}

func TestLoginIssuesToken(t *testing.T) {
	repo := newMockRepository()
	seedUser(t, repo, "user@example.com", "user1", "correct-horse", true)
	handler, manager, _ := newTestHandler(t, repo)

	r := chi.NewRouter()
	handler.MountPublicRoutes(r)

	body := `{"identifier":"USER@example.com","password":"correct-horse"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	assert.Equal(t, "user1", resp.User.Username)

	session, ok := manager.Validate(context.Background(), resp.Token)
	require.True(t, ok)
	assert.Equal(t, resp.User.ID, session.UserID)
}

func TestLoginFailureIsGeneric(t *testing.T) {
	repo := newMockRepository()
	seedUser(t, repo, "user@example.com", "user1", "correct-horse", true)
	handler, _, _ := newTestHandler(t, repo)

	r := chi.NewRouter()
	handler.MountPublicRoutes(r)

	for _, body := range []string{
		`{"identifier":"ghost@example.com","password":"correct-horse"}`,
		`{"identifier":"user@example.com","password":"wrong"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		require.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "invalid credentials")
		assert.NotContains(t, rr.Body.String(), "ghost")
	}
}

func TestLoginOutcomesAreCounted(t *testing.T) {
	repo := newMockRepository()
	seedUser(t, repo, "user@example.com", "user1", "correct-horse", true)
	handler, _, metrics := newTestHandler(t, repo)

	r := chi.NewRouter()
	handler.MountPublicRoutes(r)

	for _, body := range []string{
		`{"identifier":"user@example.com","password":"correct-horse"}`,
		`{"identifier":"user@example.com","password":"wrong"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
	}

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	assert.Contains(t, body, `aegis_logins_total{outcome="success"} 1`)
	assert.Contains(t, body, `aegis_logins_total{outcome="failure"} 1`)
}

func TestRegisterValidation(t *testing.T) {
	handler, _, _ := newTestHandler(t, newMockRepository())

	r := chi.NewRouter()
	handler.MountPublicRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email":"not-an-email","username":"x","password":"short"}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestLogoutRevokesSession(t *testing.T) {
	repo := newMockRepository()
	userID := seedUser(t, repo, "user@example.com", "user1", "correct-horse", true)
	handler, manager, _ := newTestHandler(t, repo)

	issued, err := manager.Issue(context.Background(), userID, "", "")
	require.NoError(t, err)

	r := chi.NewRouter()
	handler.MountProtectedRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	_, ok := manager.Validate(context.Background(), issued.Token)
	assert.False(t, ok)
}
