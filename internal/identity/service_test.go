package identity

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aegis-platform/aegis-iam/internal/roles"
	"github.com/aegis-platform/aegis-iam/internal/shared"
	_ "github.com/aegis-platform/aegis-iam/testing"
)

type mockRepository struct {
	users   map[int64]*User
	byIdent map[string]int64
	nextID  int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		users:   make(map[int64]*User),
		byIdent: make(map[string]int64),
		nextID:  1,
	}
}

func (m *mockRepository) Create(ctx context.Context, user User) (int64, error) {
	emailKey := foldIdentifier(user.Email)
	usernameKey := foldIdentifier(user.Username)
	if _, ok := m.byIdent[emailKey]; ok {
		return 0, shared.ErrDuplicateIdentity
	}
	if _, ok := m.byIdent[usernameKey]; ok {
		return 0, shared.ErrDuplicateIdentity
	}
	id := m.nextID
	m.nextID++
	user.ID = id
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.users[id] = &user
	m.byIdent[emailKey] = id
	m.byIdent[usernameKey] = id
	return id, nil
}

func (m *mockRepository) Get(ctx context.Context, id int64) (*User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *user
	copied.Roles = append([]RoleRef(nil), user.Roles...)
	return &copied, nil
}

func (m *mockRepository) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	id, ok := m.byIdent[foldIdentifier(identifier)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return m.Get(ctx, id)
}

func (m *mockRepository) List(ctx context.Context, req ListUsersRequest) ([]User, int, error) {
	var result []User
	for _, user := range m.users {
		result = append(result, *user)
	}
	return result, len(result), nil
}

func (m *mockRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	user, ok := m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (m *mockRepository) UpdateProfile(ctx context.Context, id int64, firstName, lastName string) error {
	user, ok := m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	user.FirstName = firstName
	user.LastName = lastName
	return nil
}

func (m *mockRepository) SetActive(ctx context.Context, id int64, active bool) error {
	user, ok := m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	user.IsActive = active
	return nil
}

func (m *mockRepository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	if user, ok := m.users[id]; ok {
		user.LastLoginAt = at
	}
	return nil
}

func (m *mockRepository) AssignRole(ctx context.Context, userID int64, ref RoleRef) error {
	user, ok := m.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	for _, existing := range user.Roles {
		if existing.RoleName == ref.RoleName {
			return nil
		}
	}
	ref.AssignedAt = time.Now()
	user.Roles = append(user.Roles, ref)
	return nil
}

func (m *mockRepository) RemoveRole(ctx context.Context, userID, roleID int64) error {
	user, ok := m.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	kept := user.Roles[:0]
	for _, ref := range user.Roles {
		if ref.RoleID != roleID {
			kept = append(kept, ref)
		}
	}
	user.Roles = kept
	return nil
}

type mockRoleDirectory struct {
	roles map[int64]*roles.Role
}

func (m *mockRoleDirectory) Get(ctx context.Context, id int64) (*roles.Role, error) {
	role, ok := m.roles[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return role, nil
}

func (m *mockRoleDirectory) GetByName(ctx context.Context, name string) (*roles.Role, error) {
	for _, role := range m.roles {
		if role.Name == name {
			return role, nil
		}
	}
	return nil, shared.ErrNotFound
}

type mockRevoker struct {
	revoked map[int64]int64
}

func (m *mockRevoker) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	if m.revoked == nil {
		m.revoked = make(map[int64]int64)
	}
	m.revoked[userID] += 3
	return 3, nil
}

func newTestService(t *testing.T, repo *mockRepository, roleDir *mockRoleDirectory, revoker *mockRevoker, opts Options) *Service {
	t.Helper()
	if roleDir == nil {
		roleDir = &mockRoleDirectory{roles: map[int64]*roles.Role{}}
	}
	var sessions SessionRevoker
	if revoker != nil {
		sessions = revoker
	}
	logger := slog.Default()
	return NewService(logger, repo, roleDir, sessions, nil, nil, opts)
}

func seedUser(t *testing.T, repo *mockRepository, email, username, password string, active bool) int64 {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	id, err := repo.Create(context.Background(), User{
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
		IsActive:     active,
	})
	require.NoError(t, err)
	return id
}

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	repo := newMockRepository()
	seedUser(t, repo, "active@example.com", "active", "correct-horse", true)
	seedUser(t, repo, "dormant@example.com", "dormant", "correct-horse", false)
	svc := newTestService(t, repo, nil, nil, Options{})

	ctx := context.Background()

	_, errUnknown := svc.Authenticate(ctx, "ghost@example.com", "whatever", "1.2.3.4")
	_, errInactive := svc.Authenticate(ctx, "dormant@example.com", "correct-horse", "1.2.3.4")
	_, errWrongPass := svc.Authenticate(ctx, "active@example.com", "battery-staple", "1.2.3.4")

	require.ErrorIs(t, errUnknown, shared.ErrInvalidCredentials)
	require.ErrorIs(t, errInactive, shared.ErrInvalidCredentials)
	require.ErrorIs(t, errWrongPass, shared.ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errInactive.Error())
	assert.Equal(t, errUnknown.Error(), errWrongPass.Error())
}

func TestAuthenticateMatchesIdentifierCaselessly(t *testing.T) {
	repo := newMockRepository()
	id := seedUser(t, repo, "Admin@Example.COM", "Admin", "correct-horse", true)
	svc := newTestService(t, repo, nil, nil, Options{})

	user, err := svc.Authenticate(context.Background(), "admin@example.com", "correct-horse", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)

	user, err = svc.Authenticate(context.Background(), "ADMIN", "correct-horse", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.False(t, repo.users[id].LastLoginAt.IsZero())
}

func TestRegisterAssignsDefaultRole(t *testing.T) {
	repo := newMockRepository()
	roleDir := &mockRoleDirectory{roles: map[int64]*roles.Role{
		7: {ID: 7, Name: DefaultRoleName, IsSystem: true},
	}}
	svc := newTestService(t, repo, roleDir, nil, Options{})

	user, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "new@example.com",
		Username: "newbie",
		Password: "long-enough-pass",
	})
	require.NoError(t, err)
	require.Len(t, user.Roles, 1)
	assert.Equal(t, DefaultRoleName, user.Roles[0].RoleName)
	assert.True(t, user.IsActive)
}

func TestRegisterToleratesMissingDefaultRole(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo, nil, nil, Options{})

	user, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "new@example.com",
		Username: "newbie",
		Password: "long-enough-pass",
	})
	require.NoError(t, err)
	assert.Empty(t, user.Roles)
}

func TestRegisterRejectsCaselessDuplicates(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo, nil, nil, Options{})
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Email: "dup@example.com", Username: "dup", Password: "long-enough-pass"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterRequest{Email: "DUP@example.com", Username: "other", Password: "long-enough-pass"})
	require.ErrorIs(t, err, shared.ErrDuplicateIdentity)

	_, err = svc.Register(ctx, RegisterRequest{Email: "other@example.com", Username: "DUP", Password: "long-enough-pass"})
	require.ErrorIs(t, err, shared.ErrDuplicateIdentity)
}

func TestAssignRoleIsIdempotent(t *testing.T) {
	repo := newMockRepository()
	roleDir := &mockRoleDirectory{roles: map[int64]*roles.Role{
		3: {ID: 3, Name: "editor"},
	}}
	svc := newTestService(t, repo, roleDir, nil, Options{})
	userID := seedUser(t, repo, "user@example.com", "user1", "correct-horse", true)

	ctx := context.Background()
	user, err := svc.AssignRole(ctx, userID, 3)
	require.NoError(t, err)
	require.Len(t, user.Roles, 1)

	user, err = svc.AssignRole(ctx, userID, 3)
	require.NoError(t, err)
	assert.Len(t, user.Roles, 1)
}

func TestAssignRoleUnknownRole(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo, nil, nil, Options{})
	userID := seedUser(t, repo, "user@example.com", "user1", "correct-horse", true)

	_, err := svc.AssignRole(context.Background(), userID, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRoleNameSnapshotSurvivesRename(t *testing.T) {
	repo := newMockRepository()
	role := &roles.Role{ID: 3, Name: "editor"}
	roleDir := &mockRoleDirectory{roles: map[int64]*roles.Role{3: role}}
	svc := newTestService(t, repo, roleDir, nil, Options{})
	userID := seedUser(t, repo, "user@example.com", "user1", "correct-horse", true)

	ctx := context.Background()
	_, err := svc.AssignRole(ctx, userID, 3)
	require.NoError(t, err)

	role.Name = "writer"

	user, err := svc.Get(ctx, userID)
	require.NoError(t, err)
	require.Len(t, user.Roles, 1)
	assert.Equal(t, "editor", user.Roles[0].RoleName)
	assert.True(t, user.HasRole("editor"))
	assert.False(t, user.HasRole("writer"))
}

func TestRemoveRoleAbsentIsNoOp(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo, nil, nil, Options{})
	userID := seedUser(t, repo, "user@example.com", "user1", "correct-horse", true)

	user, err := svc.RemoveRole(context.Background(), userID, 42)
	require.NoError(t, err)
	assert.Empty(t, user.Roles)
}

func TestChangePasswordVerifiesCurrent(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo, nil, nil, Options{})
	userID := seedUser(t, repo, "user@example.com", "user1", "correct-horse", true)

	err := svc.ChangePassword(context.Background(), userID, ChangePasswordRequest{
		CurrentPassword: "wrong-password",
		NewPassword:     "brand-new-password",
	})
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestChangePasswordRevokesSessionsWhenConfigured(t *testing.T) {
	repo := newMockRepository()
	revoker := &mockRevoker{}
	svc := newTestService(t, repo, nil, revoker, Options{RevokeSessionsOnPasswordChange: true})
	userID := seedUser(t, repo, "user@example.com", "user1", "correct-horse", true)

	err := svc.ChangePassword(context.Background(), userID, ChangePasswordRequest{
		CurrentPassword: "correct-horse",
		NewPassword:     "brand-new-password",
	})
	require.NoError(t, err)
	assert.NotZero(t, revoker.revoked[userID])

	_, err = svc.Authenticate(context.Background(), "user@example.com", "brand-new-password", "1.2.3.4")
	require.NoError(t, err)
}

func TestChangePasswordKeepsSessionsByDefault(t *testing.T) {
	repo := newMockRepository()
	revoker := &mockRevoker{}
	svc := newTestService(t, repo, nil, revoker, Options{})
	userID := seedUser(t, repo, "user@example.com", "user1", "correct-horse", true)

	err := svc.ChangePassword(context.Background(), userID, ChangePasswordRequest{
		CurrentPassword: "correct-horse",
		NewPassword:     "brand-new-password",
	})
	require.NoError(t, err)
	assert.Zero(t, revoker.revoked[userID])
}

func TestDeactivateRevokesSessions(t *testing.T) {
	repo := newMockRepository()
	revoker := &mockRevoker{}
	svc := newTestService(t, repo, nil, revoker, Options{})
	userID := seedUser(t, repo, "user@example.com", "user1", "correct-horse", true)

	require.NoError(t, svc.Deactivate(context.Background(), userID))
	assert.NotZero(t, revoker.revoked[userID])

	_, err := svc.Authenticate(context.Background(), "user@example.com", "correct-horse", "1.2.3.4")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	require.NoError(t, svc.Activate(context.Background(), userID))
	_, err = svc.Authenticate(context.Background(), "user@example.com", "correct-horse", "1.2.3.4")
	require.NoError(t, err)
}
