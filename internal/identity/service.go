package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/aegis-platform/aegis-iam/internal/roles"
	"github.com/aegis-platform/aegis-iam/internal/shared"
)

// DefaultRoleName is auto-assigned to every new registration.
const DefaultRoleName = "user"

// RoleDirectory resolves roles for assignment snapshots.
type RoleDirectory interface {
	Get(ctx context.Context, id int64) (*roles.Role, error)
	GetByName(ctx context.Context, name string) (*roles.Role, error)
}

// SessionRevoker invalidates issued sessions for a user.
type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
}

// Throttle limits repeated failed authentication attempts per identifier.
type Throttle interface {
	Allow(ctx context.Context, identifier, addr string) bool
	RecordFailure(ctx context.Context, identifier, addr string)
	Reset(ctx context.Context, identifier, addr string)
}

// AuditRecorder persists audit trail entries for identity mutations.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Options tunes service behaviour.
type Options struct {
	BcryptCost                     int
	RevokeSessionsOnPasswordChange bool
}

// Service wraps identity store business rules.
type Service struct {
	logger   *slog.Logger
	repo     Repository
	roles    RoleDirectory
	sessions SessionRevoker
	throttle Throttle
	audit    AuditRecorder
	opts     Options
}

// NewService constructs a new Service. sessions and throttle may be nil.
func NewService(logger *slog.Logger, repo Repository, roleDir RoleDirectory, sessions SessionRevoker, throttle Throttle, audit AuditRecorder, opts Options) *Service {
	if opts.BcryptCost < 12 {
		opts.BcryptCost = 12
	}
	return &Service{logger: logger, repo: repo, roles: roleDir, sessions: sessions, throttle: throttle, audit: audit, opts: opts}
}

// Register creates a new account and enrolls it in the default role. A
// missing default role is tolerated; the account is created without it.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("identity: hash password: %w", err)
	}
	user := User{
		Email:        strings.TrimSpace(req.Email),
		Username:     strings.TrimSpace(req.Username),
		PasswordHash: string(hash),
		FirstName:    normalizeName(req.FirstName),
		LastName:     normalizeName(req.LastName),
		IsActive:     true,
	}
	id, err := s.repo.Create(ctx, user)
	if err != nil {
		return nil, err
	}

	if role, err := s.roles.GetByName(ctx, DefaultRoleName); err == nil {
		if err := s.repo.AssignRole(ctx, id, RoleRef{RoleID: role.ID, RoleName: role.Name}); err != nil {
			s.logger.Warn("default role enrollment failed", "user_id", id, "error", err)
		}
	} else if !errors.Is(err, shared.ErrNotFound) {
		s.logger.Warn("default role lookup failed", "error", err)
	}

	s.recordAudit(ctx, "user.register", id, map[string]any{"username": user.Username})
	return s.repo.Get(ctx, id)
}

// Authenticate verifies an email-or-username plus password pair. Unknown
// identifiers, deactivated accounts and wrong passwords all return the same
// ErrInvalidCredentials so callers cannot probe which accounts exist.
func (s *Service) Authenticate(ctx context.Context, identifier, password, remoteAddr string) (*User, error) {
	if s.throttle != nil && !s.throttle.Allow(ctx, identifier, remoteAddr) {
		return nil, shared.ErrInvalidCredentials
	}

	user, err := s.repo.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.recordFailure(ctx, identifier, remoteAddr)
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		s.recordFailure(ctx, identifier, remoteAddr)
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.recordFailure(ctx, identifier, remoteAddr)
		return nil, shared.ErrInvalidCredentials
	}

	if s.throttle != nil {
		s.throttle.Reset(ctx, identifier, remoteAddr)
	}
	if err := s.repo.TouchLastLogin(ctx, user.ID, time.Now()); err != nil {
		s.logger.Warn("last login update failed", "user_id", user.ID, "error", err)
	}
	return user, nil
}

// Get fetches a user by id.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	return s.repo.Get(ctx, id)
}

// FindByIdentifier resolves a user by email or username, matched caselessly.
func (s *Service) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	return s.repo.FindByIdentifier(ctx, identifier)
}

// List returns users matching the filters plus the total count.
func (s *Service) List(ctx context.Context, req ListUsersRequest) ([]User, int, error) {
	return s.repo.List(ctx, req)
}

// AssignRole attaches a role to a user, snapshotting the role name at
// assignment time. Assigning a role the user already holds is a no-op.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) (*User, error) {
	if _, err := s.repo.Get(ctx, userID); err != nil {
		return nil, err
	}
	role, err := s.roles.Get(ctx, roleID)
	if err != nil {
		return nil, err
	}
	ref := RoleRef{RoleID: role.ID, RoleName: role.Name, AssignedBy: shared.ActorFromContext(ctx)}
	if err := s.repo.AssignRole(ctx, userID, ref); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "user.role.assign", userID, map[string]any{"role": role.Name})
	return s.repo.Get(ctx, userID)
}

// RemoveRole detaches a role from a user. Removing a role the user does not
// hold is a no-op.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID int64) (*User, error) {
	if _, err := s.repo.Get(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.repo.RemoveRole(ctx, userID, roleID); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "user.role.remove", userID, map[string]any{"role_id": roleID})
	return s.repo.Get(ctx, userID)
}

// ChangePassword rotates the password after verifying the current one. When
// configured, every issued session for the user is revoked afterwards.
func (s *Service) ChangePassword(ctx context.Context, userID int64, req ChangePasswordRequest) error {
	user, err := s.repo.Get(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return shared.ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("identity: hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return err
	}

	if s.opts.RevokeSessionsOnPasswordChange && s.sessions != nil {
		revoked, err := s.sessions.RevokeAllForUser(ctx, userID)
		if err != nil {
			s.logger.Warn("session revocation after password change failed", "user_id", userID, "error", err)
		} else {
			s.logger.Info("sessions revoked after password change", "user_id", userID, "count", revoked)
		}
	}

	s.recordAudit(ctx, "user.password.change", userID, nil)
	return nil
}

// UpdateProfile replaces the optional profile name fields.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, req UpdateProfileRequest) (*User, error) {
	user, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	firstName := user.FirstName
	if req.FirstName != nil {
		firstName = normalizeName(*req.FirstName)
	}
	lastName := user.LastName
	if req.LastName != nil {
		lastName = normalizeName(*req.LastName)
	}
	if err := s.repo.UpdateProfile(ctx, userID, firstName, lastName); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "user.profile.update", userID, nil)
	return s.repo.Get(ctx, userID)
}

// Activate re-enables a deactivated account.
func (s *Service) Activate(ctx context.Context, userID int64) error {
	if err := s.repo.SetActive(ctx, userID, true); err != nil {
		return err
	}
	s.recordAudit(ctx, "user.activate", userID, nil)
	return nil
}

// Deactivate disables an account. Existing sessions are revoked so stale
// tokens stop validating immediately.
func (s *Service) Deactivate(ctx context.Context, userID int64) error {
	if err := s.repo.SetActive(ctx, userID, false); err != nil {
		return err
	}
	if s.sessions != nil {
		if _, err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
			s.logger.Warn("session revocation after deactivation failed", "user_id", userID, "error", err)
		}
	}
	s.recordAudit(ctx, "user.deactivate", userID, nil)
	return nil
}

func (s *Service) recordFailure(ctx context.Context, identifier, addr string) {
	if s.throttle != nil {
		s.throttle.RecordFailure(ctx, identifier, addr)
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}
