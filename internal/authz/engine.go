// Package authz resolves effective permissions from denormalized role
// snapshots and answers access checks for authenticated users.
package authz

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aegis-platform/aegis-iam/internal/identity"
	"github.com/aegis-platform/aegis-iam/internal/observability"
	"github.com/aegis-platform/aegis-iam/internal/roles"
	"github.com/aegis-platform/aegis-iam/internal/sessions"
)

// TokenValidator resolves a raw token to its live session.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*sessions.Session, bool)
}

// UserLoader fetches accounts by id.
type UserLoader interface {
	Get(ctx context.Context, id int64) (*identity.User, error)
}

// GrantSource loads permission grant snapshots for a set of roles.
type GrantSource interface {
	GrantsByRoleIDs(ctx context.Context, roleIDs []int64) (map[int64][]roles.PermissionGrant, error)
}

// Engine answers authorization questions. Check methods return plain booleans
// and treat every internal failure as a denial.
type Engine struct {
	logger  *slog.Logger
	tokens  TokenValidator
	users   UserLoader
	grants  GrantSource
	metrics *observability.Metrics
}

// NewEngine constructs an Engine. metrics may be nil.
func NewEngine(logger *slog.Logger, tokens TokenValidator, users UserLoader, grants GrantSource, metrics *observability.Metrics) *Engine {
	return &Engine{logger: logger, tokens: tokens, users: users, grants: grants, metrics: metrics}
}

// ValidateToken resolves a raw token to its account. Bad signatures, revoked
// or expired sessions and deactivated accounts all yield (nil, false).
func (e *Engine) ValidateToken(ctx context.Context, token string) (*identity.User, bool) {
	session, ok := e.tokens.Validate(ctx, token)
	if !ok {
		return nil, false
	}
	user, err := e.users.Get(ctx, session.UserID)
	if err != nil {
		e.logger.Warn("token user load failed", "user_id", session.UserID, "error", err)
		return nil, false
	}
	if !user.IsActive {
		return nil, false
	}
	return user, true
}

// EffectivePermissions returns the union of permission names granted through
// the user's roles. Grants are read fresh from the role snapshots on every
// call; nothing is cached between checks.
func (e *Engine) EffectivePermissions(ctx context.Context, user *identity.User) ([]string, error) {
	if user == nil || len(user.Roles) == 0 {
		return nil, nil
	}
	roleIDs := make([]int64, 0, len(user.Roles))
	for _, ref := range user.Roles {
		roleIDs = append(roleIDs, ref.RoleID)
	}
	grants, err := e.grants.GrantsByRoleIDs(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var names []string
	for _, roleGrants := range grants {
		for _, grant := range roleGrants {
			if _, ok := seen[grant.Name]; ok {
				continue
			}
			seen[grant.Name] = struct{}{}
			names = append(names, grant.Name)
		}
	}
	return names, nil
}

// Can reports whether the user holds the given permission. It never errors:
// lookup failures are logged and answered with a denial.
func (e *Engine) Can(ctx context.Context, user *identity.User, permission string) bool {
	if user == nil || permission == "" {
		e.metrics.ObserveCheck("deny")
		return false
	}
	granted, err := e.EffectivePermissions(ctx, user)
	if err != nil {
		e.logger.Error("permission resolution failed", "user_id", user.ID, "error", err)
		e.metrics.ObserveCheck("deny")
		return false
	}
	want := strings.ToLower(permission)
	for _, name := range granted {
		if strings.ToLower(name) == want {
			e.metrics.ObserveCheck("allow")
			return true
		}
	}
	e.metrics.ObserveCheck("deny")
	return false
}

// HasAnyRole reports whether the user holds at least one of the named roles.
// Only the denormalized role name snapshots are consulted.
func (e *Engine) HasAnyRole(user *identity.User, roleNames ...string) bool {
	if user == nil {
		return false
	}
	for _, name := range roleNames {
		if user.HasRole(name) {
			return true
		}
	}
	return false
}
