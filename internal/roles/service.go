package roles

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aegis-platform/aegis-iam/internal/permissions"
	"github.com/aegis-platform/aegis-iam/internal/shared"
)

// Catalog resolves permissions for grant snapshots.
type Catalog interface {
	Get(ctx context.Context, id int64) (*permissions.Permission, error)
	FindByIDs(ctx context.Context, ids []int64) ([]permissions.Permission, error)
}

// AuditRecorder persists audit trail entries for role mutations.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service wraps role store business rules.
type Service struct {
	repo    Repository
	catalog Catalog
	audit   AuditRecorder
}

// NewService constructs a new Service.
func NewService(repo Repository, catalog Catalog, audit AuditRecorder) *Service {
	return &Service{repo: repo, catalog: catalog, audit: audit}
}

// Create registers a new role. Permission ids that cannot be resolved through
// the catalog are silently skipped; partial grant lists are acceptable at
// creation time.
func (s *Service) Create(ctx context.Context, req CreateRoleRequest) (*Role, error) {
	grants, err := s.resolveGrants(ctx, req.PermissionIDs)
	if err != nil {
		return nil, err
	}
	role := Role{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		IsSystem:    req.IsSystem,
		Permissions: grants,
	}
	id, err := s.repo.Create(ctx, role)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "role.create", id, map[string]any{"name": role.Name, "grants": len(grants)})
	return s.repo.Get(ctx, id)
}

// Get fetches a role by id.
func (s *Service) Get(ctx context.Context, id int64) (*Role, error) {
	return s.repo.Get(ctx, id)
}

// GetByName fetches a role by unique name.
func (s *Service) GetByName(ctx context.Context, name string) (*Role, error) {
	return s.repo.GetByName(ctx, name)
}

// List returns roles matching the filters plus the total count.
func (s *Service) List(ctx context.Context, req ListRolesRequest) ([]Role, int, error) {
	return s.repo.List(ctx, req)
}

// Update renames a role, replaces its description and optionally swaps the
// whole grant set. System roles reject every structural mutation.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRoleRequest) (*Role, error) {
	role, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, fmt.Errorf("%w: role %q", shared.ErrSystemProtected, role.Name)
	}

	name := role.Name
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		name = strings.TrimSpace(*req.Name)
	}
	description := role.Description
	if req.Description != nil {
		description = strings.TrimSpace(*req.Description)
	}
	if name != role.Name || description != role.Description {
		if err := s.repo.Update(ctx, id, name, description); err != nil {
			return nil, err
		}
	}

	if req.PermissionIDs != nil {
		grants, err := s.resolveGrants(ctx, req.PermissionIDs)
		if err != nil {
			return nil, err
		}
		if err := s.repo.ReplaceGrants(ctx, id, grants); err != nil {
			return nil, err
		}
	}

	s.recordAudit(ctx, "role.update", id, map[string]any{"name": name})
	return s.repo.Get(ctx, id)
}

// Delete removes a role unless it is system protected. References held by
// users are not cascaded; their snapshots become orphaned by design.
func (s *Service) Delete(ctx context.Context, id int64) error {
	role, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: role %q", shared.ErrSystemProtected, role.Name)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, "role.delete", id, map[string]any{"name": role.Name})
	return nil
}

// AddPermission attaches a catalog permission to the role as a snapshot.
// Adding a permission whose name is already granted is a no-op.
func (s *Service) AddPermission(ctx context.Context, roleID, permissionID int64) (*Role, error) {
	role, err := s.repo.Get(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, fmt.Errorf("%w: role %q", shared.ErrSystemProtected, role.Name)
	}
	perm, err := s.catalog.Get(ctx, permissionID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.AddGrant(ctx, roleID, PermissionGrant{
		PermissionID: perm.ID,
		Name:         perm.Name,
		Resource:     perm.Resource,
		Action:       perm.Action,
		Conditions:   perm.Conditions,
	}); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "role.permission.add", roleID, map[string]any{"permission": perm.Name})
	return s.repo.Get(ctx, roleID)
}

// RemovePermission detaches a permission snapshot by permission id. Removing
// an absent permission is a no-op rather than an error.
func (s *Service) RemovePermission(ctx context.Context, roleID, permissionID int64) (*Role, error) {
	role, err := s.repo.Get(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, fmt.Errorf("%w: role %q", shared.ErrSystemProtected, role.Name)
	}
	if err := s.repo.RemoveGrant(ctx, roleID, permissionID); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "role.permission.remove", roleID, map[string]any{"permission_id": permissionID})
	return s.repo.Get(ctx, roleID)
}

// HasPermission reports whether the role's snapshot list contains the given
// permission name.
func (s *Service) HasPermission(ctx context.Context, roleID int64, permissionName string) (bool, error) {
	role, err := s.repo.Get(ctx, roleID)
	if err != nil {
		return false, err
	}
	return role.HasPermission(permissionName), nil
}

func (s *Service) resolveGrants(ctx context.Context, permissionIDs []int64) ([]PermissionGrant, error) {
	if len(permissionIDs) == 0 {
		return nil, nil
	}
	resolved, err := s.catalog.FindByIDs(ctx, permissionIDs)
	if err != nil {
		return nil, fmt.Errorf("roles: resolve permissions: %w", err)
	}
	grants := make([]PermissionGrant, 0, len(resolved))
	for _, perm := range resolved {
		grants = append(grants, PermissionGrant{
			PermissionID: perm.ID,
			Name:         perm.Name,
			Resource:     perm.Resource,
			Action:       perm.Action,
			Conditions:   perm.Conditions,
		})
	}
	return grants, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "role",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}
