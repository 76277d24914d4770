package roles

import "time"

// Role represents a named collection of permission grants.
type Role struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	IsSystem    bool              `json:"is_system"`
	Permissions []PermissionGrant `json:"permissions"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// PermissionGrant is a denormalized snapshot of a catalog permission taken at
// assignment time. Snapshots are never re-synchronized when the source
// permission is edited or deleted.
type PermissionGrant struct {
	PermissionID int64          `json:"permission_id"`
	Name         string         `json:"name"`
	Resource     string         `json:"resource"`
	Action       string         `json:"action"`
	Conditions   map[string]any `json:"conditions,omitempty"`
	AssignedAt   time.Time      `json:"assigned_at"`
}

// HasPermission reports whether the role's snapshot list contains the given
// permission name. Live catalog state is not consulted.
func (r *Role) HasPermission(permissionName string) bool {
	for _, grant := range r.Permissions {
		if grant.Name == permissionName {
			return true
		}
	}
	return false
}

// CreateRoleRequest carries fields for a new role.
type CreateRoleRequest struct {
	Name          string  `json:"name" validate:"required,min=2,max=50"`
	Description   string  `json:"description"`
	PermissionIDs []int64 `json:"permission_ids"`
	IsSystem      bool    `json:"is_system"`
}

// UpdateRoleRequest carries optional fields for a role update. A non-nil
// PermissionIDs replaces the whole grant set.
type UpdateRoleRequest struct {
	Name          *string `json:"name" validate:"omitempty,min=2,max=50"`
	Description   *string `json:"description"`
	PermissionIDs []int64 `json:"permission_ids"`
}

// ListRolesRequest carries filters for listing roles.
type ListRolesRequest struct {
	IsSystem      *bool
	HasPermission string
	Search        string
	Page          int
	PerPage       int
}
