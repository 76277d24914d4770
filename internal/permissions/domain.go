package permissions

import "time"

// Permission represents an atomic capability identified by a unique name,
// conventionally "<resource>:<action>".
type Permission struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Resource    string         `json:"resource"`
	Action      string         `json:"action"`
	Category    string         `json:"category,omitempty"`
	IsSystem    bool           `json:"is_system"`
	Conditions  map[string]any `json:"conditions,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CreatePermissionRequest carries fields for a new permission.
type CreatePermissionRequest struct {
	Name        string         `json:"name" validate:"required,min=3,max=100"`
	Description string         `json:"description"`
	Resource    string         `json:"resource" validate:"required"`
	Action      string         `json:"action" validate:"required"`
	Category    string         `json:"category"`
	Conditions  map[string]any `json:"conditions"`
	IsSystem    bool           `json:"is_system"`
}

// UpdatePermissionRequest carries replacement fields for a catalog entry.
// Role snapshots taken before the edit keep the old values.
type UpdatePermissionRequest struct {
	Name        string         `json:"name" validate:"required,min=3,max=100"`
	Description string         `json:"description"`
	Resource    string         `json:"resource" validate:"required"`
	Action      string         `json:"action" validate:"required"`
	Category    string         `json:"category"`
	Conditions  map[string]any `json:"conditions"`
}

// ListPermissionsRequest carries filters for listing permissions.
type ListPermissionsRequest struct {
	Resource string
	Action   string
	Category string
	Search   string
	Page     int
	PerPage  int
}
