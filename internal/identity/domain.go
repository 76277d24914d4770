package identity

import "time"

// User is an account in the identity store. PasswordHash never serializes.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	IsActive     bool      `json:"is_active"`
	Roles        []RoleRef `json:"roles"`
	LastLoginAt  time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RoleRef is a denormalized role reference captured at assignment time. The
// role name is a snapshot; renames and deletions of the source role do not
// propagate here.
type RoleRef struct {
	RoleID     int64     `json:"role_id"`
	RoleName   string    `json:"role_name"`
	AssignedBy int64     `json:"assigned_by,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}

// HasRole reports whether the user's snapshot list contains the given role
// name.
func (u *User) HasRole(roleName string) bool {
	for _, ref := range u.Roles {
		if ref.RoleName == roleName {
			return true
		}
	}
	return false
}

// RegisterRequest carries fields for a new account.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Username  string `json:"username" validate:"required,min=3,max=30"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"first_name" validate:"max=50"`
	LastName  string `json:"last_name" validate:"max=50"`
}

// LoginRequest authenticates by email or username.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

// ChangePasswordRequest carries a password rotation.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

// UpdateProfileRequest carries optional profile fields.
type UpdateProfileRequest struct {
	FirstName *string `json:"first_name" validate:"omitempty,max=50"`
	LastName  *string `json:"last_name" validate:"omitempty,max=50"`
}

// ListUsersRequest carries filters for listing accounts.
type ListUsersRequest struct {
	IsActive *bool
	Role     string
	Search   string
	Page     int
	PerPage  int
}
