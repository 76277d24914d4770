package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-platform/aegis-iam/internal/shared"
)

// Repository defines persistence operations for the identity store.
type Repository interface {
	Create(ctx context.Context, user User) (int64, error)
	Get(ctx context.Context, id int64) (*User, error)
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)
	List(ctx context.Context, req ListUsersRequest) ([]User, int, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	UpdateProfile(ctx context.Context, id int64, firstName, lastName string) error
	SetActive(ctx context.Context, id int64, active bool) error
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	AssignRole(ctx context.Context, userID int64, ref RoleRef) error
	RemoveRole(ctx context.Context, userID, roleID int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, username, password_hash, first_name, last_name, is_active, last_login_at, created_at, updated_at`

// Create inserts a new user. Email and username collide caselessly through
// the folded columns; both map to ErrDuplicateIdentity.
func (r *PGRepository) Create(ctx context.Context, user User) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, email_fold, username, username_fold, password_hash, first_name, last_name, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		user.Email, foldIdentifier(user.Email), user.Username, foldIdentifier(user.Username),
		user.PasswordHash, user.FirstName, user.LastName, user.IsActive,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, shared.ErrDuplicateIdentity
		}
		return 0, fmt.Errorf("identity: create: %w", err)
	}
	return id, nil
}

// Get fetches a user with role references.
func (r *PGRepository) Get(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if err := r.loadRoles(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// FindByIdentifier resolves a user by email or username, matched caselessly.
func (r *PGRepository) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	fold := foldIdentifier(identifier)
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email_fold = $1 OR username_fold = $1`, fold)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if err := r.loadRoles(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// List returns users matching the filters plus the total count.
func (r *PGRepository) List(ctx context.Context, req ListUsersRequest) ([]User, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if req.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", argPos))
		args = append(args, *req.IsActive)
		argPos++
	}
	if req.Role != "" {
		conditions = append(conditions, fmt.Sprintf("id IN (SELECT user_id FROM user_roles WHERE role_name = $%d)", argPos))
		args = append(args, req.Role)
		argPos++
	}
	if req.Search != "" {
		pattern := "%" + req.Search + "%"
		conditions = append(conditions, fmt.Sprintf("(email ILIKE $%d OR username ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)", argPos, argPos, argPos, argPos))
		args = append(args, pattern)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM users %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := pageBounds(req.Page, req.PerPage)
	query := fmt.Sprintf(`SELECT %s FROM users %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		userColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range users {
		if err := r.loadRoles(ctx, &users[i]); err != nil {
			return nil, 0, err
		}
	}
	return users, total, nil
}

// UpdatePassword replaces the stored password hash.
func (r *PGRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("identity: update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UpdateProfile replaces profile name fields.
func (r *PGRepository) UpdateProfile(ctx context.Context, id int64, firstName, lastName string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET first_name = $2, last_name = $3, updated_at = NOW() WHERE id = $1`, id, firstName, lastName)
	if err != nil {
		return fmt.Errorf("identity: update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetActive flips the account's active flag.
func (r *PGRepository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("identity: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// TouchLastLogin records a successful authentication timestamp.
func (r *PGRepository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("identity: touch last login: %w", err)
	}
	return nil
}

// AssignRole attaches a role reference. The insert is a no-op when the user
// already holds a role with the same snapshot name, which makes concurrent
// assigns safe without read-then-append races.
func (r *PGRepository) AssignRole(ctx context.Context, userID int64, ref RoleRef) error {
	var assignedBy interface{}
	if ref.AssignedBy != 0 {
		assignedBy = ref.AssignedBy
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id, role_name, assigned_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, role_name) DO NOTHING`,
		userID, ref.RoleID, ref.RoleName, assignedBy)
	if err != nil {
		return fmt.Errorf("identity: assign role: %w", err)
	}
	return nil
}

// RemoveRole detaches a role reference by role id. Absent references are a
// no-op.
func (r *PGRepository) RemoveRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return fmt.Errorf("identity: remove role: %w", err)
	}
	return nil
}

func (r *PGRepository) loadRoles(ctx context.Context, user *User) error {
	rows, err := r.pool.Query(ctx, `
		SELECT role_id, role_name, COALESCE(assigned_by, 0), assigned_at
		FROM user_roles
		WHERE user_id = $1
		ORDER BY assigned_at`, user.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var ref RoleRef
		if err := rows.Scan(&ref.RoleID, &ref.RoleName, &ref.AssignedBy, &ref.AssignedAt); err != nil {
			return err
		}
		user.Roles = append(user.Roles, ref)
	}
	return rows.Err()
}

func scanUser(row pgx.Row) (*User, error) {
	var user User
	var lastLogin *time.Time
	if err := row.Scan(&user.ID, &user.Email, &user.Username, &user.PasswordHash,
		&user.FirstName, &user.LastName, &user.IsActive, &lastLogin,
		&user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	if lastLogin != nil {
		user.LastLoginAt = *lastLogin
	}
	return &user, nil
}

func pageBounds(page, perPage int) (limit, offset int) {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	return perPage, (page - 1) * perPage
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Repository = (*PGRepository)(nil)
