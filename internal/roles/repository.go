package roles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-platform/aegis-iam/internal/platform/db"
	"github.com/aegis-platform/aegis-iam/internal/shared"
)

// Repository defines persistence operations for the role store.
type Repository interface {
	Create(ctx context.Context, role Role) (int64, error)
	Get(ctx context.Context, id int64) (*Role, error)
	GetByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context, req ListRolesRequest) ([]Role, int, error)
	Update(ctx context.Context, id int64, name, description string) error
	Delete(ctx context.Context, id int64) error
	AddGrant(ctx context.Context, roleID int64, grant PermissionGrant) error
	RemoveGrant(ctx context.Context, roleID, permissionID int64) error
	ReplaceGrants(ctx context.Context, roleID int64, grants []PermissionGrant) error
	GrantsByRoleIDs(ctx context.Context, roleIDs []int64) (map[int64][]PermissionGrant, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: pool, pool: pool}
}

// Create inserts a role together with its initial grant snapshots in one
// transaction. Duplicate names map to ErrDuplicateName.
func (r *PGRepository) Create(ctx context.Context, role Role) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, db.SnapshotTx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO roles (name, description, is_system)
			VALUES ($1, $2, $3)
			RETURNING id`,
			role.Name, role.Description, role.IsSystem,
		).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return shared.ErrDuplicateName
			}
			return fmt.Errorf("roles: create: %w", err)
		}
		for _, grant := range role.Permissions {
			if err := insertGrant(ctx, tx, id, grant); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Get fetches a role with its grant snapshots.
func (r *PGRepository) Get(ctx context.Context, id int64) (*Role, error) {
	row := r.db.QueryRow(ctx, `SELECT id, name, description, is_system, created_at, updated_at FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	grants, err := r.GrantsByRoleIDs(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	role.Permissions = grants[id]
	return role, nil
}

// GetByName fetches a role by unique name with its grant snapshots.
func (r *PGRepository) GetByName(ctx context.Context, name string) (*Role, error) {
	row := r.db.QueryRow(ctx, `SELECT id, name, description, is_system, created_at, updated_at FROM roles WHERE name = $1`, name)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	grants, err := r.GrantsByRoleIDs(ctx, []int64{role.ID})
	if err != nil {
		return nil, err
	}
	role.Permissions = grants[role.ID]
	return role, nil
}

// List returns roles matching the filters plus the total count.
func (r *PGRepository) List(ctx context.Context, req ListRolesRequest) ([]Role, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if req.IsSystem != nil {
		conditions = append(conditions, fmt.Sprintf("is_system = $%d", argPos))
		args = append(args, *req.IsSystem)
		argPos++
	}
	if req.Search != "" {
		pattern := "%" + req.Search + "%"
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", argPos, argPos))
		args = append(args, pattern)
		argPos++
	}
	if req.HasPermission != "" {
		conditions = append(conditions, fmt.Sprintf("id IN (SELECT role_id FROM role_permissions WHERE name = $%d)", argPos))
		args = append(args, req.HasPermission)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM roles %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := pageBounds(req.Page, req.PerPage)
	query := fmt.Sprintf(`SELECT id, name, description, is_system, created_at, updated_at FROM roles %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		whereClause, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Role
	var ids []int64
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *role)
		ids = append(ids, role.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	grants, err := r.GrantsByRoleIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range result {
		result[i].Permissions = grants[result[i].ID]
	}
	return result, total, nil
}

// Update renames a role and/or replaces its description. Duplicate names map
// to ErrDuplicateName.
func (r *PGRepository) Update(ctx context.Context, id int64, name, description string) error {
	tag, err := r.db.Exec(ctx, `UPDATE roles SET name = $2, description = $3, updated_at = NOW() WHERE id = $1`, id, name, description)
	if err != nil {
		if isUniqueViolation(err) {
			return shared.ErrDuplicateName
		}
		return fmt.Errorf("roles: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes a role. User role references are deliberately not cascaded;
// their denormalized snapshots become orphaned.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, db.SnapshotTx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return fmt.Errorf("roles: delete grants: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("roles: delete: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// AddGrant attaches a snapshot to a role. The insert is a no-op when a grant
// with the same permission name is already present, which makes concurrent
// adds safe without read-then-append races.
func (r *PGRepository) AddGrant(ctx context.Context, roleID int64, grant PermissionGrant) error {
	return insertGrant(ctx, r.db, roleID, grant)
}

// RemoveGrant detaches a snapshot by permission id. Absent grants are a no-op.
func (r *PGRepository) RemoveGrant(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return fmt.Errorf("roles: remove grant: %w", err)
	}
	return nil
}

// ReplaceGrants swaps the whole grant set atomically.
func (r *PGRepository) ReplaceGrants(ctx context.Context, roleID int64, grants []PermissionGrant) error {
	return db.WithTx(ctx, r.pool, db.SnapshotTx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("roles: clear grants: %w", err)
		}
		for _, grant := range grants {
			if err := insertGrant(ctx, tx, roleID, grant); err != nil {
				return err
			}
		}
		return nil
	})
}

// GrantsByRoleIDs loads grant snapshots for the given roles.
func (r *PGRepository) GrantsByRoleIDs(ctx context.Context, roleIDs []int64) (map[int64][]PermissionGrant, error) {
	result := make(map[int64][]PermissionGrant, len(roleIDs))
	if len(roleIDs) == 0 {
		return result, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT role_id, permission_id, name, resource, action, conditions, assigned_at
		FROM role_permissions
		WHERE role_id = ANY($1)
		ORDER BY name`, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var roleID int64
		var grant PermissionGrant
		var conditions []byte
		if err := rows.Scan(&roleID, &grant.PermissionID, &grant.Name, &grant.Resource, &grant.Action, &conditions, &grant.AssignedAt); err != nil {
			return nil, err
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &grant.Conditions); err != nil {
				return nil, fmt.Errorf("roles: decode grant conditions: %w", err)
			}
		}
		result[roleID] = append(result[roleID], grant)
	}
	return result, rows.Err()
}

func insertGrant(ctx context.Context, q dbtx, roleID int64, grant PermissionGrant) error {
	conditions, err := json.Marshal(grant.Conditions)
	if err != nil {
		return fmt.Errorf("roles: encode grant conditions: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id, name, resource, action, conditions)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (role_id, name) DO NOTHING`,
		roleID, grant.PermissionID, grant.Name, grant.Resource, grant.Action, conditions)
	if err != nil {
		return fmt.Errorf("roles: add grant: %w", err)
	}
	return nil
}

func scanRole(row pgx.Row) (*Role, error) {
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	return &role, nil
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
