package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-platform/aegis-iam/internal/shared"
)

// Repository defines persistence operations for the permission catalog.
type Repository interface {
	Create(ctx context.Context, perm Permission) (int64, error)
	CreateBulk(ctx context.Context, perms []Permission) ([]Permission, error)
	Get(ctx context.Context, id int64) (*Permission, error)
	GetByName(ctx context.Context, name string) (*Permission, error)
	GetByResourceAction(ctx context.Context, resource, action string) (*Permission, error)
	FindByIDs(ctx context.Context, ids []int64) ([]Permission, error)
	List(ctx context.Context, req ListPermissionsRequest) ([]Permission, int, error)
	Update(ctx context.Context, id int64, perm Permission) error
	Delete(ctx context.Context, id int64) error
	DistinctResources(ctx context.Context) ([]string, error)
	DistinctActions(ctx context.Context) ([]string, error)
	DistinctCategories(ctx context.Context) ([]string, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const permissionColumns = `id, name, description, resource, action, category, is_system, conditions, created_at, updated_at`

// Create inserts a new permission. Duplicate names map to ErrDuplicateName.
func (r *PGRepository) Create(ctx context.Context, perm Permission) (int64, error) {
	conditions, err := marshalConditions(perm.Conditions)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.pool.QueryRow(ctx, `
		INSERT INTO permissions (name, description, resource, action, category, is_system, conditions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		perm.Name, perm.Description, perm.Resource, perm.Action, perm.Category, perm.IsSystem, conditions,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, shared.ErrDuplicateName
		}
		return 0, fmt.Errorf("permissions: create: %w", err)
	}
	return id, nil
}

// CreateBulk inserts permissions, silently skipping names that already exist.
// The inserted rows are returned.
func (r *PGRepository) CreateBulk(ctx context.Context, perms []Permission) ([]Permission, error) {
	created := make([]Permission, 0, len(perms))
	for _, perm := range perms {
		conditions, err := marshalConditions(perm.Conditions)
		if err != nil {
			return nil, err
		}
		row := r.pool.QueryRow(ctx, `
			INSERT INTO permissions (name, description, resource, action, category, is_system, conditions)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (name) DO NOTHING
			RETURNING `+permissionColumns,
			perm.Name, perm.Description, perm.Resource, perm.Action, perm.Category, perm.IsSystem, conditions)
		inserted, err := scanPermission(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("permissions: create bulk: %w", err)
		}
		created = append(created, *inserted)
	}
	return created, nil
}

// Get fetches a permission by id.
func (r *PGRepository) Get(ctx context.Context, id int64) (*Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id)
	perm, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return perm, nil
}

// GetByName fetches a permission by unique name.
func (r *PGRepository) GetByName(ctx context.Context, name string) (*Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, name)
	perm, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return perm, nil
}

// GetByResourceAction fetches a permission by its resource/action pair. The
// pair is not unique; the oldest entry wins.
func (r *PGRepository) GetByResourceAction(ctx context.Context, resource, action string) (*Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE resource = $1 AND action = $2 ORDER BY id LIMIT 1`, resource, action)
	perm, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return perm, nil
}

// FindByIDs returns the permissions matching the given ids. Unknown ids are
// simply absent from the result.
func (r *PGRepository) FindByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// List returns permissions matching the filters plus the total count.
func (r *PGRepository) List(ctx context.Context, req ListPermissionsRequest) ([]Permission, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if req.Resource != "" {
		conditions = append(conditions, fmt.Sprintf("resource = $%d", argPos))
		args = append(args, req.Resource)
		argPos++
	}
	if req.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argPos))
		args = append(args, req.Action)
		argPos++
	}
	if req.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argPos))
		args = append(args, req.Category)
		argPos++
	}
	if req.Search != "" {
		pattern := "%" + req.Search + "%"
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d OR resource ILIKE $%d)", argPos, argPos, argPos))
		args = append(args, pattern)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM permissions %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := pageBounds(req.Page, req.PerPage)
	query := fmt.Sprintf(`SELECT %s FROM permissions %s ORDER BY category, resource, action LIMIT $%d OFFSET $%d`,
		permissionColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	perms, err := collectPermissions(rows)
	if err != nil {
		return nil, 0, err
	}
	return perms, total, nil
}

// Update replaces the mutable fields of a permission. Role snapshots keep the
// values captured at grant time. Renaming onto a taken name maps to
// ErrDuplicateName.
func (r *PGRepository) Update(ctx context.Context, id int64, perm Permission) error {
	conditions, err := marshalConditions(perm.Conditions)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE permissions
		SET name = $1, description = $2, resource = $3, action = $4, category = $5, conditions = $6, updated_at = NOW()
		WHERE id = $7`,
		perm.Name, perm.Description, perm.Resource, perm.Action, perm.Category, conditions, id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return shared.ErrDuplicateName
		}
		return fmt.Errorf("permissions: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes a permission. Role snapshots referencing it are untouched.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("permissions: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DistinctResources returns the sorted set of known resources.
func (r *PGRepository) DistinctResources(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "resource")
}

// DistinctActions returns the sorted set of known actions.
func (r *PGRepository) DistinctActions(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "action")
}

// DistinctCategories returns the sorted set of known categories.
func (r *PGRepository) DistinctCategories(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "category")
}

func (r *PGRepository) distinct(ctx context.Context, column string) ([]string, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT %s FROM permissions WHERE %s <> '' ORDER BY %s`, column, column, column))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func scanPermission(row pgx.Row) (*Permission, error) {
	var perm Permission
	var conditions []byte
	if err := row.Scan(&perm.ID, &perm.Name, &perm.Description, &perm.Resource, &perm.Action, &perm.Category, &perm.IsSystem, &conditions, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
		return nil, err
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &perm.Conditions); err != nil {
			return nil, fmt.Errorf("permissions: decode conditions: %w", err)
		}
	}
	return &perm, nil
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, *perm)
	}
	return perms, rows.Err()
}

func marshalConditions(conditions map[string]any) ([]byte, error) {
	if conditions == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(conditions)
	if err != nil {
		return nil, fmt.Errorf("permissions: encode conditions: %w", err)
	}
	return data, nil
}

func pageBounds(page, perPage int) (limit, offset int) {
	if perPage <= 0 {
		perPage = 50
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
