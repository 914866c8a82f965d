package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/modelgate/modelgate/internal/authz"
	"github.com/modelgate/modelgate/internal/shared"
)

// Repository defines persistence for roles, permissions and assignments.
type Repository interface {
	CreateRole(ctx context.Context, role *authz.Role) (*authz.Role, error)
	FindRole(ctx context.Context, id uuid.UUID) (*authz.Role, error)
	FindRoleByName(ctx context.Context, name string) (*authz.Role, error)
	ListRoles(ctx context.Context) ([]authz.Role, error)
	UpdateRole(ctx context.Context, role *authz.Role) error
	DeleteRole(ctx context.Context, id uuid.UUID) error
	SetRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error
	CountUsersWithRole(ctx context.Context, roleID uuid.UUID) (int, error)
	UserIDsWithRole(ctx context.Context, roleID uuid.UUID) ([]int64, error)

	CreatePermission(ctx context.Context, perm *authz.Permission) (*authz.Permission, error)
	FindPermission(ctx context.Context, id uuid.UUID) (*authz.Permission, error)
	ListPermissions(ctx context.Context) ([]authz.Permission, error)
	UpdatePermission(ctx context.Context, perm *authz.Permission) error
	DeletePermission(ctx context.Context, id uuid.UUID) error
	CountRolesReferencingPermission(ctx context.Context, permissionID uuid.UUID) (int, error)

	AssignRole(ctx context.Context, userID int64, roleID uuid.UUID) error
	RemoveRole(ctx context.Context, userID int64, roleID uuid.UUID) error
	RolesForUser(ctx context.Context, userID int64) ([]authz.Role, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const (
	roleColumns       = `id, name, display_name, description, role_type, is_system, created_at, updated_at`
	permissionColumns = `id, name, display_name, description, module, created_at, updated_at`
)

// CreateRole inserts a new role.
func (r *PGRepository) CreateRole(ctx context.Context, role *authz.Role) (*authz.Role, error) {
	now := time.Now().UTC()
	id := uuid.New()
	err := r.pool.QueryRow(ctx, `INSERT INTO roles (id, name, display_name, description, role_type, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id, created_at, updated_at`,
		id, role.Name, role.DisplayName, role.Description, string(role.Type), role.IsSystem, now,
	).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, mapUniqueViolation(err)
	}
	return role, nil
}

// FindRole fetches a role by id with its permissions loaded.
func (r *PGRepository) FindRole(ctx context.Context, id uuid.UUID) (*authz.Role, error) {
	return r.findRole(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
}

// FindRoleByName fetches a role by its unique name with permissions loaded.
func (r *PGRepository) FindRoleByName(ctx context.Context, name string) (*authz.Role, error) {
	return r.findRole(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name)
}

// ListRoles returns all roles with their permissions. The catalog is small,
// so no paging.
func (r *PGRepository) ListRoles(ctx context.Context) ([]authz.Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []authz.Role
	for rows.Next() {
		var role authz.Role
		if err := scanRole(rows.Scan, &role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		perms, err := r.permissionsOfRole(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

// UpdateRole saves mutable role fields. Permission membership is managed
// through SetRolePermissions.
func (r *PGRepository) UpdateRole(ctx context.Context, role *authz.Role) error {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET name = $2, display_name = $3, description = $4, role_type = $5, updated_at = NOW() WHERE id = $1`,
		role.ID, role.Name, role.DisplayName, role.Description, string(role.Type))
	if err != nil {
		return mapUniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteRole removes the role. Membership rows cascade via foreign keys.
func (r *PGRepository) DeleteRole(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetRolePermissions replaces the role's permission set atomically.
func (r *PGRepository) SetRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	for _, pid := range permissionIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, pid); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1`, roleID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CountUsersWithRole counts current assignees.
func (r *PGRepository) CountUsersWithRole(ctx context.Context, roleID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&n)
	return n, err
}

// UserIDsWithRole lists every user holding the role. Used to revoke cached
// permissions after a role's grants change.
func (r *PGRepository) UserIDsWithRole(ctx context.Context, roleID uuid.UUID) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreatePermission inserts a new permission.
func (r *PGRepository) CreatePermission(ctx context.Context, perm *authz.Permission) (*authz.Permission, error) {
	now := time.Now().UTC()
	id := uuid.New()
	err := r.pool.QueryRow(ctx, `INSERT INTO permissions (id, name, display_name, description, module, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id, created_at, updated_at`,
		id, perm.Name.String(), perm.DisplayName, perm.Description, perm.Module, now,
	).Scan(&perm.ID, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		return nil, mapUniqueViolation(err)
	}
	return perm, nil
}

// FindPermission fetches a permission by id.
func (r *PGRepository) FindPermission(ctx context.Context, id uuid.UUID) (*authz.Permission, error) {
	var perm authz.Permission
	err := scanPermission(r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id).Scan, &perm)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &perm, nil
}

// ListPermissions returns the full permission catalog ordered by name.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]authz.Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// UpdatePermission saves display fields. The name is immutable; rename by
// creating a new permission.
func (r *PGRepository) UpdatePermission(ctx context.Context, perm *authz.Permission) error {
	tag, err := r.pool.Exec(ctx, `UPDATE permissions SET display_name = $2, description = $3, module = $4, updated_at = NOW() WHERE id = $1`,
		perm.ID, perm.DisplayName, perm.Description, perm.Module)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeletePermission removes the permission.
func (r *PGRepository) DeletePermission(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CountRolesReferencingPermission counts roles still granting the permission.
func (r *PGRepository) CountRolesReferencingPermission(ctx context.Context, permissionID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM role_permissions WHERE permission_id = $1`, permissionID).Scan(&n)
	return n, err
}

// AssignRole grants the role to the user. Re-assigning is a no-op.
func (r *PGRepository) AssignRole(ctx context.Context, userID int64, roleID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, created_at) VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID)
	return err
}

// RemoveRole revokes the role from the user.
func (r *PGRepository) RemoveRole(ctx context.Context, userID int64, roleID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// RolesForUser returns the user's roles with permissions loaded.
func (r *PGRepository) RolesForUser(ctx context.Context, userID int64) ([]authz.Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.id, r.name, r.display_name, r.description, r.role_type, r.is_system, r.created_at, r.updated_at
		FROM roles r JOIN user_roles ur ON ur.role_id = r.id WHERE ur.user_id = $1 ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []authz.Role
	for rows.Next() {
		var role authz.Role
		if err := scanRole(rows.Scan, &role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		perms, err := r.permissionsOfRole(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

func (r *PGRepository) findRole(ctx context.Context, query string, arg any) (*authz.Role, error) {
	var role authz.Role
	err := scanRole(r.pool.QueryRow(ctx, query, arg).Scan, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	perms, err := r.permissionsOfRole(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

func (r *PGRepository) permissionsOfRole(ctx context.Context, roleID uuid.UUID) ([]authz.Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.name, p.display_name, p.description, p.module, p.created_at, p.updated_at
		FROM permissions p JOIN role_permissions rp ON rp.permission_id = p.id WHERE rp.role_id = $1 ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func collectPermissions(rows pgx.Rows) ([]authz.Permission, error) {
	var perms []authz.Permission
	for rows.Next() {
		var perm authz.Permission
		if err := scanPermission(rows.Scan, &perm); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

func scanRole(scan func(...any) error, role *authz.Role) error {
	var roleType string
	if err := scan(&role.ID, &role.Name, &role.DisplayName, &role.Description, &roleType,
		&role.IsSystem, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return err
	}
	role.Type = authz.RoleType(roleType)
	return nil
}

func scanPermission(scan func(...any) error, perm *authz.Permission) error {
	var raw string
	if err := scan(&perm.ID, &raw, &perm.DisplayName, &perm.Description, &perm.Module,
		&perm.CreatedAt, &perm.UpdatedAt); err != nil {
		return err
	}
	name, err := authz.ParseName(raw)
	if err != nil {
		return err
	}
	perm.Name = name
	return nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrDuplicate
	}
	return err
}
