package rbac

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/modelgate/modelgate/internal/audit"
	"github.com/modelgate/modelgate/internal/auth"
	"github.com/modelgate/modelgate/internal/authz"
	"github.com/modelgate/modelgate/internal/shared"
)

// Recorder is the audit side channel.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry)
}

// CacheInvalidator drops cached permission strings for a principal.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, principalID int64) error
}

// UserDirectory is the slice of the account store this service needs for
// user administration and token revocation.
type UserDirectory interface {
	FindByID(ctx context.Context, id int64) (*auth.User, error)
	List(ctx context.Context, limit, offset int) ([]auth.User, int, error)
	Create(ctx context.Context, user *auth.User) (*auth.User, error)
	Update(ctx context.Context, user *auth.User) error
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
	IncrementKeyVersion(ctx context.Context, userID int64) (int64, error)
}

var titleCaser = cases.Title(language.English)

// Service implements role, permission and user administration. Every
// privilege-changing operation advances the affected users' key versions so
// outstanding access tokens stop validating immediately.
type Service struct {
	repo    Repository
	users   UserDirectory
	engine  *authz.Engine
	cache   CacheInvalidator
	auditor Recorder
	logger  *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, users UserDirectory, engine *authz.Engine, cache CacheInvalidator, auditor Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, users: users, engine: engine, cache: cache, auditor: auditor, logger: logger}
}

// CreateRoleInput carries the fields for a new role.
type CreateRoleInput struct {
	Name        string
	DisplayName string
	Description string
	Type        authz.RoleType
}

// CreateRole creates a custom role. System roles are seeded, never created
// through the API.
func (s *Service) CreateRole(ctx context.Context, in CreateRoleInput, rc shared.RequestContext) (*authz.Role, error) {
	if in.Type == "" {
		in.Type = authz.RoleTypeCustom
	}
	if !in.Type.Valid() {
		return nil, shared.BusinessRule("unknown role type %q", in.Type)
	}
	if in.DisplayName == "" {
		in.DisplayName = displayNameOf(in.Name)
	}
	role, err := s.repo.CreateRole(ctx, &authz.Role{
		Name:        in.Name,
		DisplayName: in.DisplayName,
		Description: in.Description,
		Type:        in.Type,
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, rc, audit.ActionRoleCreate, "role", role.ID.String(), map[string]any{"role_name": role.Name})
	return role, nil
}

// UpdateRoleInput carries mutable role fields.
type UpdateRoleInput struct {
	DisplayName string
	Description string
}

// UpdateRole changes display fields. System roles accept display updates;
// their name, type and grants stay fixed.
func (s *Service) UpdateRole(ctx context.Context, id uuid.UUID, in UpdateRoleInput, rc shared.RequestContext) (*authz.Role, error) {
	role, err := s.repo.FindRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.DisplayName != "" {
		role.DisplayName = in.DisplayName
	}
	role.Description = in.Description
	if err := s.repo.UpdateRole(ctx, role); err != nil {
		return nil, err
	}
	s.audit(ctx, rc, audit.ActionRoleUpdate, "role", role.ID.String(), map[string]any{"role_name": role.Name})
	return role, nil
}

// DeleteRole removes a role. System roles and roles still assigned to users
// are protected.
func (s *Service) DeleteRole(ctx context.Context, id uuid.UUID, rc shared.RequestContext) error {
	role, err := s.repo.FindRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return shared.BusinessRule("system role %q cannot be deleted", role.Name)
	}
	assigned, err := s.repo.CountUsersWithRole(ctx, id)
	if err != nil {
		return err
	}
	if assigned > 0 {
		return shared.BusinessRule("role %q is assigned to %d users", role.Name, assigned)
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, rc, audit.ActionRoleDelete, "role", id.String(), map[string]any{"role_name": role.Name})
	return nil
}

// Role fetches a single role.
func (s *Service) Role(ctx context.Context, id uuid.UUID) (*authz.Role, error) {
	return s.repo.FindRole(ctx, id)
}

// Roles lists the role catalog.
func (s *Service) Roles(ctx context.Context) ([]authz.Role, error) {
	return s.repo.ListRoles(ctx)
}

// SetRolePermissions replaces a role's grants and revokes every holder's
// outstanding tokens, forcing permission recomputation on next use.
func (s *Service) SetRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID, rc shared.RequestContext) error {
	role, err := s.repo.FindRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return shared.BusinessRule("system role %q grants are immutable", role.Name)
	}
	for _, pid := range permissionIDs {
		if _, err := s.repo.FindPermission(ctx, pid); err != nil {
			return err
		}
	}
	if err := s.repo.SetRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	holders, err := s.repo.UserIDsWithRole(ctx, roleID)
	if err != nil {
		return err
	}
	for _, userID := range holders {
		s.revoke(ctx, userID)
	}
	s.audit(ctx, rc, audit.ActionRolePermissionsUpdate, "role", roleID.String(), map[string]any{
		"role_name":        role.Name,
		"permission_count": len(permissionIDs),
		"affected_users":   len(holders),
	})
	return nil
}

// CreatePermissionInput carries the fields for a new permission.
type CreatePermissionInput struct {
	Name        string
	DisplayName string
	Description string
}

// CreatePermission registers a permission in the catalog. The name must be
// a well-formed three-segment identifier with no wildcard segments; wildcard
// grants exist only through the seeded system catalog.
func (s *Service) CreatePermission(ctx context.Context, in CreatePermissionInput, rc shared.RequestContext) (*authz.Permission, error) {
	name, err := authz.ParseName(in.Name)
	if err != nil {
		return nil, shared.BusinessRule("invalid permission name %q", in.Name)
	}
	if name.HasWildcard() {
		return nil, shared.BusinessRule("wildcard permission %q cannot be created", in.Name)
	}
	if in.DisplayName == "" {
		in.DisplayName = displayNameOf(in.Name)
	}
	perm, err := s.repo.CreatePermission(ctx, &authz.Permission{
		Name:        name,
		DisplayName: in.DisplayName,
		Description: in.Description,
		Module:      name.Module(),
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, rc, audit.ActionPermissionCreate, "permission", perm.ID.String(), map[string]any{"permission_name": perm.Name.String()})
	return perm, nil
}

// UpdatePermission changes display fields. The name is immutable.
func (s *Service) UpdatePermission(ctx context.Context, id uuid.UUID, displayName, description string, rc shared.RequestContext) (*authz.Permission, error) {
	perm, err := s.repo.FindPermission(ctx, id)
	if err != nil {
		return nil, err
	}
	if displayName != "" {
		perm.DisplayName = displayName
	}
	perm.Description = description
	if err := s.repo.UpdatePermission(ctx, perm); err != nil {
		return nil, err
	}
	s.audit(ctx, rc, audit.ActionPermissionUpdate, "permission", perm.ID.String(), map[string]any{"permission_name": perm.Name.String()})
	return perm, nil
}

// DeletePermission removes a permission unless a role still grants it.
func (s *Service) DeletePermission(ctx context.Context, id uuid.UUID, rc shared.RequestContext) error {
	perm, err := s.repo.FindPermission(ctx, id)
	if err != nil {
		return err
	}
	refs, err := s.repo.CountRolesReferencingPermission(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return shared.BusinessRule("permission %q is granted by %d roles", perm.Name.String(), refs)
	}
	if err := s.repo.DeletePermission(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, rc, audit.ActionPermissionDelete, "permission", id.String(), map[string]any{"permission_name": perm.Name.String()})
	return nil
}

// Permissions lists the permission catalog.
func (s *Service) Permissions(ctx context.Context) ([]authz.Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// AssignRole grants a role to a user and revokes their outstanding tokens.
func (s *Service) AssignRole(ctx context.Context, userID int64, roleID uuid.UUID, rc shared.RequestContext) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	role, err := s.repo.FindRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.repo.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.revoke(ctx, userID)
	s.audit(ctx, rc, audit.ActionUserRoleAssign, "user", user.Email, map[string]any{
		"target_user_id": userID,
		"role_name":      role.Name,
	})
	return nil
}

// RemoveRole revokes a role from a user and revokes their outstanding
// tokens.
func (s *Service) RemoveRole(ctx context.Context, userID int64, roleID uuid.UUID, rc shared.RequestContext) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	role, err := s.repo.FindRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.repo.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.revoke(ctx, userID)
	s.audit(ctx, rc, audit.ActionUserRoleRemove, "user", user.Email, map[string]any{
		"target_user_id": userID,
		"role_name":      role.Name,
	})
	return nil
}

// CreateUserInput carries the fields for a new account.
type CreateUserInput struct {
	Email      string
	Name       string
	Password   string
	SuperAdmin bool
}

// CreateUser provisions an account with a hashed credential.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput, rc shared.RequestContext) (*auth.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user, err := s.users.Create(ctx, &auth.User{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: string(hash),
		IsActive:     true,
		IsSuperAdmin: in.SuperAdmin,
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, rc, audit.ActionUserCreate, "user", user.Email, map[string]any{"target_user_id": user.ID})
	return user, nil
}

// UpdateUserInput carries the mutable profile fields.
type UpdateUserInput struct {
	Name  string
	Email string
}

// UpdateUser edits profile fields. Activation state and roles have their own
// operations so a profile edit never touches the key version.
func (s *Service) UpdateUser(ctx context.Context, id int64, in UpdateUserInput, rc shared.RequestContext) (*auth.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != "" {
		user.Name = in.Name
	}
	if in.Email != "" {
		user.Email = in.Email
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	s.audit(ctx, rc, audit.ActionUserUpdate, "user", user.Email, map[string]any{"target_user_id": id})
	return user, nil
}

// Users lists accounts.
func (s *Service) Users(ctx context.Context, page, pageSize int) ([]auth.User, shared.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	users, total, err := s.users.List(ctx, pageSize, offset)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return users, shared.NewPagination(page, pageSize, total), nil
}

// User fetches a single account with its roles.
func (s *Service) User(ctx context.Context, id int64) (*auth.User, []authz.Role, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	roles, err := s.repo.RolesForUser(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return user, roles, nil
}

// SuspendUser deactivates the account and revokes its tokens. Suspended
// principals resolve to an empty permission set.
func (s *Service) SuspendUser(ctx context.Context, id int64, rc shared.RequestContext) error {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if id == rc.PrincipalID {
		return shared.BusinessRule("cannot suspend own account")
	}
	if err := s.users.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.revoke(ctx, id)
	s.audit(ctx, rc, audit.ActionUserSuspend, "user", user.Email, map[string]any{"target_user_id": id})
	return nil
}

// ActivateUser reinstates a suspended account.
func (s *Service) ActivateUser(ctx context.Context, id int64, rc shared.RequestContext) error {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.users.SetActive(ctx, id, true); err != nil {
		return err
	}
	s.audit(ctx, rc, audit.ActionUserActivate, "user", user.Email, map[string]any{"target_user_id": id})
	return nil
}

// DeleteUser removes the account.
func (s *Service) DeleteUser(ctx context.Context, id int64, rc shared.RequestContext) error {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if id == rc.PrincipalID {
		return shared.BusinessRule("cannot delete own account")
	}
	// Revoke while the row still exists so outstanding access tokens die by
	// version mismatch, not only by the lookup failing post-delete.
	s.revoke(ctx, id)
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, rc, audit.ActionUserDelete, "user", user.Email, map[string]any{"target_user_id": id})
	return nil
}

// EffectiveForUser computes the user's reduced permission set.
func (s *Service) EffectiveForUser(ctx context.Context, userID int64) ([]authz.Permission, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles, err := s.repo.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.engine.Effective(user, roles), nil
}

// FlattenedForUser returns the user's request-time check strings.
func (s *Service) FlattenedForUser(ctx context.Context, userID int64) ([]string, error) {
	perms, err := s.EffectiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.engine.Flatten(perms), nil
}

// MatrixForUser returns the module/resource/action view of the user's
// effective permissions.
func (s *Service) MatrixForUser(ctx context.Context, userID int64) (map[string]map[string][]string, error) {
	perms, err := s.EffectiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.engine.Matrix(perms), nil
}

// revoke advances the user's key version and drops their cached permission
// strings. Revocation failures on deleted users are expected and ignored.
func (s *Service) revoke(ctx context.Context, userID int64) {
	if _, err := s.users.IncrementKeyVersion(ctx, userID); err != nil {
		s.logger.Warn("advance key version", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("invalidate permission cache", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (s *Service) audit(ctx context.Context, rc shared.RequestContext, action audit.Action, resourceType, resourceID string, metadata map[string]any) {
	actorID := rc.PrincipalID
	entry := audit.Entry{
		Action:       action,
		ActorName:    rc.Email,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      audit.OutcomeSuccess,
		Context:      rc,
		Metadata:     metadata,
	}
	if actorID != 0 {
		entry.ActorID = &actorID
	}
	s.auditor.Record(ctx, entry)
}

// displayNameOf derives a human label from a machine name, e.g.
// "user.role.assign" becomes "User Role Assign".
func displayNameOf(name string) string {
	cleaned := strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(name)
	return titleCaser.String(cleaned)
}
