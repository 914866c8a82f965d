package rbac

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/auth"
	"github.com/modelgate/modelgate/internal/authz"
	"github.com/modelgate/modelgate/internal/platform/httpx"
	"github.com/modelgate/modelgate/internal/shared"
)

// Handler exposes role, permission and user administration endpoints.
type Handler struct {
	svc      *Service
	guard    Guard
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, guard Guard) *Handler {
	return &Handler{svc: svc, guard: guard, validate: validator.New()}
}

// RoleRoutes mounts /roles.
func (h *Handler) RoleRoutes() chi.Router {
	r := chi.NewRouter()
	r.With(h.guard.Require("role", "read")).Get("/", h.listRoles)
	r.With(h.guard.Require("role", "create")).Post("/", h.createRole)
	r.With(h.guard.Require("role", "read")).Get("/{id}", h.getRole)
	r.With(h.guard.Require("role", "update")).Put("/{id}", h.updateRole)
	r.With(h.guard.Require("role", "delete")).Delete("/{id}", h.deleteRole)
	r.With(h.guard.Require("role", "update")).Put("/{id}/permissions", h.setRolePermissions)
	return r
}

// PermissionRoutes mounts /permissions.
func (h *Handler) PermissionRoutes() chi.Router {
	r := chi.NewRouter()
	r.With(h.guard.Require("permission", "read")).Get("/", h.listPermissions)
	r.With(h.guard.Require("permission", "create")).Post("/", h.createPermission)
	r.With(h.guard.Require("permission", "update")).Put("/{id}", h.updatePermission)
	r.With(h.guard.Require("permission", "delete")).Delete("/{id}", h.deletePermission)
	return r
}

// UserRoutes mounts /users.
func (h *Handler) UserRoutes() chi.Router {
	r := chi.NewRouter()
	r.With(h.guard.Require("user", "read")).Get("/", h.listUsers)
	r.With(h.guard.Require("user", "create")).Post("/", h.createUser)
	r.With(h.guard.Require("user", "read")).Get("/{id}", h.getUser)
	r.With(h.guard.Require("user", "update")).Put("/{id}", h.updateUser)
	r.With(h.guard.Require("user", "read")).Get("/{id}/permissions", h.userPermissions)
	r.With(h.guard.Require("user", "update")).Post("/{id}/suspend", h.suspendUser)
	r.With(h.guard.Require("user", "update")).Post("/{id}/activate", h.activateUser)
	r.With(h.guard.Require("user", "delete")).Delete("/{id}", h.deleteUser)
	r.With(h.guard.Require("user", "update")).Post("/{id}/roles/{roleID}", h.assignRole)
	r.With(h.guard.Require("user", "update")).Delete("/{id}/roles/{roleID}", h.removeRole)
	return r
}

type permissionResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	Module      string    `json:"module"`
}

type roleResponse struct {
	ID          uuid.UUID            `json:"id"`
	Name        string               `json:"name"`
	DisplayName string               `json:"display_name"`
	Description string               `json:"description,omitempty"`
	Type        string               `json:"type"`
	IsSystem    bool                 `json:"is_system"`
	Permissions []permissionResponse `json:"permissions"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

type userResponse struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	IsActive   bool      `json:"is_active"`
	SuperAdmin bool      `json:"is_super_admin"`
	Roles      []string  `json:"roles,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.svc.Roles(r.Context())
	if err != nil {
		httpx.Error(w, err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for i := range roles {
		out = append(out, roleView(&roles[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	DisplayName string `json:"display_name" validate:"max=128"`
	Description string `json:"description" validate:"max=512"`
	Type        string `json:"type" validate:"omitempty,oneof=admin developer user custom"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.svc.CreateRole(r.Context(), CreateRoleInput{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Type:        authz.RoleType(req.Type),
	}, shared.RequestFromContext(r.Context()))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, roleView(role))
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r, "id")
	if !ok {
		return
	}
	role, err := h.svc.Role(r.Context(), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roleView(role))
}

type updateRoleRequest struct {
	DisplayName string `json:"display_name" validate:"max=128"`
	Description string `json:"description" validate:"max=512"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r, "id")
	if !ok {
		return
	}
	var req updateRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.svc.UpdateRole(r.Context(), id, UpdateRoleInput(req), shared.RequestFromContext(r.Context()))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roleView(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteRole(r.Context(), id, shared.RequestFromContext(r.Context())); err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.NoContent(w)
}

type setRolePermissionsRequest struct {
	PermissionIDs []uuid.UUID `json:"permission_ids" validate:"required"`
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r, "id")
	if !ok {
		return
	}
	var req setRolePermissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.SetRolePermissions(r.Context(), id, req.PermissionIDs, shared.RequestFromContext(r.Context())); err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.svc.Permissions(r.Context())
	if err != nil {
		httpx.Error(w, err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for i := range perms {
		out = append(out, permissionView(&perms[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

type createPermissionRequest struct {
	Name        string `json:"name" validate:"required,max=128"`
	DisplayName string `json:"display_name" validate:"max=128"`
	Description string `json:"description" validate:"max=512"`
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.svc.CreatePermission(r.Context(), CreatePermissionInput(req), shared.RequestFromContext(r.Context()))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, permissionView(perm))
}

type updatePermissionRequest struct {
	DisplayName string `json:"display_name" validate:"max=128"`
	Description string `json:"description" validate:"max=512"`
}

func (h *Handler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r, "id")
	if !ok {
		return
	}
	var req updatePermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.svc.UpdatePermission(r.Context(), id, req.DisplayName, req.Description, shared.RequestFromContext(r.Context()))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, permissionView(perm))
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeletePermission(r.Context(), id, shared.RequestFromContext(r.Context())); err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	users, pagination, err := h.svc.Users(r.Context(), page, pageSize)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for i := range users {
		out = append(out, userView(&users[i], nil))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"users": out,
		"pagination": map[string]int{
			"page":        pagination.Page,
			"per_page":    pagination.PerPage,
			"total":       pagination.Total,
			"total_pages": pagination.TotalPages,
		},
	})
}

type createUserRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"name" validate:"required,max=128"`
	Password   string `json:"password" validate:"required,min=8"`
	SuperAdmin bool   `json:"is_super_admin"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.svc.CreateUser(r.Context(), CreateUserInput(req), shared.RequestFromContext(r.Context()))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, userView(user, nil))
}

type updateUserRequest struct {
	Name  string `json:"name" validate:"max=128"`
	Email string `json:"email" validate:"omitempty,email"`
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.svc.UpdateUser(r.Context(), id, UpdateUserInput(req), shared.RequestFromContext(r.Context()))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, userView(user, nil))
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	user, roles, err := h.svc.User(r.Context(), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, userView(user, roles))
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	perms, err := h.svc.EffectiveForUser(r.Context(), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	matrix, err := h.svc.MatrixForUser(r.Context(), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for i := range perms {
		out = append(out, permissionView(&perms[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out, "matrix": matrix})
}

func (h *Handler) suspendUser(w http.ResponseWriter, r *http.Request) {
	h.userAction(w, r, h.svc.SuspendUser)
}

func (h *Handler) activateUser(w http.ResponseWriter, r *http.Request) {
	h.userAction(w, r, h.svc.ActivateUser)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	h.userAction(w, r, h.svc.DeleteUser)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	h.roleAssignment(w, r, h.svc.AssignRole)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	h.roleAssignment(w, r, h.svc.RemoveRole)
}

func (h *Handler) userAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64, rc shared.RequestContext) error) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), id, shared.RequestFromContext(r.Context())); err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) roleAssignment(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID int64, roleID uuid.UUID, rc shared.RequestContext) error) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	roleID, ok := h.roleID(w, r, "roleID")
	if !ok {
		return
	}
	if err := fn(r.Context(), id, roleID, shared.RequestFromContext(r.Context())); err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.Decode(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		httpx.Error(w, err)
		return false
	}
	return true
}

func (h *Handler) roleID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed id")
		return 0, false
	}
	return id, true
}

func roleView(role *authz.Role) roleResponse {
	perms := make([]permissionResponse, 0, len(role.Permissions))
	for i := range role.Permissions {
		perms = append(perms, permissionView(&role.Permissions[i]))
	}
	return roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		DisplayName: role.DisplayName,
		Description: role.Description,
		Type:        string(role.Type),
		IsSystem:    role.IsSystem,
		Permissions: perms,
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}

func permissionView(perm *authz.Permission) permissionResponse {
	return permissionResponse{
		ID:          perm.ID,
		Name:        perm.Name.String(),
		DisplayName: perm.DisplayName,
		Description: perm.Description,
		Module:      perm.Module,
	}
}

func userView(user *auth.User, roles []authz.Role) userResponse {
	out := userResponse{
		ID:         user.ID,
		Email:      user.Email,
		Name:       user.Name,
		IsActive:   user.IsActive,
		SuperAdmin: user.IsSuperAdmin,
		CreatedAt:  user.CreatedAt,
	}
	for i := range roles {
		out.Roles = append(out.Roles, roles[i].Name)
	}
	return out
}
