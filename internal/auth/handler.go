package auth

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/modelgate/modelgate/internal/platform/httpx"
	"github.com/modelgate/modelgate/internal/shared"
)

// Handler exposes the authentication endpoints.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

// Routes mounts the public and authenticated auth endpoints. requireAuth is
// the bearer middleware; login and refresh stay outside it. loginLimit, when
// non-nil, throttles the credential endpoints per client IP.
func (h *Handler) Routes(requireAuth func(http.Handler) http.Handler, loginLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		if loginLimit != nil {
			r.Use(loginLimit)
		}
		r.Post("/login", h.login)
		r.Post("/refresh", h.refresh)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/logout", h.logout)
		r.Post("/password", h.changePassword)
		r.Get("/me", h.me)
	})
	return r
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	TokenType    string       `json:"token_type"`
	User         *userProfile `json:"user,omitempty"`
}

type userProfile struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	SuperAdmin bool   `json:"is_super_admin"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, err)
		return
	}
	pair, user, err := h.svc.Login(r.Context(), req.Email, req.Password, anonymousContext(r))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		User:         profileOf(user),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, err)
		return
	}
	access, err := h.svc.Refresh(r.Context(), req.RefreshToken, anonymousContext(r))
	if err != nil {
		h.tokenError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tokenResponse{AccessToken: access, TokenType: "Bearer"})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), shared.RequestFromContext(r.Context())); err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.NoContent(w)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, err)
		return
	}
	rc := shared.RequestFromContext(r.Context())
	if err := h.svc.ChangePassword(r.Context(), req.CurrentPassword, req.NewPassword, rc); err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.NoContent(w)
}

type meResponse struct {
	User        userProfile         `json:"user"`
	Permissions []string            `json:"permissions"`
	Matrix      map[string][]string `json:"matrix"`
}

// me returns the caller's profile along with the flattened permission
// strings resolved by the middleware, grouped into a resource to actions
// matrix for UI consumption.
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	rc := shared.RequestFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, meResponse{
		User: userProfile{
			ID:         rc.PrincipalID,
			Email:      rc.Email,
			SuperAdmin: rc.SuperAdmin,
		},
		Permissions: rc.Permissions,
		Matrix:      matrixOf(rc.Permissions),
	})
}

func (h *Handler) tokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		httpx.Problem(w, http.StatusUnauthorized, "Token Expired", err.Error())
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrWrongTokenType), errors.Is(err, ErrVersionMismatch):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
	default:
		httpx.Error(w, err)
	}
}

func profileOf(u *User) *userProfile {
	if u == nil {
		return nil
	}
	return &userProfile{ID: u.ID, Email: u.Email, Name: u.Name, SuperAdmin: u.IsSuperAdmin}
}

func matrixOf(granted []string) map[string][]string {
	matrix := make(map[string][]string)
	for _, g := range granted {
		resource, action, ok := strings.Cut(g, ":")
		if !ok {
			continue
		}
		matrix[resource] = append(matrix[resource], action)
	}
	for _, actions := range matrix {
		sort.Strings(actions)
	}
	return matrix
}

func anonymousContext(r *http.Request) shared.RequestContext {
	return shared.RequestContext{
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
		RequestID: chimw.GetReqID(r.Context()),
	}
}
