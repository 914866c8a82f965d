package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/modelgate/modelgate/internal/authz"
	"github.com/modelgate/modelgate/internal/platform/httpx"
	"github.com/modelgate/modelgate/internal/shared"
)

// PermissionSource computes the flattened permission strings for a user at
// their current key version.
type PermissionSource interface {
	FlattenedForUser(ctx context.Context, userID int64) ([]string, error)
}

// Middleware resolves the bearer credential into a typed request context.
type Middleware struct {
	Tokens *TokenPolicy
	Repo   Repository
	Perms  PermissionSource
	Cache  *authz.Cache
	Logger *slog.Logger
}

// RequireAuth validates the access token, loads the principal and attaches a
// populated shared.RequestContext. Distinct failure details let clients pick
// the right recovery: expired tokens refresh silently, version mismatches
// force re-login.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			return
		}
		userID, err := m.Tokens.ValidateAccess(r.Context(), token)
		if err != nil {
			m.respondTokenError(w, err)
			return
		}
		user, err := m.Repo.FindByID(r.Context(), userID)
		if err != nil || !user.IsActive {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "account unavailable")
			return
		}
		granted, err := m.grantedPermissions(r.Context(), user)
		if err != nil {
			m.log().Error("load permissions", slog.Int64("user_id", user.ID), slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		rc := shared.RequestContext{
			PrincipalID: user.ID,
			Email:       user.Email,
			SuperAdmin:  user.IsSuperAdmin,
			Permissions: granted,
			IP:          r.RemoteAddr,
			UserAgent:   r.UserAgent(),
			RequestID:   chimw.GetReqID(r.Context()),
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithRequest(r.Context(), rc)))
	})
}

// grantedPermissions serves from the redis cache when possible; the cache
// key embeds the key version, so revocations miss naturally.
func (m Middleware) grantedPermissions(ctx context.Context, user *User) ([]string, error) {
	if user.IsSuperAdmin {
		return []string{authz.Wildcard + ":" + authz.Wildcard}, nil
	}
	if granted, ok, err := m.Cache.Get(ctx, user.ID, user.KeyVersion); err == nil && ok {
		return granted, nil
	} else if err != nil {
		m.log().Warn("permission cache read", slog.Any("error", err))
	}
	granted, err := m.Perms.FlattenedForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if err := m.Cache.Set(ctx, user.ID, user.KeyVersion, granted); err != nil {
		m.log().Warn("permission cache write", slog.Any("error", err))
	}
	return granted, nil
}

func (m Middleware) respondTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		httpx.Problem(w, http.StatusUnauthorized, "Token Expired", err.Error())
	case errors.Is(err, ErrVersionMismatch):
		httpx.Problem(w, http.StatusUnauthorized, "Token Revoked", err.Error())
	case errors.Is(err, ErrWrongTokenType):
		httpx.Problem(w, http.StatusUnauthorized, "Wrong Token Type", err.Error())
	default:
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
	}
}

func (m Middleware) log() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
