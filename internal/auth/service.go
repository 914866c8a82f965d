package auth

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/modelgate/modelgate/internal/audit"
	"github.com/modelgate/modelgate/internal/shared"
)

// Recorder is the audit side channel. Implementations must be
// fire-and-forget.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry)
}

// CacheInvalidator drops cached permission strings after a revocation.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, principalID int64) error
}

// TokenPair bundles a freshly issued credential pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Service wraps authentication business rules.
type Service struct {
	repo    Repository
	tokens  *TokenPolicy
	cache   CacheInvalidator
	auditor Recorder
	logger  *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, tokens *TokenPolicy, cache CacheInvalidator, auditor Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, tokens: tokens, cache: cache, auditor: auditor, logger: logger}
}

// Authenticate validates email/password credentials. Every failure collapses
// to ErrInvalidCredentials so callers cannot distinguish unknown accounts
// from wrong passwords.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and issues a token pair, auditing the attempt either
// way. Note the access issuance advances key_version, so a second login
// invalidates the first login's access token.
func (s *Service) Login(ctx context.Context, email, password string, rc shared.RequestContext) (TokenPair, *User, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		s.auditor.Record(ctx, audit.Entry{
			Action:       audit.ActionLoginFailed,
			Outcome:      audit.OutcomeFailure,
			ErrorMessage: "invalid credentials",
			Context:      rc,
			Metadata: map[string]any{
				"login_method":    "password",
				"session_id":      rc.RequestID,
				"attempted_email": email,
			},
		})
		return TokenPair{}, nil, err
	}

	access, _, err := s.tokens.IssueAccess(ctx, user.ID)
	if err != nil {
		return TokenPair{}, nil, err
	}
	refresh, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return TokenPair{}, nil, err
	}

	s.auditor.Record(ctx, audit.Entry{
		Action:    audit.ActionUserLogin,
		ActorID:   &user.ID,
		ActorName: user.Email,
		Outcome:   audit.OutcomeSuccess,
		Context:   rc,
		Metadata: map[string]any{
			"login_method": "password",
			"session_id":   rc.RequestID,
		},
	})
	return TokenPair{AccessToken: access, RefreshToken: refresh}, user, nil
}

// Refresh validates a refresh token and mints a new access token. The
// principal's active state is re-checked against the store; it is not
// embedded in the refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string, rc shared.RequestContext) (string, error) {
	userID, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return "", err
	}
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	if !user.IsActive {
		return "", ErrInvalidToken
	}
	access, _, err := s.tokens.IssueAccess(ctx, user.ID)
	if err != nil {
		return "", err
	}
	s.auditor.Record(ctx, audit.Entry{
		Action:    audit.ActionTokenRefresh,
		ActorID:   &user.ID,
		ActorName: user.Email,
		Outcome:   audit.OutcomeSuccess,
		Context:   rc,
		Metadata: map[string]any{
			"login_method": "refresh_token",
			"session_id":   rc.RequestID,
		},
	})
	return access, nil
}

// Logout revokes every outstanding access token for the principal by
// advancing the key version, and drops the cached permission strings.
func (s *Service) Logout(ctx context.Context, rc shared.RequestContext) error {
	if _, err := s.repo.IncrementKeyVersion(ctx, rc.PrincipalID); err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx, rc.PrincipalID); err != nil {
		s.logger.Warn("invalidate permission cache", slog.Any("error", err))
	}
	s.auditor.Record(ctx, audit.Entry{
		Action:    audit.ActionUserLogout,
		ActorID:   &rc.PrincipalID,
		ActorName: rc.Email,
		Outcome:   audit.OutcomeSuccess,
		Context:   rc,
		Metadata: map[string]any{
			"login_method": "password",
			"session_id":   rc.RequestID,
		},
	})
	return nil
}

// ChangePassword verifies the current password, stores the new hash and
// revokes all outstanding tokens.
func (s *Service) ChangePassword(ctx context.Context, current, next string, rc shared.RequestContext) error {
	user, err := s.repo.FindByID(ctx, rc.PrincipalID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		s.auditor.Record(ctx, audit.Entry{
			Action:       audit.ActionPasswordChange,
			ActorID:      &user.ID,
			ActorName:    user.Email,
			Outcome:      audit.OutcomeFailure,
			ErrorMessage: "current password mismatch",
			Context:      rc,
			Metadata:     map[string]any{"login_method": "password", "session_id": rc.RequestID},
		})
		return shared.ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.SetPasswordHash(ctx, user.ID, string(hash)); err != nil {
		return err
	}
	if _, err := s.repo.IncrementKeyVersion(ctx, user.ID); err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx, user.ID); err != nil {
		s.logger.Warn("invalidate permission cache", slog.Any("error", err))
	}
	s.auditor.Record(ctx, audit.Entry{
		Action:    audit.ActionPasswordChange,
		ActorID:   &user.ID,
		ActorName: user.Email,
		Outcome:   audit.OutcomeSuccess,
		Context:   rc,
		Metadata:  map[string]any{"login_method": "password", "session_id": rc.RequestID},
	})
	return nil
}
