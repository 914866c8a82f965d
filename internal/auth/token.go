package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token validation failures. Each is distinct because callers react
// differently: an expired token typically triggers a silent refresh, a
// version mismatch a forced re-login.
var (
	ErrInvalidToken    = errors.New("auth: invalid token")
	ErrTokenExpired    = errors.New("auth: token expired")
	ErrWrongTokenType  = errors.New("auth: wrong token type")
	ErrVersionMismatch = errors.New("auth: key version mismatch")
)

// TokenType distinguishes access from refresh credentials.
type TokenType string

// Token types.
const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the only supported claim shape. KeyVersion is present on access
// tokens only; refresh validity is controlled purely by expiry.
type Claims struct {
	jwt.RegisteredClaims

	KeyVersion int64     `json:"key_version,omitempty"`
	TokenType  TokenType `json:"token_type"`
}

// VersionStore exposes the durable key-version counter. IncrementKeyVersion
// must advance atomically under the store's transaction semantics: two
// concurrent privilege changes may both increment, and each must strictly
// advance the counter.
type VersionStore interface {
	IncrementKeyVersion(ctx context.Context, userID int64) (int64, error)
	KeyVersion(ctx context.Context, userID int64) (int64, error)
}

// TokenPolicy issues and validates access/refresh credentials bound to the
// per-principal key version.
type TokenPolicy struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      VersionStore
	clock      func() time.Time
}

// NewTokenPolicy constructs a TokenPolicy. The signing secret is required.
func NewTokenPolicy(secret, issuer string, accessTTL, refreshTTL time.Duration, store VersionStore) (*TokenPolicy, error) {
	if secret == "" {
		return nil, errors.New("auth: token secret required")
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &TokenPolicy{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		store:      store,
		clock:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// IssueAccess mints an access token for the user. It increments the user's
// key version first and binds the new version into the token, so every
// issuance invalidates all previously issued access tokens for the same
// principal. That sliding single-active-generation policy is deliberate and
// kept as-is pending product confirmation.
func (p *TokenPolicy) IssueAccess(ctx context.Context, userID int64) (string, int64, error) {
	version, err := p.store.IncrementKeyVersion(ctx, userID)
	if err != nil {
		return "", 0, err
	}
	token, err := p.sign(userID, TokenTypeAccess, version, p.accessTTL)
	if err != nil {
		return "", 0, err
	}
	return token, version, nil
}

// IssueRefresh mints a refresh token. It carries no key version: refresh
// validity is bounded by expiry alone, and the caller must re-check the
// principal's state before minting a new access token.
func (p *TokenPolicy) IssueRefresh(userID int64) (string, error) {
	return p.sign(userID, TokenTypeRefresh, 0, p.refreshTTL)
}

// ValidateAccess verifies signature, expiry, token type and key version,
// returning the principal id on success.
func (p *TokenPolicy) ValidateAccess(ctx context.Context, token string) (int64, error) {
	claims, err := p.parse(token)
	if err != nil {
		return 0, err
	}
	if claims.TokenType != TokenTypeAccess {
		return 0, ErrWrongTokenType
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	current, err := p.store.KeyVersion(ctx, userID)
	if err != nil {
		return 0, err
	}
	if current != claims.KeyVersion {
		return 0, ErrVersionMismatch
	}
	return userID, nil
}

// ValidateRefresh verifies signature, expiry and token type, returning the
// principal id. The caller must independently re-check the principal's
// active state: it is not embedded in the token.
func (p *TokenPolicy) ValidateRefresh(token string) (int64, error) {
	claims, err := p.parse(token)
	if err != nil {
		return 0, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return 0, ErrWrongTokenType
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

func (p *TokenPolicy) sign(userID int64, tokenType TokenType, version int64, ttl time.Duration) (string, error) {
	now := p.clock()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		KeyVersion: version,
		TokenType:  tokenType,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

func (p *TokenPolicy) parse(token string) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.clock),
		jwt.WithLeeway(30*time.Second),
	)
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
