package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/modelgate/modelgate/internal/audit"
	"github.com/modelgate/modelgate/internal/shared"
)

type memUserRepo struct {
	users map[int64]*User
}

func newMemUserRepo(users ...*User) *memUserRepo {
	repo := &memUserRepo{users: make(map[int64]*User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (r *memUserRepo) FindByID(_ context.Context, id int64) (*User, error) {
	if u, ok := r.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, shared.ErrNotFound
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range r.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memUserRepo) List(_ context.Context, _, _ int) ([]User, int, error) {
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (r *memUserRepo) Create(_ context.Context, user *User) (*User, error) {
	user.KeyVersion = 1
	r.users[user.ID] = user
	return user, nil
}

func (r *memUserRepo) Update(_ context.Context, user *User) error {
	if _, ok := r.users[user.ID]; !ok {
		return shared.ErrNotFound
	}
	r.users[user.ID] = user
	return nil
}

func (r *memUserRepo) SetActive(_ context.Context, id int64, active bool) error {
	u, ok := r.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.IsActive = active
	return nil
}

func (r *memUserRepo) SetPasswordHash(_ context.Context, id int64, hash string) error {
	u, ok := r.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *memUserRepo) Delete(_ context.Context, id int64) error {
	delete(r.users, id)
	return nil
}

func (r *memUserRepo) IncrementKeyVersion(_ context.Context, userID int64) (int64, error) {
	u, ok := r.users[userID]
	if !ok {
		return 0, shared.ErrNotFound
	}
	u.KeyVersion++
	return u.KeyVersion, nil
}

func (r *memUserRepo) KeyVersion(_ context.Context, userID int64) (int64, error) {
	u, ok := r.users[userID]
	if !ok {
		return 0, shared.ErrNotFound
	}
	return u.KeyVersion, nil
}

type recordingAuditor struct {
	entries []audit.Entry
}

func (a *recordingAuditor) Record(_ context.Context, e audit.Entry) {
	a.entries = append(a.entries, e)
}

func (a *recordingAuditor) last(t *testing.T) audit.Entry {
	t.Helper()
	require.NotEmpty(t, a.entries)
	return a.entries[len(a.entries)-1]
}

type recordingInvalidator struct {
	invalidated []int64
}

func (c *recordingInvalidator) Invalidate(_ context.Context, principalID int64) error {
	c.invalidated = append(c.invalidated, principalID)
	return nil
}

func hashOf(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func testUser(t *testing.T, id int64, email, password string) *User {
	t.Helper()
	return &User{
		ID:           id,
		Email:        email,
		Name:         "Test User",
		PasswordHash: hashOf(t, password),
		IsActive:     true,
		KeyVersion:   1,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
}

type authFixture struct {
	svc     *Service
	repo    *memUserRepo
	tokens  *TokenPolicy
	auditor *recordingAuditor
	cache   *recordingInvalidator
}

func newAuthFixture(t *testing.T, users ...*User) *authFixture {
	t.Helper()
	repo := newMemUserRepo(users...)
	policy, err := NewTokenPolicy("test-secret", "modelgate-test", 15*time.Minute, 720*time.Hour, repo)
	require.NoError(t, err)
	auditor := &recordingAuditor{}
	cache := &recordingInvalidator{}
	return &authFixture{
		svc:     NewService(repo, policy, cache, auditor, nil),
		repo:    repo,
		tokens:  policy,
		auditor: auditor,
		cache:   cache,
	}
}

func TestLoginSuccess(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, testUser(t, 1, "alice@example.com", "correct-horse"))

	pair, user, err := f.svc.Login(ctx, "alice@example.com", "correct-horse", shared.RequestContext{RequestID: "req-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(1), user.ID)

	entry := f.auditor.last(t)
	assert.Equal(t, audit.ActionUserLogin, entry.Action)
	assert.Equal(t, audit.OutcomeSuccess, entry.Outcome)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, int64(1), *entry.ActorID)
	assert.Equal(t, "req-1", entry.Metadata["session_id"])
}

func TestLoginWrongPassword(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, testUser(t, 1, "alice@example.com", "correct-horse"))

	_, _, err := f.svc.Login(ctx, "alice@example.com", "wrong", shared.RequestContext{})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	entry := f.auditor.last(t)
	assert.Equal(t, audit.ActionLoginFailed, entry.Action)
	assert.Equal(t, audit.OutcomeFailure, entry.Outcome)
	assert.Nil(t, entry.ActorID)
	assert.Equal(t, "alice@example.com", entry.Metadata["attempted_email"])
}

func TestLoginUnknownAccountMatchesWrongPassword(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, testUser(t, 1, "alice@example.com", "correct-horse"))

	_, _, unknownErr := f.svc.Login(ctx, "nobody@example.com", "whatever", shared.RequestContext{})
	_, _, wrongErr := f.svc.Login(ctx, "alice@example.com", "wrong", shared.RequestContext{})
	assert.Equal(t, unknownErr, wrongErr)
}

func TestLoginInactiveAccount(t *testing.T) {
	ctx := context.Background()
	user := testUser(t, 1, "alice@example.com", "correct-horse")
	user.IsActive = false
	f := newAuthFixture(t, user)

	_, _, err := f.svc.Login(ctx, "alice@example.com", "correct-horse", shared.RequestContext{})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLoginRevokesPreviousAccessToken(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, testUser(t, 1, "alice@example.com", "correct-horse"))

	first, _, err := f.svc.Login(ctx, "alice@example.com", "correct-horse", shared.RequestContext{})
	require.NoError(t, err)
	_, err = f.tokens.ValidateAccess(ctx, first.AccessToken)
	require.NoError(t, err)

	second, _, err := f.svc.Login(ctx, "alice@example.com", "correct-horse", shared.RequestContext{})
	require.NoError(t, err)

	_, err = f.tokens.ValidateAccess(ctx, first.AccessToken)
	assert.ErrorIs(t, err, ErrVersionMismatch)
	_, err = f.tokens.ValidateAccess(ctx, second.AccessToken)
	assert.NoError(t, err)
}

func TestRefreshMintsNewAccess(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, testUser(t, 1, "alice@example.com", "correct-horse"))

	pair, _, err := f.svc.Login(ctx, "alice@example.com", "correct-horse", shared.RequestContext{})
	require.NoError(t, err)

	access, err := f.svc.Refresh(ctx, pair.RefreshToken, shared.RequestContext{})
	require.NoError(t, err)

	userID, err := f.tokens.ValidateAccess(ctx, access)
	require.NoError(t, err)
	assert.Equal(t, int64(1), userID)

	entry := f.auditor.last(t)
	assert.Equal(t, audit.ActionTokenRefresh, entry.Action)
}

func TestRefreshRejectsDeactivatedUser(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, testUser(t, 1, "alice@example.com", "correct-horse"))

	pair, _, err := f.svc.Login(ctx, "alice@example.com", "correct-horse", shared.RequestContext{})
	require.NoError(t, err)

	require.NoError(t, f.repo.SetActive(ctx, 1, false))
	_, err = f.svc.Refresh(ctx, pair.RefreshToken, shared.RequestContext{})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, testUser(t, 1, "alice@example.com", "correct-horse"))

	pair, _, err := f.svc.Login(ctx, "alice@example.com", "correct-horse", shared.RequestContext{})
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, pair.AccessToken, shared.RequestContext{})
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestLogoutRevokesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, testUser(t, 1, "alice@example.com", "correct-horse"))

	pair, _, err := f.svc.Login(ctx, "alice@example.com", "correct-horse", shared.RequestContext{})
	require.NoError(t, err)

	rc := shared.RequestContext{PrincipalID: 1, Email: "alice@example.com"}
	require.NoError(t, f.svc.Logout(ctx, rc))

	_, err = f.tokens.ValidateAccess(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrVersionMismatch)
	assert.Equal(t, []int64{1}, f.cache.invalidated)

	entry := f.auditor.last(t)
	assert.Equal(t, audit.ActionUserLogout, entry.Action)
}

func TestChangePasswordRevokesTokens(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, testUser(t, 1, "alice@example.com", "old-password"))

	pair, _, err := f.svc.Login(ctx, "alice@example.com", "old-password", shared.RequestContext{})
	require.NoError(t, err)

	rc := shared.RequestContext{PrincipalID: 1, Email: "alice@example.com"}
	require.NoError(t, f.svc.ChangePassword(ctx, "old-password", "new-password", rc))

	_, err = f.tokens.ValidateAccess(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrVersionMismatch)

	_, _, err = f.svc.Login(ctx, "alice@example.com", "old-password", shared.RequestContext{})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, _, err = f.svc.Login(ctx, "alice@example.com", "new-password", shared.RequestContext{})
	assert.NoError(t, err)
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, testUser(t, 1, "alice@example.com", "old-password"))

	rc := shared.RequestContext{PrincipalID: 1, Email: "alice@example.com"}
	err := f.svc.ChangePassword(ctx, "not-the-password", "new-password", rc)
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	entry := f.auditor.last(t)
	assert.Equal(t, audit.ActionPasswordChange, entry.Action)
	assert.Equal(t, audit.OutcomeFailure, entry.Outcome)
}
