package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memVersionStore struct {
	versions map[int64]int64
}

func newMemVersionStore() *memVersionStore {
	return &memVersionStore{versions: make(map[int64]int64)}
}

func (s *memVersionStore) IncrementKeyVersion(_ context.Context, userID int64) (int64, error) {
	s.versions[userID]++
	return s.versions[userID], nil
}

func (s *memVersionStore) KeyVersion(_ context.Context, userID int64) (int64, error) {
	return s.versions[userID], nil
}

func newTestPolicy(t *testing.T, store VersionStore) *TokenPolicy {
	t.Helper()
	policy, err := NewTokenPolicy("test-secret", "modelgate-test", 15*time.Minute, 720*time.Hour, store)
	require.NoError(t, err)
	return policy
}

func TestNewTokenPolicyRequiresSecret(t *testing.T) {
	_, err := NewTokenPolicy("", "issuer", 0, 0, newMemVersionStore())
	require.Error(t, err)
}

func TestIssueAccessAdvancesKeyVersion(t *testing.T) {
	ctx := context.Background()
	store := newMemVersionStore()
	store.versions[7] = 3
	policy := newTestPolicy(t, store)

	token, version, err := policy.IssueAccess(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(4), version)
	assert.NotEmpty(t, token)

	userID, err := policy.ValidateAccess(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)
}

func TestIssueAccessRevokesPriorGeneration(t *testing.T) {
	ctx := context.Background()
	store := newMemVersionStore()
	policy := newTestPolicy(t, store)

	first, _, err := policy.IssueAccess(ctx, 42)
	require.NoError(t, err)
	_, err = policy.ValidateAccess(ctx, first)
	require.NoError(t, err)

	second, _, err := policy.IssueAccess(ctx, 42)
	require.NoError(t, err)

	_, err = policy.ValidateAccess(ctx, first)
	assert.ErrorIs(t, err, ErrVersionMismatch)

	userID, err := policy.ValidateAccess(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestValidateAccessRejectsRefreshToken(t *testing.T) {
	ctx := context.Background()
	policy := newTestPolicy(t, newMemVersionStore())

	refresh, err := policy.IssueRefresh(9)
	require.NoError(t, err)

	_, err = policy.ValidateAccess(ctx, refresh)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestValidateRefreshRejectsAccessToken(t *testing.T) {
	ctx := context.Background()
	policy := newTestPolicy(t, newMemVersionStore())

	access, _, err := policy.IssueAccess(ctx, 9)
	require.NoError(t, err)

	_, err = policy.ValidateRefresh(access)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestValidateAccessExpired(t *testing.T) {
	ctx := context.Background()
	store := newMemVersionStore()
	policy := newTestPolicy(t, store)

	issued := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	policy.clock = func() time.Time { return issued }
	token, _, err := policy.IssueAccess(ctx, 5)
	require.NoError(t, err)

	policy.clock = func() time.Time { return issued.Add(16 * time.Minute) }
	_, err = policy.ValidateAccess(ctx, token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateAccessGarbage(t *testing.T) {
	ctx := context.Background()
	policy := newTestPolicy(t, newMemVersionStore())

	_, err := policy.ValidateAccess(ctx, "not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessWrongSecret(t *testing.T) {
	ctx := context.Background()
	store := newMemVersionStore()
	policy := newTestPolicy(t, store)

	token, _, err := policy.IssueAccess(ctx, 3)
	require.NoError(t, err)

	other, err := NewTokenPolicy("different-secret", "modelgate-test", 0, 0, store)
	require.NoError(t, err)
	_, err = other.ValidateAccess(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshTokenCarriesNoVersion(t *testing.T) {
	store := newMemVersionStore()
	policy := newTestPolicy(t, store)

	refresh, err := policy.IssueRefresh(11)
	require.NoError(t, err)
	assert.Empty(t, store.versions, "refresh issuance must not touch the version counter")

	userID, err := policy.ValidateRefresh(refresh)
	require.NoError(t, err)
	assert.Equal(t, int64(11), userID)
}
