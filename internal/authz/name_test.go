package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNameRoundTrip(t *testing.T) {
	for _, raw := range []string{
		"user.users.read",
		"model.models.view",
		"*.*.*",
		"user.*.manage",
		"audit.records.*",
		"sys.api_keys.rotate2",
	} {
		name, err := ParseName(raw)
		require.NoError(t, err, raw)
		again, err := ParseName(name.String())
		require.NoError(t, err, raw)
		assert.Equal(t, name, again, raw)
	}
}

func TestParseNameRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"user",
		"user.users",
		"user.users.read.extra",
		"user..read",
		"User.users.read",
		"user.users.Read",
		"1user.users.read",
		"user.users._read",
		"user.users.re-ad",
		"user.users. read",
	} {
		_, err := ParseName(raw)
		require.Error(t, err, raw)
		assert.ErrorIs(t, err, ErrFormat, raw)
	}
}

func TestCoversWildcards(t *testing.T) {
	all := MustName("*.*.*")
	for _, raw := range []string{"user.users.read", "model.models.view", "*.*.*", "user.*.*"} {
		assert.True(t, all.Covers(MustName(raw)), raw)
	}

	userAll := MustName("user.*.*")
	assert.True(t, userAll.Covers(MustName("user.roles.create")))
	assert.False(t, userAll.Covers(MustName("model.models.view")))
	// One-directional: the specific name never covers the wildcard.
	assert.False(t, MustName("user.roles.create").Covers(userAll))
}

func TestCoversActionHierarchy(t *testing.T) {
	admin := MustName("user.users.admin")
	manage := MustName("user.users.manage")
	write := MustName("user.users.write")
	read := MustName("user.users.read")

	for _, action := range []string{"create", "read", "update", "delete", "manage"} {
		assert.True(t, admin.Covers(MustName("user.users."+action)), action)
	}
	for _, action := range []string{"create", "read", "update", "delete"} {
		assert.True(t, manage.Covers(MustName("user.users."+action)), action)
	}
	assert.False(t, manage.Covers(admin))

	assert.True(t, write.Covers(MustName("user.users.create")))
	assert.True(t, write.Covers(MustName("user.users.update")))
	assert.False(t, write.Covers(MustName("user.users.delete")))
	assert.False(t, write.Covers(MustName("user.users.read")))

	assert.True(t, read.Covers(read))
	assert.False(t, read.Covers(MustName("user.users.delete")))
}

func TestCoversDoesNotChainThroughHierarchy(t *testing.T) {
	// admin covers manage and manage covers delete, but coverage of actions
	// outside the fixed table never chains: an unlisted action only matches
	// itself or a wildcard.
	custom := MustName("billing.invoices.approve")
	assert.True(t, custom.Covers(custom))
	assert.False(t, custom.Covers(MustName("billing.invoices.read")))
	assert.False(t, MustName("billing.invoices.manage").Covers(custom))
	assert.True(t, MustName("billing.invoices.*").Covers(custom))
}

func TestCoversRequiresMatchingOuterSegments(t *testing.T) {
	assert.False(t, MustName("user.users.admin").Covers(MustName("user.roles.read")))
	assert.False(t, MustName("user.users.admin").Covers(MustName("model.users.read")))
}
