package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasExactMatch(t *testing.T) {
	granted := []string{"users:read", "roles:update"}
	assert.True(t, Has(granted, "users", "read"))
	assert.False(t, Has(granted, "users", "update"))
}

func TestHasResourceWildcard(t *testing.T) {
	granted := []string{"users:*"}
	assert.True(t, Has(granted, "users", "delete"))
	assert.False(t, Has(granted, "roles", "read"))
}

func TestHasActionAcrossResources(t *testing.T) {
	granted := []string{"*:read"}
	assert.True(t, Has(granted, "users", "read"))
	assert.True(t, Has(granted, "records", "read"))
	assert.False(t, Has(granted, "users", "update"))
}

func TestHasGlobalWildcard(t *testing.T) {
	granted := []string{"*:*"}
	assert.True(t, Has(granted, "users", "delete"))
	assert.True(t, Has(granted, "anything", "at_all"))
}

func TestHasNeverPanicsOnEmptyInput(t *testing.T) {
	assert.False(t, Has(nil, "users", "read"))
	assert.False(t, Has([]string{"users:read"}, "", "read"))
	assert.False(t, Has([]string{"users:read"}, "users", ""))
}
