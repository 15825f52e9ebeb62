package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGlobFilter(t *testing.T) {
	filter, err := NewGlobFilter([]string{"users", "orders"}, []string{"production", "staging"}, []string{"*.tmp_*"})
	require.NoError(t, err)
	require.NotNil(t, filter)

	assert.Len(t, filter.tableGlobs, 2)
	assert.Len(t, filter.databaseGlobs, 2)
	assert.Len(t, filter.excludeGlobs, 1)
}

func TestEmptyPatternsMatchEverything(t *testing.T) {
	filter, err := NewGlobFilter(nil, nil, nil)
	require.NoError(t, err)

	assert.True(t, filter.Match("any_db", "any_table"))
	assert.True(t, filter.Match("", ""))

	var none *GlobFilter
	assert.True(t, none.Match("db", "t"))
}

func TestGlobFilterWildcard(t *testing.T) {
	filter, err := NewGlobFilter([]string{"user*"}, []string{"prod*"}, nil)
	require.NoError(t, err)

	assert.True(t, filter.Match("production", "users"))
	assert.True(t, filter.Match("prod_db", "user_accounts"))

	assert.False(t, filter.Match("staging", "users"))
	assert.False(t, filter.Match("production", "orders"))
}

func TestGlobFilterExclude(t *testing.T) {
	filter, err := NewGlobFilter(nil, nil, []string{"*.tmp_*", "audit.*"})
	require.NoError(t, err)

	assert.True(t, filter.Match("shop", "orders"))
	assert.False(t, filter.Match("shop", "tmp_orders"))
	assert.False(t, filter.Match("audit", "log"))
	assert.True(t, filter.Match("audit_v2", "log"))
}

func TestGlobFilterExcludeWinsOverInclude(t *testing.T) {
	filter, err := NewGlobFilter([]string{"*"}, []string{"shop"}, []string{"shop.secrets"})
	require.NoError(t, err)

	assert.True(t, filter.Match("shop", "orders"))
	assert.False(t, filter.Match("shop", "secrets"))
}

func TestGlobFilterInvalidPattern(t *testing.T) {
	_, err := NewGlobFilter([]string{"[invalid"}, nil, nil)
	assert.Error(t, err)

	_, err = NewGlobFilter(nil, nil, []string{"{a,"})
	assert.Error(t, err)
}
