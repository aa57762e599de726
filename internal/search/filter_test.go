package search

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBareTokenIsDistrict(t *testing.T) {
	f, err := Parse("Мясниковский")
	require.NoError(t, err)
	assert.Equal(t, "Мясниковский", f.District)
	assert.Equal(t, DefaultLimit, f.Limit)
}

func TestParseKeyedTokens(t *testing.T) {
	f, err := Parse("район:Мясниковский место:Ленинаван дата:10.01.2025 лимит:25")
	require.NoError(t, err)

	assert.Equal(t, "Мясниковский", f.District)
	assert.Equal(t, "Ленинаван", f.Place)
	assert.Equal(t, "10.01.2025", f.DateFrom)
	assert.Equal(t, 25, f.Limit)
}

func TestParseEnglishAliases(t *testing.T) {
	f, err := Parse("district:west place:lenina date:2025-01-10 limit:5")
	require.NoError(t, err)

	assert.Equal(t, "west", f.District)
	assert.Equal(t, "lenina", f.Place)
	assert.Equal(t, "2025-01-10", f.DateFrom)
	assert.Equal(t, 5, f.Limit)
}

func TestParseRejectsUnknownKey(t *testing.T) {
	_, err := Parse("raion:west")
	require.Error(t, err)

	var unknown *ErrUnknownKey
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "raion", unknown.Key)
}

func TestParseLimit(t *testing.T) {
	f, err := Parse("limit:500")
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, f.Limit, "limit is clamped to the ceiling")

	_, err = Parse("limit:0")
	assert.Error(t, err)

	_, err = Parse("limit:abc")
	assert.Error(t, err)
}

func TestParseEmptyQuery(t *testing.T) {
	f, err := Parse("   ")
	require.NoError(t, err)
	assert.True(t, f.IsEmpty())
	assert.Equal(t, DefaultLimit, f.Limit)
}
