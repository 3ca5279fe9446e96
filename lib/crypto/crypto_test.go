package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)
	require.True(t, s.Enabled())

	sealed, err := s.Seal(`{"token":"secret"}`)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "secret")
	assert.True(t, IsEncrypted(sealed))

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"token":"secret"}`, opened)
}

func TestSealer_PlaintextPassThrough(t *testing.T) {
	s, err := NewSealer("")
	require.NoError(t, err)
	assert.False(t, s.Enabled())

	sealed, err := s.Seal(`{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, sealed)

	enabled, err := NewSealer(testKey)
	require.NoError(t, err)
	opened, err := enabled.Open(`{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, opened)
}

func TestSealer_OpenWithoutKey(t *testing.T) {
	enabled, err := NewSealer(testKey)
	require.NoError(t, err)
	sealed, err := enabled.Seal("value")
	require.NoError(t, err)

	_, err = (&Sealer{}).Open(sealed)
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestNewSealer_RejectsShortKey(t *testing.T) {
	_, err := NewSealer("short")
	assert.Error(t, err)
}
