package google

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateCodec_RoundTrip(t *testing.T) {
	codec, err := NewStateCodec(testStateSecret, 0)
	require.NoError(t, err)

	for _, userID := range []string{"abc", "tenant/42 user", "ünïcode"} {
		state, err := codec.Encode(userID)
		require.NoError(t, err)
		assert.NotContains(t, state, " ")

		got, err := codec.Decode(state)
		require.NoError(t, err)
		assert.Equal(t, userID, got)
	}
}

func TestStateCodec_UniquePerCall(t *testing.T) {
	codec, err := NewStateCodec(testStateSecret, time.Minute)
	require.NoError(t, err)

	a, err := codec.Encode("abc")
	require.NoError(t, err)
	b, err := codec.Encode("abc")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestStateCodec_Rejects(t *testing.T) {
	codec, err := NewStateCodec(testStateSecret, time.Minute)
	require.NoError(t, err)
	valid, err := codec.Encode("abc")
	require.NoError(t, err)

	other, err := NewStateCodec([]byte("another-secret-of-sufficient-len"), time.Minute)
	require.NoError(t, err)
	forged, err := other.Encode("abc")
	require.NoError(t, err)

	expiredCodec, err := NewStateCodec(testStateSecret, time.Minute)
	require.NoError(t, err)
	expiredCodec.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := expiredCodec.Encode("abc")
	require.NoError(t, err)

	tests := []struct {
		name  string
		state string
	}{
		{"empty", ""},
		{"raw user id", "abc"},
		{"tampered", valid[:len(valid)-2] + "xx"},
		{"wrong secret", forged},
		{"expired", expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.state)
			assert.Error(t, err)
		})
	}
}

func TestNewStateCodec_ShortSecret(t *testing.T) {
	_, err := NewStateCodec([]byte("short"), time.Minute)
	assert.ErrorIs(t, err, errStateSecretTooShort)
}
