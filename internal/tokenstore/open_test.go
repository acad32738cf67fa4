package tokenstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedOp struct {
	backend, operation, status string
}

type fakeRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (r *fakeRecorder) RecordTokenStoreOperation(_ context.Context, backend, operation, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{backend, operation, status})
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("default sql", func(t *testing.T) {
		store, err := Open(ctx, Config{DatabaseURL: SQLiteURL(filepath.Join(t.TempDir(), "t.db"))})
		require.NoError(t, err)
		defer store.Close()
		assert.Equal(t, "sqlite", DriverOf(store))
	})

	t.Run("memory", func(t *testing.T) {
		store, err := Open(ctx, Config{Type: TypeMemory})
		require.NoError(t, err)
		assert.Equal(t, "memory", DriverOf(store))
	})

	t.Run("badger", func(t *testing.T) {
		store, err := Open(ctx, Config{Type: TypeBadger, BadgerDir: t.TempDir()})
		require.NoError(t, err)
		defer store.Close()
		assert.Equal(t, "badger", DriverOf(store))
	})

	t.Run("valkey without address", func(t *testing.T) {
		_, err := Open(ctx, Config{Type: TypeValkey})
		assert.ErrorIs(t, err, errEmptyValkeyAddr)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := Open(ctx, Config{Type: "etcd"})
		assert.ErrorIs(t, err, errUnsupportedStore)
	})

	t.Run("sealed and instrumented", func(t *testing.T) {
		key, err := GenerateEncryptionKey()
		require.NoError(t, err)
		rec := &fakeRecorder{}

		store, err := Open(ctx, Config{Type: TypeMemory, EncryptionKey: key, Recorder: rec})
		require.NoError(t, err)

		require.NoError(t, store.Put(ctx, "abc", testCredential("abc")))
		got, err := store.Get(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, "ya29.access-abc", got.AccessToken)
		_, err = store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, store.Delete(ctx, "abc"))

		assert.Equal(t, []recordedOp{
			{"memory", "put", StatusSuccess},
			{"memory", "get", StatusSuccess},
			{"memory", "get", StatusNotFound},
			{"memory", "delete", StatusSuccess},
		}, rec.ops)
	})

	t.Run("bad key size", func(t *testing.T) {
		_, err := Open(ctx, Config{Type: TypeMemory, EncryptionKey: []byte("nope")})
		assert.Error(t, err)
	})
}

func TestValkeyStore_Key(t *testing.T) {
	s := newValkeyStoreWithClient(nil, "")
	assert.Equal(t, "calbridge:credential:abc", s.key("abc"))

	s = newValkeyStoreWithClient(nil, "tenant1:")
	assert.Equal(t, "tenant1:abc", s.key("abc"))
}

func TestCredential(t *testing.T) {
	cred := testCredential("abc")
	now := cred.ExpiresAt.Add(-30 * time.Second)

	assert.True(t, cred.ValidFor(0, now))
	assert.False(t, cred.ValidFor(60*time.Second, now), "inside the safety margin")
	assert.True(t, cred.Refreshable())
	assert.True(t, cred.HasScope("https://www.googleapis.com/auth/calendar"))
	assert.False(t, cred.HasScope("https://mail.google.com/"))

	tok := cred.Token()
	assert.Equal(t, cred.AccessToken, tok.AccessToken)
	assert.Equal(t, cred.RefreshToken, tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)

	clone := cred.Clone()
	clone.Scopes[0] = "changed"
	assert.Equal(t, "https://www.googleapis.com/auth/calendar", cred.Scopes[0])

	var empty *Credential
	assert.False(t, empty.ValidFor(0, now))
	assert.False(t, (&Credential{AccessToken: "x"}).ValidFor(0, now), "zero expiry is expired")
}
