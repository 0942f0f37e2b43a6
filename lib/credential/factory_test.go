package credential

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Memory(t *testing.T) {
	store, err := New(context.Background(), Config{
		Users: map[string]string{"masterserver": "youshallnotpass"},
	})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	password, err := store.Lookup(context.Background(), "masterserver")
	require.NoError(t, err)
	assert.Equal(t, "youshallnotpass", password)
}

func TestNew_BadgerSeededAndCached(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, Config{
		Backend:   BackendBadger,
		Users:     map[string]string{"dedicated": "youshallnotpass"},
		Options:   map[string]any{"path": t.TempDir()},
		CacheSize: 8,
	})
	require.NoError(t, err)
	defer Close(store)

	cached, ok := store.(*CachedStore)
	require.True(t, ok, "expected cached store, got %T", store)
	assert.IsType(t, &BadgerStore{}, cached.Backend())

	password, err := store.Lookup(ctx, "dedicated")
	require.NoError(t, err)
	assert.Equal(t, "youshallnotpass", password)
}

func TestNew_BadgerInMemoryFromStrings(t *testing.T) {
	store, err := New(context.Background(), Config{
		Backend: BackendBadger,
		Options: map[string]any{"in_memory": "true"},
	})
	require.NoError(t, err)
	defer Close(store)
	assert.IsType(t, &BadgerStore{}, store)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "ldap"})
	assert.ErrorContains(t, err, "unknown credential backend")
}

func TestNew_Redis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	store, err := New(ctx, Config{
		Backend: BackendRedis,
		Users:   map[string]string{"bob": "secret"},
		Options: map[string]any{"addr": addr, "prefix": "xmpp:test:user:"},
	})
	require.NoError(t, err)
	defer Close(store)

	password, err := store.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "secret", password)

	_, err = store.Lookup(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	w := store.(Writer)
	require.NoError(t, w.Delete(ctx, "bob"))
}
