package credential

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisTestStore connects to REDIS_ADDR under a unique prefix.
func redisTestStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	store, err := NewRedisStore(context.Background(), RedisConfig{
		Addr:   addr,
		Prefix: "xmpp-test:" + uuid.NewString() + ":",
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStore_RoundTrip(t *testing.T) {
	store := redisTestStore(t)
	ctx := context.Background()

	_, err := store.Lookup(ctx, "bob")
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, store.Put(ctx, "bob", "secret"))
	password, err := store.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "secret", password)

	require.NoError(t, store.Delete(ctx, "bob"))
	assert.ErrorIs(t, store.Delete(ctx, "bob"), ErrUserNotFound)
	assert.ErrorIs(t, store.Put(ctx, "", "x"), ErrEmptyUsername)
}

func TestNewRedisStore_Errors(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewRedisStore(ctx, RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestNewRedisStoreWithClient_DefaultPrefix(t *testing.T) {
	store := NewRedisStoreWithClient(nil, "")
	assert.Equal(t, DefaultRedisPrefix, store.prefix)
}
