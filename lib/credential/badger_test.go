package credential

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerStore_RoundTrip(t *testing.T) {
	store, err := NewBadgerStore(BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "bob", "secret"))
	require.NoError(t, store.Put(ctx, "alice", "wonder"))

	password, err := store.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "secret", password)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	require.NoError(t, store.Delete(ctx, "bob"))
	_, err = store.Lookup(ctx, "bob")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "bob"), ErrUserNotFound)
}

func TestBadgerStore_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "bob", "secret"))
	require.NoError(t, store.Close())

	reopened, err := NewBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	password, err := reopened.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "secret", password)
}

func TestBadgerStore_RequiresPath(t *testing.T) {
	_, err := NewBadgerStore(BadgerConfig{})
	assert.Error(t, err)
}

func TestBadgerStore_CanceledContext(t *testing.T) {
	store, err := NewBadgerStore(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Lookup(ctx, "bob")
	assert.ErrorIs(t, err, context.Canceled)
}
