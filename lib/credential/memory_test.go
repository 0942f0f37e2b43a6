package credential

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryStore_CopiesUsers(t *testing.T) {
	users := map[string]string{"masterserver": "youshallnotpass"}
	store := NewMemoryStore(users)
	users["late"] = "x"

	assert.Equal(t, 1, store.UserCount())
	assert.True(t, store.HasUser("masterserver"))
	assert.False(t, store.HasUser("late"))
}

func TestMemoryStore_AddRemove(t *testing.T) {
	store := NewMemoryStore(nil)

	require.NoError(t, store.AddUser("bob", "secret"))
	assert.ErrorIs(t, store.AddUser("", "x"), ErrEmptyUsername)

	password, err := store.Lookup(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "secret", password)

	require.NoError(t, store.RemoveUser("bob"))
	assert.ErrorIs(t, store.RemoveUser("bob"), ErrUserNotFound)

	_, err = store.Lookup(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryStore_ListUsersSorted(t *testing.T) {
	store := NewMemoryStore(map[string]string{"zed": "1", "alice": "2", "mike": "3"})
	assert.Equal(t, []string{"alice", "mike", "zed"}, store.ListUsers())
}

func TestMemoryStore_Writer(t *testing.T) {
	var w Writer = NewMemoryStore(nil)
	ctx := context.Background()

	require.NoError(t, w.Put(ctx, "dedicated", "youshallnotpass"))
	require.NoError(t, w.Delete(ctx, "dedicated"))
	assert.ErrorIs(t, w.Delete(ctx, "dedicated"), ErrUserNotFound)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			login := fmt.Sprintf("user%d", n)
			_ = store.AddUser(login, "pw")
			_, _ = store.Lookup(ctx, login)
			_ = store.ListUsers()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, store.UserCount())
}
