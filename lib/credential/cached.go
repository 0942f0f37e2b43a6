package credential

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Cache defaults
const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 5 * time.Minute
)

// CachedStore puts an expiring LRU in front of a slower Store.
// Concurrent lookups of the same login share one backend call.
// Only successful lookups are cached, so a newly created account is
// visible immediately.
type CachedStore struct {
	backend Store
	cache   *expirable.LRU[string, string]
	group   singleflight.Group
}

// NewCachedStore wraps backend. Non-positive size or ttl select the defaults.
func NewCachedStore(backend Store, size int, ttl time.Duration) *CachedStore {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{
		backend: backend,
		cache:   expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// Lookup implements Store.
func (s *CachedStore) Lookup(ctx context.Context, login string) (string, error) {
	if password, ok := s.cache.Get(login); ok {
		return password, nil
	}

	// The shared lookup must not die with whichever caller started it;
	// each caller still stops waiting when its own ctx ends.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(login, func() (interface{}, error) {
		password, err := s.backend.Lookup(shared, login)
		if err != nil {
			return "", err
		}
		s.cache.Add(login, password)
		return password, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate drops a cached entry, e.g. after a password change.
func (s *CachedStore) Invalidate(login string) {
	s.cache.Remove(login)
}

// Len returns the number of cached entries.
func (s *CachedStore) Len() int {
	return s.cache.Len()
}

// Backend returns the wrapped store.
func (s *CachedStore) Backend() Store {
	return s.backend
}

// Close closes the wrapped store.
func (s *CachedStore) Close() error {
	s.cache.Purge()
	return Close(s.backend)
}
