package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Config selects and configures a credential backend.
type Config struct {
	// Backend is one of "memory", "badger" or "redis".
	Backend string

	// Users are static credentials. They seed the memory backend and are
	// written into persistent backends on startup.
	Users map[string]string

	// Options holds backend-specific settings (see BadgerConfig, RedisConfig).
	Options map[string]any

	// CacheSize enables the LRU cache in front of persistent backends when > 0.
	CacheSize int
	CacheTTL  time.Duration
}

// New builds the store described by cfg.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(cfg.Users), nil
	case BackendBadger:
		return createBadgerStore(ctx, cfg)
	case BackendRedis:
		return createRedisStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown credential backend: %q", cfg.Backend)
	}
}

func createBadgerStore(ctx context.Context, cfg Config) (Store, error) {
	var badgerCfg BadgerConfig
	if err := decodeOptions(cfg.Options, &badgerCfg); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}

	store, err := NewBadgerStore(badgerCfg)
	if err != nil {
		return nil, err
	}
	if err := seed(ctx, store, cfg.Users); err != nil {
		_ = store.Close()
		return nil, err
	}
	return wrapCache(store, cfg), nil
}

func createRedisStore(ctx context.Context, cfg Config) (Store, error) {
	var redisCfg RedisConfig
	if err := decodeOptions(cfg.Options, &redisCfg); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	store, err := NewRedisStore(ctx, redisCfg)
	if err != nil {
		return nil, err
	}
	if err := seed(ctx, store, cfg.Users); err != nil {
		_ = store.Close()
		return nil, err
	}
	return wrapCache(store, cfg), nil
}

func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

func seed(ctx context.Context, w Writer, users map[string]string) error {
	for login, password := range users {
		if err := w.Put(ctx, login, password); err != nil {
			return fmt.Errorf("seed user %q: %w", login, err)
		}
	}
	return nil
}

func wrapCache(store Store, cfg Config) Store {
	if cfg.CacheSize <= 0 {
		return store
	}
	return NewCachedStore(store, cfg.CacheSize, cfg.CacheTTL)
}
