package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces credential keys in a shared Redis.
const DefaultRedisPrefix = "xmpp:user:"

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// RedisStore reads credentials from Redis string keys "<prefix><login>".
// It lets several emulator instances share one account database.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis: addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Lookup implements Store.
func (s *RedisStore) Lookup(ctx context.Context, login string) (string, error) {
	val, err := s.client.Get(ctx, s.prefix+login).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get error: %w", err)
	}
	return val, nil
}

// Put implements Writer.
func (s *RedisStore) Put(ctx context.Context, login, password string) error {
	if login == "" {
		return ErrEmptyUsername
	}
	return s.client.Set(ctx, s.prefix+login, password, 0).Err()
}

// Delete implements Writer.
func (s *RedisStore) Delete(ctx context.Context, login string) error {
	n, err := s.client.Del(ctx, s.prefix+login).Result()
	if err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Close implements Closer.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
