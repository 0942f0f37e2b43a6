package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "user:"

// BadgerConfig configures the BadgerDB backend.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string `mapstructure:"path"`

	// InMemory runs badger without touching disk (tests, ephemeral deployments).
	InMemory bool `mapstructure:"in_memory"`
}

// BadgerStore keeps credentials in an embedded BadgerDB under "user:<login>".
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) the database described by cfg.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("badger: path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(login string) []byte {
	return []byte(badgerKeyPrefix + login)
}

// Lookup implements Store.
func (s *BadgerStore) Lookup(ctx context.Context, login string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var password string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(login))
		if err == badger.ErrKeyNotFound {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			password = string(val)
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", err
		}
		return "", fmt.Errorf("badger lookup %q: %w", login, err)
	}
	return password, nil
}

// Put implements Writer.
func (s *BadgerStore) Put(ctx context.Context, login, password string) error {
	if login == "" {
		return ErrEmptyUsername
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(login), []byte(password))
	})
}

// Delete implements Writer.
func (s *BadgerStore) Delete(ctx context.Context, login string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerKey(login)); err == badger.ErrKeyNotFound {
			return ErrUserNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(badgerKey(login))
	})
}

// ListUsers returns all stored logins in key order.
func (s *BadgerStore) ListUsers(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var users []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			users = append(users, string(it.Item().Key()[len(badgerKeyPrefix):]))
		}
		return nil
	})
	return users, err
}

// Close implements Closer.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
