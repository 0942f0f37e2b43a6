// Package credential provides the keyed login → password lookup used by
// SASL mechanisms, with in-memory, BadgerDB and Redis backends and an
// expiring LRU cache in front of any of them.
package credential

import (
	"context"
	"errors"
)

// ErrUserNotFound is returned when a login has no stored credentials.
var ErrUserNotFound = errors.New("user not found")

// ErrEmptyUsername is returned when attempting to add a user with an empty username.
var ErrEmptyUsername = errors.New("username cannot be empty")

// Store looks up the password of a login.
//
// Implementations must be safe for concurrent use and return
// ErrUserNotFound (possibly wrapped) for unknown logins.
type Store interface {
	Lookup(ctx context.Context, login string) (string, error)
}

// Writer is implemented by stores that accept credential updates.
type Writer interface {
	Put(ctx context.Context, login, password string) error
	Delete(ctx context.Context, login string) error
}

// Closer is implemented by stores holding external resources.
type Closer interface {
	Close() error
}

// Close releases the store's resources if it holds any.
func Close(s Store) error {
	if c, ok := s.(Closer); ok {
		return c.Close()
	}
	return nil
}
