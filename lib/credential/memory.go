package credential

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a thread-safe in-memory credential store, seeded from the
// static user list in configuration.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]string
}

// NewMemoryStore creates a store holding a copy of the given users.
func NewMemoryStore(users map[string]string) *MemoryStore {
	s := &MemoryStore{users: make(map[string]string, len(users))}
	for k, v := range users {
		s.users[k] = v
	}
	return s
}

// AddUser adds or updates a user with the given password.
// Returns ErrEmptyUsername if the username is empty.
func (s *MemoryStore) AddUser(username, password string) error {
	if username == "" {
		return ErrEmptyUsername
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = password
	return nil
}

// RemoveUser removes a user from the store.
// Returns ErrUserNotFound if the user does not exist.
func (s *MemoryStore) RemoveUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; !exists {
		return ErrUserNotFound
	}

	delete(s.users, username)
	return nil
}

// HasUser returns true if the username exists.
func (s *MemoryStore) HasUser(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.users[username]
	return exists
}

// ListUsers returns a sorted slice of all registered usernames.
// Passwords are never exposed through this method.
func (s *MemoryStore) ListUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.users))
	for username := range s.users {
		users = append(users, username)
	}

	sort.Strings(users)
	return users
}

// UserCount returns the number of registered users.
func (s *MemoryStore) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Lookup implements Store.
func (s *MemoryStore) Lookup(_ context.Context, login string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	password, ok := s.users[login]
	if !ok {
		return "", ErrUserNotFound
	}
	return password, nil
}

// Put implements Writer.
func (s *MemoryStore) Put(_ context.Context, login, password string) error {
	return s.AddUser(login, password)
}

// Delete implements Writer.
func (s *MemoryStore) Delete(_ context.Context, login string) error {
	return s.RemoveUser(login)
}
