package sasl

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-i2p/go-xmpp-server/lib/credential"
	"github.com/go-i2p/go-xmpp-server/lib/protocol"
)

// Registry errors
var (
	ErrEmptyMechanismName = errors.New("mechanism name cannot be empty")
	ErrDuplicateMechanism = errors.New("mechanism already registered")
)

// Factory creates a fresh mechanism instance for one authentication exchange.
type Factory func() Mechanism

// Registry maps mechanism names to factories. Names are case-sensitive
// upper-case strings as advertised in <mechanisms/>.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry creates a registry offering PLAIN against store.
func NewDefaultRegistry(store credential.Store, opts PlainOptions) *Registry {
	r := NewRegistry()
	_ = r.Register(MechanismPlain, func() Mechanism {
		return NewPlain(store, opts)
	})
	return r
}

// Register adds a mechanism factory.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return ErrEmptyMechanismName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMechanism, name)
	}
	r.factories[name] = f
	return nil
}

// Unregister removes a mechanism. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, name)
}

// Has reports whether a mechanism is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered mechanism names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start creates the mechanism selected by an <auth mechanism="..."/>
// attribute. Unknown names fail with invalid-mechanism.
func (r *Registry) Start(name string) (Mechanism, error) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, NewFailure(protocol.SASLInvalidMechanism, "")
	}
	return f(), nil
}
