package embedding

import (
	"errors"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-xmpp-server/lib/credential"
	"github.com/go-i2p/go-xmpp-server/lib/sasl"
	"github.com/go-i2p/go-xmpp-server/lib/server"
)

var (
	// ErrAlreadyRunning is returned by Start on a running server.
	ErrAlreadyRunning = errors.New("embedded server already running")

	// ErrStopped is returned by Start after Stop. A stopped server cannot
	// be restarted; create a new one.
	ErrStopped = errors.New("embedded server stopped")
)

// Config holds everything needed to run an embedded XMPP server.
type Config struct {
	// Server is the core server configuration.
	Server *server.Config

	// Listener, when set, is used instead of binding Server.ListenAddr.
	Listener net.Listener

	// Logger receives all server logs.
	Logger *logrus.Logger

	// Store resolves login passwords. When nil a store is built from
	// Credentials and closed on Stop.
	Store       credential.Store
	Credentials credential.Config

	// Mechanisms overrides the default SASL registry (PLAIN backed by Store).
	Mechanisms *sasl.Registry
	Plain      sasl.PlainOptions

	// Hooks run for every accepted connection before it starts reading.
	Hooks []func(*server.Connection)
}

// DefaultConfig returns a configuration serving the default domain on
// 127.0.0.1:5222 with an empty in-memory credential store.
func DefaultConfig() *Config {
	return &Config{
		Server:      server.DefaultConfig(),
		Logger:      logrus.StandardLogger(),
		Credentials: credential.Config{Backend: credential.BackendMemory},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server == nil {
		return &server.ConfigError{Field: "Server", Message: "cannot be nil"}
	}
	if c.Listener != nil && c.Server.ListenAddr == "" {
		// The listener decides the address.
		c.Server.ListenAddr = c.Listener.Addr().String()
	}
	return c.Server.Validate()
}

// Option mutates a Config.
type Option func(*Config)

// WithConfig replaces the core server configuration.
func WithConfig(cfg *server.Config) Option {
	return func(c *Config) {
		c.Server = cfg
	}
}

// WithListenAddr sets the TCP address to bind.
func WithListenAddr(addr string) Option {
	return func(c *Config) {
		c.Server = c.Server.WithListenAddr(addr)
	}
}

// WithDomain sets the served XMPP domain.
func WithDomain(domain string) Option {
	return func(c *Config) {
		c.Server = c.Server.WithDomain(domain)
	}
}

// WithListener serves on an already bound listener.
func WithListener(ln net.Listener) Option {
	return func(c *Config) {
		c.Listener = ln
	}
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithDebug switches the logger to debug level with full timestamps.
func WithDebug(debug bool) Option {
	return func(c *Config) {
		if !debug {
			return
		}
		if c.Logger == nil || c.Logger == logrus.StandardLogger() {
			c.Logger = logrus.New()
		}
		c.Logger.SetLevel(logrus.DebugLevel)
		c.Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// WithCredentialStore uses store for password lookups. The caller keeps
// ownership and must close it.
func WithCredentialStore(store credential.Store) Option {
	return func(c *Config) {
		c.Store = store
	}
}

// WithCredentials builds the credential store from cfg when the server
// is created.
func WithCredentials(cfg credential.Config) Option {
	return func(c *Config) {
		c.Credentials = cfg
	}
}

// WithUsers adds static logins to the built-in credential store.
func WithUsers(users map[string]string) Option {
	return func(c *Config) {
		if c.Credentials.Users == nil {
			c.Credentials.Users = make(map[string]string, len(users))
		}
		for login, password := range users {
			c.Credentials.Users[login] = password
		}
	}
}

// WithMechanisms replaces the SASL registry.
func WithMechanisms(r *sasl.Registry) Option {
	return func(c *Config) {
		c.Mechanisms = r
	}
}

// WithPlainOptions configures the default PLAIN mechanism.
func WithPlainOptions(opts sasl.PlainOptions) Option {
	return func(c *Config) {
		c.Plain = opts
	}
}

// WithConnectionHook registers a hook for every accepted connection.
func WithConnectionHook(hook func(*server.Connection)) Option {
	return func(c *Config) {
		c.Hooks = append(c.Hooks, hook)
	}
}
