// Package server implements the XMPP client-to-server listener per RFC 6120.
// The server accepts TCP connections, negotiates the XML stream, offers
// STARTTLS and SASL, binds resources and hands authenticated stanzas to
// application observers.
package server

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"
)

// Default configuration values.
const (
	// DefaultListenAddr is the default client-to-server listen address.
	// Per RFC 6120, the standard client port is 5222.
	DefaultListenAddr = "127.0.0.1:5222"

	// DefaultDomain is the default server domain.
	DefaultDomain = "localhost"

	// DefaultRecvBufferSize is the default socket read buffer size.
	DefaultRecvBufferSize = 4096

	// MinRecvBufferSize and MaxRecvBufferSize bound RecvBufferSize.
	MinRecvBufferSize = 1024
	MaxRecvBufferSize = 9216

	// DefaultDisconnectTimeout bounds how long a closing connection may
	// keep draining queued output.
	DefaultDisconnectTimeout = 3 * time.Second

	// DefaultInactivityTimeout disconnects clients that send nothing.
	DefaultInactivityTimeout = 120 * time.Second

	// DefaultKeepAliveTimeout bounds delivery of a whitespace keep-alive.
	DefaultKeepAliveTimeout = 5 * time.Second

	// DefaultKeepAliveInterval is the idle time before a keep-alive is sent.
	DefaultKeepAliveInterval = 30 * time.Second
)

// ResourceConflict selects how a bind request for an in-use resource is resolved.
type ResourceConflict int

const (
	// KickCurrent rejects the requesting connection.
	KickCurrent ResourceConflict = iota

	// KickOther disconnects the connection already holding the resource.
	KickOther

	// Random binds the requester to a randomized variant of the resource.
	Random
)

// String returns the configuration name of the strategy.
func (r ResourceConflict) String() string {
	switch r {
	case KickCurrent:
		return "kick_current"
	case KickOther:
		return "kick_other"
	case Random:
		return "random"
	default:
		return "unknown"
	}
}

// ParseResourceConflict parses a strategy name. Matching ignores case,
// dashes and underscores, so "KickOther" and "kick-other" both work.
func ParseResourceConflict(s string) (ResourceConflict, error) {
	norm := strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(s))
	switch norm {
	case "", "kickcurrent":
		return KickCurrent, nil
	case "kickother":
		return KickOther, nil
	case "random":
		return Random, nil
	default:
		return KickCurrent, fmt.Errorf("unknown resource conflict strategy %q", s)
	}
}

// TLSPolicy selects whether STARTTLS is offered or enforced.
type TLSPolicy int

const (
	// TLSOptional advertises STARTTLS but allows plaintext authentication.
	TLSOptional TLSPolicy = iota

	// TLSRequired refuses authentication until the stream is encrypted.
	TLSRequired
)

// Config holds the XMPP server configuration.
// All fields have sensible defaults that can be overridden.
type Config struct {
	// Domain is the server's XMPP domain. Stream headers addressed to any
	// other domain are rejected with host-unknown.
	Domain string

	// ListenAddr is the TCP address to listen on (e.g., "127.0.0.1:5222").
	ListenAddr string

	// RecvBufferSize is the per-connection read buffer size, clamped to
	// [MinRecvBufferSize, MaxRecvBufferSize].
	RecvBufferSize int

	// ThrottleWindow rejects a second connection from the same address
	// while the first is alive and younger than the window (0 disables).
	ThrottleWindow time.Duration

	// ResourceConflict is consulted when a bind request collides.
	ResourceConflict ResourceConflict

	// TLS enables STARTTLS when TLS.Config is non-nil.
	TLS TLSConfig

	// Timeouts holds connection timeout settings.
	Timeouts TimeoutConfig

	// StatsInterval is the period of connection statistics logging (0 disables).
	StatsInterval time.Duration
}

// TLSConfig holds STARTTLS settings.
type TLSConfig struct {
	Config *tls.Config
	Policy TLSPolicy
}

// Enabled reports whether STARTTLS is offered.
func (t TLSConfig) Enabled() bool {
	return t.Config != nil
}

// Required reports whether authentication must wait for encryption.
func (t TLSConfig) Required() bool {
	return t.Config != nil && t.Policy == TLSRequired
}

// TimeoutConfig holds timeout settings for connections.
type TimeoutConfig struct {
	// Disconnect bounds output draining at disconnect and server shutdown.
	Disconnect time.Duration

	// Inactivity disconnects a connection idle for this long (0 = no limit).
	Inactivity time.Duration

	// KeepAlive bounds delivery of a whitespace keep-alive.
	KeepAlive time.Duration

	// KeepAliveInterval is the idle time before a keep-alive is sent (0 disables).
	KeepAliveInterval time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Domain:           DefaultDomain,
		ListenAddr:       DefaultListenAddr,
		RecvBufferSize:   DefaultRecvBufferSize,
		ThrottleWindow:   0,
		ResourceConflict: KickCurrent,
		Timeouts: TimeoutConfig{
			Disconnect:        DefaultDisconnectTimeout,
			Inactivity:        DefaultInactivityTimeout,
			KeepAlive:         DefaultKeepAliveTimeout,
			KeepAliveInterval: DefaultKeepAliveInterval,
		},
	}
}

// Validate checks the configuration for errors and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Domain == "" {
		return &ConfigError{Field: "Domain", Message: "cannot be empty"}
	}
	if c.ListenAddr == "" {
		return &ConfigError{Field: "ListenAddr", Message: "cannot be empty"}
	}
	if c.RecvBufferSize <= 0 {
		return &ConfigError{Field: "RecvBufferSize", Message: "must be positive"}
	}
	if c.ThrottleWindow < 0 {
		return &ConfigError{Field: "ThrottleWindow", Message: "cannot be negative"}
	}
	if c.Timeouts.Disconnect <= 0 {
		return &ConfigError{Field: "Timeouts.Disconnect", Message: "must be positive"}
	}
	if c.Timeouts.Inactivity < 0 {
		return &ConfigError{Field: "Timeouts.Inactivity", Message: "cannot be negative"}
	}
	if c.Timeouts.KeepAlive < 0 {
		return &ConfigError{Field: "Timeouts.KeepAlive", Message: "cannot be negative"}
	}
	if c.Timeouts.KeepAliveInterval < 0 {
		return &ConfigError{Field: "Timeouts.KeepAliveInterval", Message: "cannot be negative"}
	}
	if c.ResourceConflict < KickCurrent || c.ResourceConflict > Random {
		return &ConfigError{Field: "ResourceConflict", Message: "unknown strategy"}
	}
	if c.StatsInterval < 0 {
		return &ConfigError{Field: "StatsInterval", Message: "cannot be negative"}
	}
	return nil
}

// ClampedRecvBufferSize returns RecvBufferSize limited to the supported range.
func (c *Config) ClampedRecvBufferSize() int {
	switch {
	case c.RecvBufferSize < MinRecvBufferSize:
		return MinRecvBufferSize
	case c.RecvBufferSize > MaxRecvBufferSize:
		return MaxRecvBufferSize
	default:
		return c.RecvBufferSize
	}
}

// WithListenAddr returns a copy of the config with the listen address set.
func (c *Config) WithListenAddr(addr string) *Config {
	newCfg := *c
	newCfg.ListenAddr = addr
	return &newCfg
}

// WithDomain returns a copy of the config with the domain set.
func (c *Config) WithDomain(domain string) *Config {
	newCfg := *c
	newCfg.Domain = domain
	return &newCfg
}

// WithTLS returns a copy of the config with STARTTLS enabled.
func (c *Config) WithTLS(tlsConfig *tls.Config, policy TLSPolicy) *Config {
	newCfg := *c
	newCfg.TLS = TLSConfig{Config: tlsConfig, Policy: policy}
	return &newCfg
}

// WithThrottle returns a copy of the config with the throttle window set.
func (c *Config) WithThrottle(window time.Duration) *Config {
	newCfg := *c
	newCfg.ThrottleWindow = window
	return &newCfg
}

// WithResourceConflict returns a copy of the config with the bind conflict strategy set.
func (c *Config) WithResourceConflict(strategy ResourceConflict) *Config {
	newCfg := *c
	newCfg.ResourceConflict = strategy
	return &newCfg
}

// WithTimeouts returns a copy of the config with the timeouts replaced.
func (c *Config) WithTimeouts(timeouts TimeoutConfig) *Config {
	newCfg := *c
	newCfg.Timeouts = timeouts
	return &newCfg
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Message
}
