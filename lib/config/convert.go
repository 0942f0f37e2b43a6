package config

import (
	"crypto/tls"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-xmpp-server/lib/credential"
	"github.com/go-i2p/go-xmpp-server/lib/sasl"
	"github.com/go-i2p/go-xmpp-server/lib/server"
)

// ToServerConfig builds the runtime server configuration, loading or
// generating the TLS certificate when STARTTLS is enabled.
func (c *Config) ToServerConfig() (*server.Config, error) {
	rc, err := server.ParseResourceConflict(c.Server.ResourceConflict)
	if err != nil {
		return nil, err
	}

	cfg := server.DefaultConfig()
	cfg.Domain = c.Server.Domain
	cfg.ListenAddr = c.Server.ListenAddr()
	cfg.RecvBufferSize = c.Server.RecvBufferSize
	cfg.ThrottleWindow = c.Server.ThrottleTimeout
	cfg.ResourceConflict = rc
	cfg.StatsInterval = c.Server.StatsInterval
	cfg.Timeouts = server.TimeoutConfig{
		Disconnect:        c.Server.DisconnectTimeout,
		Inactivity:        c.Server.InactivityTimeout,
		KeepAlive:         c.Server.KeepAliveTimeout,
		KeepAliveInterval: c.Server.KeepAliveInterval,
	}

	if c.TLS.Enabled {
		tlsCfg, err := c.loadTLS()
		if err != nil {
			return nil, err
		}
		policy := server.TLSOptional
		if c.TLS.Required {
			policy = server.TLSRequired
		}
		cfg.TLS = server.TLSConfig{Config: tlsCfg, Policy: policy}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadTLS() (*tls.Config, error) {
	if c.TLS.CertFile != "" {
		cfg, err := server.LoadTLSConfig(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("tls: %w", err)
		}
		return cfg, nil
	}
	cfg, err := server.SelfSignedTLSConfig(c.Server.Domain)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	return cfg, nil
}

// CredentialConfig returns the credential backend selection.
func (c *Config) CredentialConfig() credential.Config {
	users := make(map[string]string, len(c.Credentials.Users))
	for _, u := range c.Credentials.Users {
		users[u.Login] = u.Password
	}

	var options map[string]any
	switch c.Credentials.Backend {
	case credential.BackendBadger:
		options = c.Credentials.Badger
	case credential.BackendRedis:
		options = c.Credentials.Redis
	}

	return credential.Config{
		Backend:   c.Credentials.Backend,
		Users:     users,
		Options:   options,
		CacheSize: c.Credentials.Cache.Size,
		CacheTTL:  c.Credentials.Cache.TTL,
	}
}

// PlainOptions returns the PLAIN mechanism settings.
func (c *Config) PlainOptions(log logrus.FieldLogger) sasl.PlainOptions {
	return sasl.PlainOptions{
		AcceptUnverified: c.SASL.AcceptUnverified,
		Logger:           log,
	}
}
