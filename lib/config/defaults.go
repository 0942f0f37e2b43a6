package config

import (
	"strings"
	"time"

	"github.com/go-i2p/go-xmpp-server/lib/credential"
	"github.com/go-i2p/go-xmpp-server/lib/protocol"
	"github.com/go-i2p/go-xmpp-server/lib/server"
)

// Default values not already defined by the server package.
const (
	DefaultLogLevel   = "INFO"
	DefaultLogFormat  = "text"
	DefaultLogOutput  = "stdout"
	DefaultAddress    = "127.0.0.1"
	DefaultCacheSize  = 1024
	DefaultCacheTTL   = 5 * time.Minute
	DefaultBadgerPath = "data/credentials"
)

// DefaultConfig returns the configuration used when nothing is configured.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.InactivityTimeout = server.DefaultInactivityTimeout
	cfg.Server.KeepAliveInterval = server.DefaultKeepAliveInterval
	ApplyDefaults(cfg)
	return cfg
}

// defaultValues lists every scalar key with its default, as registered with viper.
func defaultValues() map[string]any {
	return map[string]any{
		"logging.level":  DefaultLogLevel,
		"logging.format": DefaultLogFormat,
		"logging.output": DefaultLogOutput,

		"server.domain":             server.DefaultDomain,
		"server.address":            DefaultAddress,
		"server.port":               protocol.DefaultClientPort,
		"server.recv_buffer_size":   server.DefaultRecvBufferSize,
		"server.throttle_timeout":   time.Duration(0),
		"server.disconnect_timeout": server.DefaultDisconnectTimeout,
		"server.inactivity_timeout": server.DefaultInactivityTimeout,
		"server.keepalive_timeout":  server.DefaultKeepAliveTimeout,
		"server.keepalive_interval": server.DefaultKeepAliveInterval,
		"server.resource_conflict":  server.KickCurrent.String(),
		"server.stats_interval":     time.Duration(0),

		"tls.enabled":     false,
		"tls.required":    false,
		"tls.cert_file":   "",
		"tls.key_file":    "",
		"tls.self_signed": false,

		"sasl.accept_unverified": false,

		"credentials.backend":    credential.BackendMemory,
		"credentials.cache.size": 0,
		"credentials.cache.ttl":  DefaultCacheTTL,
	}
}

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults and explicit values are kept.
// Durations where zero means "disabled" are left alone.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyCredentialDefaults(&cfg.Credentials)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = DefaultLogLevel
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Level == "WARNING" {
		cfg.Level = "WARN"
	}

	if cfg.Format == "" {
		cfg.Format = DefaultLogFormat
	}
	cfg.Format = strings.ToLower(cfg.Format)

	if cfg.Output == "" {
		cfg.Output = DefaultLogOutput
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Domain == "" {
		cfg.Domain = server.DefaultDomain
	}
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.Port == 0 {
		cfg.Port = protocol.DefaultClientPort
	}
	if cfg.RecvBufferSize == 0 {
		cfg.RecvBufferSize = server.DefaultRecvBufferSize
	}
	if cfg.DisconnectTimeout == 0 {
		cfg.DisconnectTimeout = server.DefaultDisconnectTimeout
	}
	if cfg.KeepAliveTimeout == 0 {
		cfg.KeepAliveTimeout = server.DefaultKeepAliveTimeout
	}
	if cfg.ResourceConflict == "" {
		cfg.ResourceConflict = server.KickCurrent.String()
	}
	if rc, err := server.ParseResourceConflict(cfg.ResourceConflict); err == nil {
		cfg.ResourceConflict = rc.String()
	}
}

func applyCredentialDefaults(cfg *CredentialsConfig) {
	if cfg.Backend == "" {
		cfg.Backend = credential.BackendMemory
	}
	cfg.Backend = strings.ToLower(cfg.Backend)

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.Redis == nil {
		cfg.Redis = make(map[string]any)
	}
	if cfg.Backend == credential.BackendBadger {
		if _, ok := cfg.Badger["path"]; !ok {
			cfg.Badger["path"] = DefaultBadgerPath
		}
	}
	if cfg.Cache.Size > 0 && cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
}
