// Package config loads the server configuration from a YAML file and
// JABBER_* environment variables and converts it into the runtime
// configuration of the server, SASL and credential packages.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. JABBER_SERVER_DOMAIN.
const EnvPrefix = "JABBER"

// Config represents the complete server configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (JABBER_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains listener and connection settings
	Server ServerConfig `mapstructure:"server"`

	// TLS controls STARTTLS
	TLS TLSConfig `mapstructure:"tls"`

	// SASL controls authentication behavior
	SASL SASLConfig `mapstructure:"sasl"`

	// Credentials selects where account passwords are looked up
	Credentials CredentialsConfig `mapstructure:"credentials"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level (TRACE, DEBUG, INFO, WARN, ERROR),
	// case-insensitive and normalized to uppercase.
	Level string `mapstructure:"level" validate:"required,oneof=TRACE DEBUG INFO WARN ERROR"`

	// Format is text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains listener and per-connection settings.
type ServerConfig struct {
	Domain  string `mapstructure:"domain" validate:"required"`
	Address string `mapstructure:"address" validate:"required"`
	Port    int    `mapstructure:"port" validate:"gte=0,lte=65535"`

	// RecvBufferSize is the per-connection socket read buffer.
	RecvBufferSize int `mapstructure:"recv_buffer_size" validate:"gte=1024,lte=9216"`

	// ThrottleTimeout rejects reconnects from the same address within
	// this window while the earlier connection is alive. 0 disables.
	ThrottleTimeout time.Duration `mapstructure:"throttle_timeout" validate:"gte=0"`

	DisconnectTimeout time.Duration `mapstructure:"disconnect_timeout" validate:"gt=0"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout" validate:"gte=0"`
	KeepAliveTimeout  time.Duration `mapstructure:"keepalive_timeout" validate:"gte=0"`
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval" validate:"gte=0"`

	// ResourceConflict is kick_current, kick_other or random.
	ResourceConflict string `mapstructure:"resource_conflict" validate:"required,oneof=kick_current kick_other random"`

	// StatsInterval is the period of connection statistics logging. 0 disables.
	StatsInterval time.Duration `mapstructure:"stats_interval" validate:"gte=0"`
}

// ListenAddr joins Address and Port.
func (s ServerConfig) ListenAddr() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// TLSConfig controls STARTTLS.
type TLSConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Required refuses authentication on unencrypted streams.
	Required bool `mapstructure:"required"`

	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`

	// SelfSigned generates an ephemeral certificate when no files are given.
	SelfSigned bool `mapstructure:"self_signed"`
}

// SASLConfig controls authentication behavior.
type SASLConfig struct {
	// AcceptUnverified lets PLAIN accept well-formed credentials that do
	// not match the store. Development use only.
	AcceptUnverified bool `mapstructure:"accept_unverified"`
}

// CredentialsConfig selects the credential backend.
type CredentialsConfig struct {
	// Backend is memory, badger or redis
	Backend string `mapstructure:"backend" validate:"required,oneof=memory badger redis"`

	// Users are static accounts. They seed every backend.
	Users []UserConfig `mapstructure:"users" validate:"dive"`

	// Badger is decoded into credential.BadgerConfig. Only used when Backend = "badger".
	Badger map[string]any `mapstructure:"badger"`

	// Redis is decoded into credential.RedisConfig. Only used when Backend = "redis".
	Redis map[string]any `mapstructure:"redis"`

	// Cache fronts persistent backends with an LRU.
	Cache CacheConfig `mapstructure:"cache"`
}

// UserConfig is one static account.
type UserConfig struct {
	Login    string `mapstructure:"login" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
}

// CacheConfig sizes the credential cache. Size 0 disables it.
type CacheConfig struct {
	Size int           `mapstructure:"size" validate:"gte=0"`
	TTL  time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath, or one naming a file that does not exist, loads
// defaults and environment overrides only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper configures environment lookup and registers every scalar
// key so JABBER_* variables apply even without a config file.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaultValues() {
		v.SetDefault(key, value)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if one was named and exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if configPath == "" {
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if isNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}
