package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by WriteDefault when the file exists and
// force is not set.
var ErrConfigExists = errors.New("config file already exists")

const configHeader = "# XMPP server configuration\n" +
	"# Every key can be overridden with JABBER_<SECTION>_<KEY>, e.g. JABBER_SERVER_DOMAIN.\n\n"

// WriteDefault writes the default configuration to path as YAML.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}

	body, err := yaml.Marshal(document(DefaultConfig()))
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append([]byte(configHeader), body...), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// document lays cfg out with the same keys Load reads. Durations are
// written in their string form so the file stays readable.
func document(cfg *Config) map[string]any {
	users := make([]map[string]string, 0, len(cfg.Credentials.Users))
	for _, u := range cfg.Credentials.Users {
		users = append(users, map[string]string{"login": u.Login, "password": u.Password})
	}

	return map[string]any{
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
		"server": map[string]any{
			"domain":             cfg.Server.Domain,
			"address":            cfg.Server.Address,
			"port":               cfg.Server.Port,
			"recv_buffer_size":   cfg.Server.RecvBufferSize,
			"throttle_timeout":   cfg.Server.ThrottleTimeout.String(),
			"disconnect_timeout": cfg.Server.DisconnectTimeout.String(),
			"inactivity_timeout": cfg.Server.InactivityTimeout.String(),
			"keepalive_timeout":  cfg.Server.KeepAliveTimeout.String(),
			"keepalive_interval": cfg.Server.KeepAliveInterval.String(),
			"resource_conflict":  cfg.Server.ResourceConflict,
			"stats_interval":     cfg.Server.StatsInterval.String(),
		},
		"tls": map[string]any{
			"enabled":     cfg.TLS.Enabled,
			"required":    cfg.TLS.Required,
			"cert_file":   cfg.TLS.CertFile,
			"key_file":    cfg.TLS.KeyFile,
			"self_signed": cfg.TLS.SelfSigned,
		},
		"sasl": map[string]any{
			"accept_unverified": cfg.SASL.AcceptUnverified,
		},
		"credentials": map[string]any{
			"backend": cfg.Credentials.Backend,
			"users":   users,
			"badger":  map[string]any{"path": DefaultBadgerPath},
			"redis":   map[string]any{"addr": "127.0.0.1:6379", "db": 0},
			"cache": map[string]any{
				"size": cfg.Credentials.Cache.Size,
				"ttl":  cfg.Credentials.Cache.TTL.String(),
			},
		},
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
