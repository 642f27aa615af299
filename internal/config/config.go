// Package config provides TOML configuration file loading and parsing for the
// bridge daemon. The configuration file lives at ~/.vaultlink/config.toml by
// default, but can be overridden with the --config flag. CLI flags always take
// precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the bridge configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// Addr is the host:port for the HTTP gateway. The daemon refuses to
	// start unless the host part resolves to a loopback address.
	// Default: 127.0.0.1:43110
	Addr string `toml:"addr"`

	// DataDir is the directory for bridge state (tokens, approvals, audit).
	// Default: ~/.vaultlink
	DataDir string `toml:"data_dir"`

	// TokenTTLHours is the lifetime of issued bearer tokens in hours.
	// Default: 24
	TokenTTLHours int `toml:"token_ttl_hours"`

	// PairingWindowSeconds is how long a pairing code stays redeemable.
	// Default: 120
	PairingWindowSeconds int `toml:"pairing_window_seconds"`

	// ApprovalTimeoutSeconds is how long a credential request waits for a
	// human decision before it is denied.
	// Default: 60
	ApprovalTimeoutSeconds int `toml:"approval_timeout_seconds"`

	// RateLimitPerOrigin is the sustained requests-per-second allowed for
	// each origin on the credential endpoints.
	// Default: 5
	RateLimitPerOrigin int `toml:"rate_limit_per_origin"`

	// SweepIntervalSeconds is how often expired pairing codes and tokens
	// are purged in the background.
	// Default: 60
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`

	// AuditDB is the path to the SQLite audit log database.
	// Default: <data_dir>/audit.db
	AuditDB string `toml:"audit_db"`

	// VaultFile is the path to the secret store file served by the built-in
	// file vault.
	// Default: <data_dir>/vault.json
	VaultFile string `toml:"vault_file"`

	// TokenFile is the path to the persisted token records.
	// Default: <data_dir>/tokens.json
	TokenFile string `toml:"token_file"`

	// ApprovalFile is the path to the persisted remembered decisions.
	// Default: <data_dir>/approvals.json
	ApprovalFile string `toml:"approval_file"`

	// Prompt selects the approval prompt surface: "ws" pushes prompts to a
	// connected operator UI over WebSocket, "terminal" asks on stdin,
	// "none" leaves requests to time out.
	// Default: ws
	Prompt string `toml:"prompt"`
}

// DefaultConfigPath returns the default config file location: ~/.vaultlink/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".vaultlink", "config.toml"), nil
}

// DefaultDataDir returns ~/.vaultlink, or "." if the home directory cannot
// be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".vaultlink")
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location (~/.vaultlink/config.toml).
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		// No explicit path: try default location, but don't error if missing.
		// This allows the daemon to start without any config file.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			// Can't determine home dir, return empty config
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			// Default config doesn't exist, that's fine
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist.
		// This matches user expectation: if they specify a config file, it should exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	// Parse the TOML file. Any parse error is fatal since the user expects
	// the config to be applied.
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyDefaults fills any unset field with its default value and derives
// state file paths from DataDir.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.TokenTTLHours <= 0 {
		c.TokenTTLHours = DefaultTokenTTLHours
	}
	if c.PairingWindowSeconds <= 0 {
		c.PairingWindowSeconds = DefaultPairingWindowSeconds
	}
	if c.ApprovalTimeoutSeconds <= 0 {
		c.ApprovalTimeoutSeconds = DefaultApprovalTimeoutSeconds
	}
	if c.RateLimitPerOrigin <= 0 {
		c.RateLimitPerOrigin = DefaultRateLimitPerOrigin
	}
	if c.SweepIntervalSeconds <= 0 {
		c.SweepIntervalSeconds = DefaultSweepIntervalSeconds
	}
	if c.AuditDB == "" {
		c.AuditDB = filepath.Join(c.DataDir, "audit.db")
	}
	if c.VaultFile == "" {
		c.VaultFile = filepath.Join(c.DataDir, "vault.json")
	}
	if c.TokenFile == "" {
		c.TokenFile = filepath.Join(c.DataDir, "tokens.json")
	}
	if c.ApprovalFile == "" {
		c.ApprovalFile = filepath.Join(c.DataDir, "approvals.json")
	}
	if c.Prompt == "" {
		c.Prompt = DefaultPrompt
	}
}

// TokenTTL returns the token lifetime as a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

// PairingWindow returns the pairing code lifetime as a duration.
func (c *Config) PairingWindow() time.Duration {
	return time.Duration(c.PairingWindowSeconds) * time.Second
}

// ApprovalTimeout returns the approval wait limit as a duration.
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.ApprovalTimeoutSeconds) * time.Second
}

// SweepInterval returns the background sweep cadence as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}
