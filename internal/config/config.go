// Package config loads and saves the account configuration file
// (state/accounts.toml) and applies an environment-variable overlay
// for headless/CI deployment, the way customeros-mailstack's service
// configuration layers caarlos0/env on top of file-based settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
)

// AccountFile is the TOML-serializable shape of one configured account.
// Deliberately excludes credentials: those live in the OS keyring or,
// when it is unavailable, in the encrypted credstore.enc.json file in the
// data directory, both managed by internal/credstore.
type AccountFile struct {
	ID          string `toml:"id"`
	DisplayName string `toml:"display_name"`

	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Security string `toml:"security"`

	AuthKind string `toml:"auth_kind"`
	Username string `toml:"username"`

	ConnectTimeoutSeconds int  `toml:"connect_timeout_seconds"`
	VerifyCertificate     bool `toml:"verify_certificate"`

	SyncPeriodDays      int    `toml:"sync_period_days"`
	SyncIntervalMinutes int    `toml:"sync_interval_minutes"`
	ConflictPolicy      string `toml:"conflict_policy"`

	Enabled bool `toml:"enabled"`
}

// File is the on-disk layout of state/accounts.toml.
type File struct {
	Accounts []AccountFile `toml:"account"`
}

// EnvOverlay carries process-wide defaults that may be set via environment
// variables, useful for headless deployments that don't hand-edit TOML.
type EnvOverlay struct {
	DefaultTimeoutSeconds int `env:"PARLOR_DEFAULT_TIMEOUT_SECONDS" envDefault:"30"`
	MaxSyncConcurrency    int `env:"PARLOR_MAX_SYNC_CONCURRENCY" envDefault:"4"`
	LogLevel              string `env:"PARLOR_LOG_LEVEL" envDefault:"info"`
}

// LoadEnvOverlay parses process environment variables into an EnvOverlay.
func LoadEnvOverlay() (EnvOverlay, error) {
	var o EnvOverlay
	if err := env.Parse(&o); err != nil {
		return o, fmt.Errorf("failed to parse environment overlay: %w", err)
	}
	return o, nil
}

// Load reads state/accounts.toml. A missing file is not an error — it
// simply means no accounts are configured yet.
func Load(path string) (*File, error) {
	f := &File{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return f, nil
	}
	if _, err := toml.DecodeFile(path, f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return f, nil
}

// Save writes state/accounts.toml atomically (write-then-rename) so a crash
// mid-write never corrupts the account list.
func Save(path string, f *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if err := toml.NewEncoder(out).Encode(f); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode accounts.toml: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
