// Package config loads scanflow.toml, the provider connector and scan
// tuning settings, with go-toml/v2. The config directory follows flag >
// SCANFLOW_HOME > default-path precedence; a SCANFLOW_CONFIG file path,
// when set, takes precedence over all of them.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config is the contents of scanflow.toml.
type Config struct {
	// Connector is a memflow-style connector URL. It is loaded and saved
	// but no command reads it: every command attaches through the procfs
	// adapter against --pid.
	Connector string `toml:"connector,omitempty"`

	Scan ScanConfig `toml:"scan,omitempty"`
}

// ScanConfig holds the scanner/pointer-map tuning knobs.
type ScanConfig struct {
	GapBytes    uint64 `toml:"gap_bytes,omitempty"`
	Parallel    bool   `toml:"parallel,omitempty"`
	WorkerCount int    `toml:"worker_count,omitempty"`
}

// configDirOverride is set by the --config-dir flag.
var configDirOverride string

// SetConfigDir allows the CLI to pass in the --config-dir / SCANFLOW_HOME value.
func SetConfigDir(dir string) {
	configDirOverride = dir
}

// ScanflowHome returns the config directory.
// Precedence: --config-dir flag / SetConfigDir > SCANFLOW_HOME env > ~/.scanflow
func ScanflowHome() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	if v := os.Getenv("SCANFLOW_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".scanflow")
	}
	return filepath.Join(home, ".scanflow")
}

// ConfigPath returns the full path to scanflow.toml, honoring the
// SCANFLOW_CONFIG override before falling back to <home>/scanflow.toml.
func ConfigPath() string {
	if v := os.Getenv("SCANFLOW_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(ScanflowHome(), "scanflow.toml")
}

// Default returns the built-in defaults: 16 MiB coalescing gap,
// parallelism off for deterministic runs.
func Default() Config {
	return Config{
		Scan: ScanConfig{
			GapBytes:    16 * 1024 * 1024,
			Parallel:    false,
			WorkerCount: 0,
		},
	}
}

// Load reads scanflow.toml, falling back to Default() fields for anything
// the file omits.
func Load() (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: reading scanflow.toml: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing scanflow.toml: %w", err)
	}
	return &cfg, nil
}

// Save writes cfg back to ConfigPath, creating the home directory if needed.
func Save(cfg *Config) error {
	if err := os.MkdirAll(ScanflowHome(), 0o755); err != nil {
		return fmt.Errorf("config: creating scanflow home: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling scanflow.toml: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o644)
}
