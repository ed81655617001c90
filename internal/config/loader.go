package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// DataDirName is the per-user data directory name.
	DataDirName = ".Skippy"
	// ConfigFile is the config file name inside the data directory.
	ConfigFile = "Skippy.json"
	// LogFile is the daemon log file name.
	LogFile = "Skippy.log"
	// SocketFile is the IPC socket name.
	SocketFile = "skippy.sock"
	// ContextFile holds the persistent context item list.
	ContextFile = "context.json"
)

// DataDir returns the per-user data root (~/.Skippy), honoring the
// SKIPPY_HOME override.
func DataDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("SKIPPY_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DataDirName), nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("SKIPPY_CONFIG")); explicit != "" {
		return explicit, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFile), nil
}

// SocketPath returns the IPC socket path.
func SocketPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SocketFile), nil
}

// MemoryDBPath returns the memory database path.
func MemoryDBPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "memory", "memory.db"), nil
}

// CronDBPath returns the cron database path.
func CronDBPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "memory", "cron.db"), nil
}

// Load reads the config file, fills defaults, and applies SKIPPY_*
// environment overrides. A missing config file is an error: the daemon
// fails fast at startup rather than running half-configured.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config from an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := envconfig.Process("SKIPPY", cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks startup preconditions.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Ollama.Host) == "" {
		return fmt.Errorf("config: ollama.host is required")
	}
	if strings.TrimSpace(c.Ollama.Model) == "" {
		return fmt.Errorf("config: ollama.model is required")
	}
	if c.Prompt.LoopLimit < 1 || c.Prompt.LoopLimit > 200 {
		return fmt.Errorf("config: prompt.loop_limit must be in [1,200], got %d", c.Prompt.LoopLimit)
	}
	return nil
}

// Save writes the config back to its path. Used by the model and
// loop_limit commands to persist runtime changes.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the config to an explicit path.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
