// Package config loads drydock configuration and resolves well-known paths
// under the drydock home directory (~/.drydock by default).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvHome overrides the drydock home directory (mainly for tests).
const EnvHome = "DRYDOCK_HOME"

// Config is the drydock configuration, read from <home>/config.toml.
// Zero values are replaced by defaults on load, so a partial file is fine.
type Config struct {
	// SocketPath is the daemon's unix socket. Empty means <home>/daemon.sock.
	SocketPath string `toml:"socket_path"`

	// ScrollbackBytes is the per-session scrollback capacity.
	ScrollbackBytes int `toml:"scrollback_bytes"`

	// StopGraceSeconds is how long a stop waits after SIGTERM before
	// escalating to SIGKILL.
	StopGraceSeconds int `toml:"stop_grace_seconds"`

	// Autostart controls whether clients may launch the daemon on demand.
	Autostart *bool `toml:"autostart"`

	// LogLevel is the daemon log level (logrus level names).
	LogLevel string `toml:"log_level"`

	home string
}

const (
	DefaultScrollbackBytes  = 256 * 1024
	DefaultStopGraceSeconds = 5
	DefaultLogLevel         = "info"
)

// Home returns the drydock home directory.
func Home() (string, error) {
	if h := os.Getenv(EnvHome); h != "" {
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".drydock"), nil
}

// Load reads <home>/config.toml, applying defaults for anything unset.
// A missing file yields the default configuration.
func Load() (*Config, error) {
	home, err := Home()
	if err != nil {
		return nil, err
	}
	return LoadFrom(home)
}

// LoadFrom is Load with an explicit home directory.
func LoadFrom(home string) (*Config, error) {
	cfg := &Config{home: home}
	path := filepath.Join(home, "config.toml")
	if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SocketPath == "" {
		c.SocketPath = filepath.Join(c.home, "daemon.sock")
	}
	if c.ScrollbackBytes <= 0 {
		c.ScrollbackBytes = DefaultScrollbackBytes
	}
	if c.StopGraceSeconds <= 0 {
		c.StopGraceSeconds = DefaultStopGraceSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// HomeDir returns the home directory this config was loaded from.
func (c *Config) HomeDir() string { return c.home }

// SessionsDir is where per-session metadata documents live.
func (c *Config) SessionsDir() string { return filepath.Join(c.home, "sessions") }

// LogFile is the daemon's log file.
func (c *Config) LogFile() string { return filepath.Join(c.home, "daemon.log") }

// PidFile is the daemon's pidfile.
func (c *Config) PidFile() string { return filepath.Join(c.home, "daemon.pid") }

// LockFile is the daemon singleton lock.
func (c *Config) LockFile() string { return filepath.Join(c.home, "daemon.lock") }

// StopGrace returns the stop grace period as a duration.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.StopGraceSeconds) * time.Second
}

// AutostartEnabled reports whether clients may launch the daemon on demand.
// Defaults to true when unset.
func (c *Config) AutostartEnabled() bool {
	return c.Autostart == nil || *c.Autostart
}

// EnsureHome creates the home directory tree.
func (c *Config) EnsureHome() error {
	for _, dir := range []string{c.home, c.SessionsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
