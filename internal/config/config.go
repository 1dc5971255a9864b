package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete webpair configuration
type Config struct {
	Session SessionConfig `mapstructure:"session"`
	Store   StoreConfig   `mapstructure:"store"`
	Probe   ProbeConfig   `mapstructure:"probe"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// SessionConfig controls the session core timings
type SessionConfig struct {
	// ID names the session in logs and metrics. Empty means a random UUID.
	ID string `mapstructure:"id"`
	// PollIntervalMs is how often the remote is polled when no push
	// notification arrives
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	// DebounceMs is the quiet window before buffered messages are flushed
	DebounceMs int `mapstructure:"debounce_ms"`
	// LoginTimeoutSeconds bounds how long `watch` waits for the first
	// Connected state (0 = wait forever)
	LoginTimeoutSeconds int `mapstructure:"login_timeout_seconds"`
	// PairingTimeoutSeconds bounds one reconnect attempt (0 = no bound)
	PairingTimeoutSeconds int `mapstructure:"pairing_timeout_seconds"`
	// ProbeBackoffMaxMs caps the poll interval after repeated read failures
	ProbeBackoffMaxMs int `mapstructure:"probe_backoff_max_ms"`
}

// StoreConfig controls where pending messages are persisted across reloads
type StoreConfig struct {
	// Dir is the file store root. Empty means <config dir>/store.
	Dir string `mapstructure:"dir"`
}

// ProbeConfig controls the filesystem-backed remote
type ProbeConfig struct {
	// Dir is the directory shared with the host driving the remote client
	Dir string `mapstructure:"dir"`
	// MaxQRAttempts bounds QR codes relayed per pairing attempt (0 = unbounded)
	MaxQRAttempts int `mapstructure:"max_qr_attempts"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging is active (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level sets the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is where webpair.log is written. Empty means the probe directory.
	Dir string `mapstructure:"dir"`
}

// MetricsConfig controls the HTTP endpoint serving metrics and health checks
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			PollIntervalMs:        1000,
			DebounceMs:            1000,
			LoginTimeoutSeconds:   0,
			PairingTimeoutSeconds: 300,
			ProbeBackoffMaxMs:     30000,
		},
		Store: StoreConfig{
			Dir: "",
		},
		Probe: ProbeConfig{
			Dir:           "",
			MaxQRAttempts: 0,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:9464",
		},
	}
}

// PollInterval returns the poll interval as a time.Duration
func (c *SessionConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Debounce returns the debounce window as a time.Duration
func (c *SessionConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// LoginTimeout returns the login timeout as a time.Duration
func (c *SessionConfig) LoginTimeout() time.Duration {
	return time.Duration(c.LoginTimeoutSeconds) * time.Second
}

// PairingTimeout returns the pairing timeout as a time.Duration
func (c *SessionConfig) PairingTimeout() time.Duration {
	return time.Duration(c.PairingTimeoutSeconds) * time.Second
}

// ProbeBackoffMax returns the poll back-off cap as a time.Duration
func (c *SessionConfig) ProbeBackoffMax() time.Duration {
	return time.Duration(c.ProbeBackoffMaxMs) * time.Millisecond
}

// ResolveStoreDir returns the configured store directory, or the default
// location under the config directory.
func (c *StoreConfig) ResolveStoreDir() string {
	if c.Dir != "" {
		return expandHome(c.Dir)
	}
	return filepath.Join(ConfigDir(), "store")
}

// ResolveProbeDir returns the configured probe directory, or the default
// location under the config directory.
func (c *ProbeConfig) ResolveProbeDir() string {
	if c.Dir != "" {
		return expandHome(c.Dir)
	}
	return filepath.Join(ConfigDir(), "probe")
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Session defaults
	viper.SetDefault("session.id", defaults.Session.ID)
	viper.SetDefault("session.poll_interval_ms", defaults.Session.PollIntervalMs)
	viper.SetDefault("session.debounce_ms", defaults.Session.DebounceMs)
	viper.SetDefault("session.login_timeout_seconds", defaults.Session.LoginTimeoutSeconds)
	viper.SetDefault("session.pairing_timeout_seconds", defaults.Session.PairingTimeoutSeconds)
	viper.SetDefault("session.probe_backoff_max_ms", defaults.Session.ProbeBackoffMaxMs)

	// Store defaults
	viper.SetDefault("store.dir", defaults.Store.Dir)

	// Probe defaults
	viper.SetDefault("probe.dir", defaults.Probe.Dir)
	viper.SetDefault("probe.max_qr_attempts", defaults.Probe.MaxQRAttempts)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	viper.SetDefault("metrics.listen_addr", defaults.Metrics.ListenAddr)
}

// Load reads the configuration from viper into a Config struct and validates it.
// Returns an error if unmarshaling fails or if validation errors are found.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "webpair")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".webpair"
	}
	return filepath.Join(home, ".config", "webpair")
}

// ConfigFile returns the path to the default config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// SessionIDFor returns the session ID used for the given probe directory:
// the configured ID when set, otherwise the directory's base name.
func (c *Config) SessionIDFor(probeDir string) string {
	if c.Session.ID != "" {
		return c.Session.ID
	}
	return filepath.Base(filepath.Clean(probeDir))
}

// SessionStoreDir returns the per-session store directory.
func (c *Config) SessionStoreDir(sessionID string) string {
	return filepath.Join(c.Store.ResolveStoreDir(), sessionID)
}
