// Package config provides CLI commands for managing webpair configuration.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	appconfig "github.com/Iron-Ham/webpair/internal/config"
)

// Wrapper functions for exec to allow testing
var execLookPath = exec.LookPath
var execCommand = exec.Command

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify webpair configuration",
	Long: `View or modify webpair configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  webpair config set session.debounce_ms 2000
  webpair config set probe.dir ~/webpair/probe
  webpair config set metrics.enabled false

Valid keys:
  session.id                      - Session ID (default: probe directory name)
  session.poll_interval_ms        - Poll interval in milliseconds
  session.debounce_ms             - Message debounce window in milliseconds
  session.login_timeout_seconds   - Warn when not logged in after this long (0 = never)
  session.pairing_timeout_seconds - Bound on one re-pairing attempt (0 = none)
  session.probe_backoff_max_ms    - Poll interval cap after read failures
  store.dir                       - Directory holding reload-saved messages
  probe.dir                       - Probe directory shared with the browser host
  probe.max_qr_attempts           - QR codes relayed per pairing attempt (0 = unbounded)
  logging.enabled                 - Write webpair.log (true/false)
  logging.level                   - Log level: debug, info, warn, error
  logging.dir                     - Log directory (default: probe directory)
  metrics.enabled                 - Serve metrics and health endpoints (true/false)
  metrics.listen_addr             - host:port for the metrics endpoint`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/webpair/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in your editor",
	Long: `Open the config file in your preferred editor.

Uses $EDITOR environment variable, or falls back to common editors (vim, nano, vi).
If no config file exists, creates one with default values first.`,
	RunE: runConfigEdit,
}

var configResetCmd = &cobra.Command{
	Use:   "reset [key]",
	Short: "Reset configuration to defaults",
	Long: `Reset configuration values to their defaults.

Without arguments, resets all configuration to defaults.
With a key argument, resets only that specific key.

Examples:
  webpair config reset                     # Reset all to defaults
  webpair config reset session.debounce_ms # Reset only session.debounce_ms`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigReset,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configResetCmd)
}

// Register adds all config-related commands to the given parent command.
// This is the main entry point for integrating the config subpackage with
// the root command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

// keyKinds maps each settable key to the kind of value it accepts.
var keyKinds = map[string]string{
	"session.id":                      "string",
	"session.poll_interval_ms":        "int",
	"session.debounce_ms":             "int",
	"session.login_timeout_seconds":   "int",
	"session.pairing_timeout_seconds": "int",
	"session.probe_backoff_max_ms":    "int",
	"store.dir":                       "string",
	"probe.dir":                       "string",
	"probe.max_qr_attempts":           "int",
	"logging.enabled":                 "bool",
	"logging.level":                   "level",
	"logging.dir":                     "string",
	"metrics.enabled":                 "bool",
	"metrics.listen_addr":             "string",
}

// defaultValues returns the default for every settable key.
func defaultValues() map[string]any {
	d := appconfig.Default()
	return map[string]any{
		"session.id":                      d.Session.ID,
		"session.poll_interval_ms":        d.Session.PollIntervalMs,
		"session.debounce_ms":             d.Session.DebounceMs,
		"session.login_timeout_seconds":   d.Session.LoginTimeoutSeconds,
		"session.pairing_timeout_seconds": d.Session.PairingTimeoutSeconds,
		"session.probe_backoff_max_ms":    d.Session.ProbeBackoffMaxMs,
		"store.dir":                       d.Store.Dir,
		"probe.dir":                       d.Probe.Dir,
		"probe.max_qr_attempts":           d.Probe.MaxQRAttempts,
		"logging.enabled":                 d.Logging.Enabled,
		"logging.level":                   d.Logging.Level,
		"logging.dir":                     d.Logging.Dir,
		"metrics.enabled":                 d.Metrics.Enabled,
		"metrics.listen_addr":             d.Metrics.ListenAddr,
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := appconfig.Get()
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Current configuration:")
	fmt.Fprintln(w)

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(w, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(w, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "session:")
	fmt.Fprintf(w, "  id: %s\n", cfg.Session.ID)
	fmt.Fprintf(w, "  poll_interval_ms: %d\n", cfg.Session.PollIntervalMs)
	fmt.Fprintf(w, "  debounce_ms: %d\n", cfg.Session.DebounceMs)
	fmt.Fprintf(w, "  login_timeout_seconds: %d\n", cfg.Session.LoginTimeoutSeconds)
	fmt.Fprintf(w, "  pairing_timeout_seconds: %d\n", cfg.Session.PairingTimeoutSeconds)
	fmt.Fprintf(w, "  probe_backoff_max_ms: %d\n", cfg.Session.ProbeBackoffMaxMs)

	fmt.Fprintln(w, "store:")
	fmt.Fprintf(w, "  dir: %s\n", cfg.Store.ResolveStoreDir())

	fmt.Fprintln(w, "probe:")
	fmt.Fprintf(w, "  dir: %s\n", cfg.Probe.ResolveProbeDir())
	fmt.Fprintf(w, "  max_qr_attempts: %d\n", cfg.Probe.MaxQRAttempts)

	fmt.Fprintln(w, "logging:")
	fmt.Fprintf(w, "  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Fprintf(w, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  dir: %s\n", cfg.Logging.Dir)

	fmt.Fprintln(w, "metrics:")
	fmt.Fprintf(w, "  enabled: %v\n", cfg.Metrics.Enabled)
	fmt.Fprintf(w, "  listen_addr: %s\n", cfg.Metrics.ListenAddr)

	return nil
}

// parseValue converts a raw flag value to the type its key expects.
func parseValue(key, value string) (any, error) {
	kind, ok := keyKinds[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'webpair config set --help' to see valid keys", key)
	}

	switch kind {
	case "level":
		if !slices.Contains(appconfig.ValidLogLevels(), value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(appconfig.ValidLogLevels(), ", "))
		}
		return value, nil
	case "bool":
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return intVal, nil
	default:
		return value, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseValue(key, args[1])
	if err != nil {
		return err
	}

	// Ensure config directory exists
	if err := os.MkdirAll(appconfig.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.Set(key, typedValue)

	configFile := appconfig.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)

	return nil
}

const defaultConfigContent = `# webpair configuration

# Session timings
session:
  # Session ID used in logs, metrics and the store path.
  # Empty means the probe directory's name.
  id: ""
  # How often the remote is polled when no change notification arrives
  poll_interval_ms: 1000
  # Quiet window before buffered messages are delivered
  debounce_ms: 1000
  # Warn when not logged in after this many seconds (0 = never)
  login_timeout_seconds: 0
  # Bound on one re-pairing attempt in seconds (0 = none)
  pairing_timeout_seconds: 300
  # Poll interval cap after repeated read failures
  probe_backoff_max_ms: 30000

# Messages saved across client reloads
store:
  # Default: ~/.config/webpair/store
  dir: ""

# Directory shared with the process controlling the browser
probe:
  # Default: ~/.config/webpair/probe
  dir: ""
  # QR codes relayed per pairing attempt (0 = unbounded)
  max_qr_attempts: 0

logging:
  enabled: true
  # Options: debug, info, warn, error
  level: info
  # Default: the probe directory
  dir: ""

metrics:
  # Serve /metrics, /live and /ready
  enabled: true
  listen_addr: 127.0.0.1:9464
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := appconfig.ConfigDir()
	configFile := appconfig.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'webpair config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	configFile := appconfig.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(w, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(w, "Default path: %s (not created)\n", configFile)
	}

	fmt.Fprintln(w, "\nSearch paths:")
	fmt.Fprintf(w, "  1. %s\n", filepath.Join(appconfig.ConfigDir(), "config.yaml"))
	fmt.Fprintf(w, "  2. $HOME/.config/webpair/config.yaml\n")
	fmt.Fprintf(w, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(w, "\nEnvironment variables: WEBPAIR_* (e.g., WEBPAIR_SESSION_DEBOUNCE_MS)")

	return nil
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	configFile := appconfig.ConfigFile()

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "Config file doesn't exist, creating with defaults...\n")
		if err := runConfigInit(cmd, args); err != nil {
			return err
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		for _, e := range []string{"vim", "nano", "vi"} {
			if _, err := execLookPath(e); err == nil {
				editor = e
				break
			}
		}
	}
	if editor == "" {
		return fmt.Errorf("no editor found. Set $EDITOR environment variable")
	}

	editorCmd := execCommand(editor, configFile)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor exited with error: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Config file saved: %s\n", configFile)
	return nil
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	defaults := defaultValues()
	w := cmd.OutOrStdout()

	if len(args) == 0 {
		keys := make([]string, 0, len(defaults))
		for key := range defaults {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			viper.Set(key, defaults[key])
		}
		fmt.Fprintln(w, "Reset all configuration to defaults.")
	} else {
		key := args[0]
		value, ok := defaults[key]
		if !ok {
			return fmt.Errorf("unknown configuration key: %s\nRun 'webpair config set --help' to see valid keys", key)
		}
		viper.Set(key, value)
		fmt.Fprintf(w, "Reset %s to default: %v\n", key, value)
	}

	if err := os.MkdirAll(appconfig.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := appconfig.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(w, "Config saved to %s\n", configFile)
	return nil
}
