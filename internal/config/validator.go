package config

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "session.debounce_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Bounds for the session timings.
const (
	minPollIntervalMs = 50
	maxPollIntervalMs = 60_000
	minDebounceMs     = 10
	maxDebounceMs     = 60_000
	maxPathLength     = 4096
)

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validateProbe()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateMetrics()...)

	return errors
}

// validateSession validates the SessionConfig
func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError
	s := c.Session

	if s.PollIntervalMs < minPollIntervalMs || s.PollIntervalMs > maxPollIntervalMs {
		errors = append(errors, ValidationError{
			Field:   "session.poll_interval_ms",
			Value:   s.PollIntervalMs,
			Message: fmt.Sprintf("must be between %d and %d", minPollIntervalMs, maxPollIntervalMs),
		})
	}

	if s.DebounceMs < minDebounceMs || s.DebounceMs > maxDebounceMs {
		errors = append(errors, ValidationError{
			Field:   "session.debounce_ms",
			Value:   s.DebounceMs,
			Message: fmt.Sprintf("must be between %d and %d", minDebounceMs, maxDebounceMs),
		})
	}

	if s.LoginTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.login_timeout_seconds",
			Value:   s.LoginTimeoutSeconds,
			Message: "must be non-negative (0 = wait forever)",
		})
	}

	if s.PairingTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.pairing_timeout_seconds",
			Value:   s.PairingTimeoutSeconds,
			Message: "must be non-negative (0 = no timeout)",
		})
	}

	// Back-off must never shrink the interval below the regular poll
	if s.ProbeBackoffMaxMs < s.PollIntervalMs {
		errors = append(errors, ValidationError{
			Field:   "session.probe_backoff_max_ms",
			Value:   s.ProbeBackoffMaxMs,
			Message: "must be at least session.poll_interval_ms",
		})
	}

	if strings.ContainsAny(s.ID, " \t\n") {
		errors = append(errors, ValidationError{
			Field:   "session.id",
			Value:   s.ID,
			Message: "must not contain whitespace",
		})
	}

	return errors
}

// validatePaths validates every configured directory
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	for field, path := range map[string]string{
		"store.dir":   c.Store.Dir,
		"probe.dir":   c.Probe.Dir,
		"logging.dir": c.Logging.Dir,
	} {
		if path == "" {
			continue
		}
		if strings.ContainsRune(path, '\x00') {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   path,
				Message: "path contains invalid null character",
			})
		}
		if len(path) > maxPathLength {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   path,
				Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
			})
		}
	}

	// Keep output deterministic regardless of map order
	slices.SortFunc(errors, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errors
}

// validateProbe validates the ProbeConfig
func (c *Config) validateProbe() []ValidationError {
	var errors []ValidationError

	if c.Probe.MaxQRAttempts < 0 {
		errors = append(errors, ValidationError{
			Field:   "probe.max_qr_attempts",
			Value:   c.Probe.MaxQRAttempts,
			Message: "must be non-negative (0 = unbounded)",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

// validateMetrics validates the MetricsConfig
func (c *Config) validateMetrics() []ValidationError {
	var errors []ValidationError

	if !c.Metrics.Enabled {
		return errors
	}

	_, port, err := net.SplitHostPort(c.Metrics.ListenAddr)
	if err != nil {
		errors = append(errors, ValidationError{
			Field:   "metrics.listen_addr",
			Value:   c.Metrics.ListenAddr,
			Message: "must be a host:port address",
		})
		return errors
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		errors = append(errors, ValidationError{
			Field:   "metrics.listen_addr",
			Value:   c.Metrics.ListenAddr,
			Message: "port must be between 0 and 65535",
		})
	}

	return errors
}
