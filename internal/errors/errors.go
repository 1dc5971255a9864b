// Package errors defines the error taxonomy of a webpair session.
//
// Every failure the session core can observe falls in one of four
// categories, none of which is fatal to the process:
//
//   - ProbeError: reading the remote interface failed. Transient; the last
//     good lifecycle state is retained and the next poll tick retries.
//   - PairingError: the pairing procedure failed. Reported through the
//     reconnect outcome; the next organic unpaired observation retries.
//   - HandlerError: a subscriber callback failed or panicked. Isolated to
//     that subscriber; delivery to the others continues.
//   - ReloadError: persisting the pending message tail failed. Subscribers
//     are still notified of the reload.
//
// # Usage
//
//	err := errors.NewProbeError("observe", cause).WithSessionID(id)
//	if errors.Is(err, errors.ErrProbeRead) { ... }
//
//	var pe *errors.PairingError
//	if errors.As(err, &pe) { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions so callers need a single import.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that only matter while debugging.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors.
	SeverityInfo
	// SeverityWarning is for recoverable problems.
	SeverityWarning
	// SeverityError is for real problems that were nonetheless contained.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

var (
	// ErrProbeRead indicates the remote interface could not be read.
	ErrProbeRead = New("probe read failed")
	// ErrPairingFailed indicates the pairing procedure did not re-establish the session.
	ErrPairingFailed = New("pairing failed")
	// ErrHandlerFailed indicates a subscriber callback failed.
	ErrHandlerFailed = New("handler failed")
	// ErrReloadPersist indicates the pending message tail could not be persisted.
	ErrReloadPersist = New("reload persistence failed")
	// ErrShutdown indicates the session has been shut down.
	ErrShutdown = New("session shut down")
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// SessionErr is implemented by every typed error in this package.
type SessionErr interface {
	error
	Unwrap() error
	Severity() Severity
	IsRetryable() bool
}

type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
	sessionID string
}

func (e *baseError) Unwrap() error      { return e.cause }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }

func (e *baseError) is(target error) bool {
	return e.cause != nil && errors.Is(e.cause, target)
}

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, fields ...string) string {
	var parts []string
	if e.sessionID != "" {
		parts = append(parts, "session="+e.sessionID)
	}
	for i := 0; i+1 < len(fields); i += 2 {
		if fields[i+1] != "" {
			parts = append(parts, fields[i]+"="+fields[i+1])
		}
	}

	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// ProbeError
// -----------------------------------------------------------------------------

// ProbeError reports a failed read of the remote interface.
//
// Example:
//
//	err := errors.NewProbeError("observe", io.ErrUnexpectedEOF).WithSessionID("abc")
//	fmt.Println(err) // "probe error [session=abc, op=observe]: probe read failed: unexpected EOF"
type ProbeError struct {
	baseError
	Op string
}

// NewProbeError creates a retryable ProbeError for the named probe operation.
func NewProbeError(op string, cause error) *ProbeError {
	return &ProbeError{
		baseError: baseError{
			message:   ErrProbeRead.Error(),
			cause:     cause,
			severity:  SeverityWarning,
			retryable: true,
		},
		Op: op,
	}
}

// WithSessionID adds a session ID to the error context.
func (e *ProbeError) WithSessionID(id string) *ProbeError {
	e.sessionID = id
	return e
}

// Error returns the formatted error message.
func (e *ProbeError) Error() string { return e.format("probe error", "op", e.Op) }

// Is matches ErrProbeRead, any *ProbeError, and the wrapped cause.
func (e *ProbeError) Is(target error) bool {
	if _, ok := target.(*ProbeError); ok {
		return true
	}
	return target == ErrProbeRead || e.is(target)
}

// -----------------------------------------------------------------------------
// PairingError
// -----------------------------------------------------------------------------

// PairingError reports a pairing procedure that ended without a session.
// Cause is nil when the procedure returned false without an error.
type PairingError struct {
	baseError
	StartedAt time.Time
}

// NewPairingError creates a PairingError for an attempt started at startedAt.
func NewPairingError(startedAt time.Time, cause error) *PairingError {
	return &PairingError{
		baseError: baseError{
			message:  ErrPairingFailed.Error(),
			cause:    cause,
			severity: SeverityError,
		},
		StartedAt: startedAt,
	}
}

// WithSessionID adds a session ID to the error context.
func (e *PairingError) WithSessionID(id string) *PairingError {
	e.sessionID = id
	return e
}

// Error returns the formatted error message.
func (e *PairingError) Error() string { return e.format("pairing error") }

// Is matches ErrPairingFailed, any *PairingError, and the wrapped cause.
func (e *PairingError) Is(target error) bool {
	if _, ok := target.(*PairingError); ok {
		return true
	}
	return target == ErrPairingFailed || e.is(target)
}

// -----------------------------------------------------------------------------
// HandlerError
// -----------------------------------------------------------------------------

// HandlerError reports a subscriber callback that panicked or failed.
type HandlerError struct {
	baseError
	SubscriptionID string
	Topic          string
}

// NewHandlerError creates a HandlerError for the given subscription.
func NewHandlerError(topic, subscriptionID string, cause error) *HandlerError {
	return &HandlerError{
		baseError: baseError{
			message:  ErrHandlerFailed.Error(),
			cause:    cause,
			severity: SeverityWarning,
		},
		SubscriptionID: subscriptionID,
		Topic:          topic,
	}
}

// WithSessionID adds a session ID to the error context.
func (e *HandlerError) WithSessionID(id string) *HandlerError {
	e.sessionID = id
	return e
}

// Error returns the formatted error message.
func (e *HandlerError) Error() string {
	return e.format("handler error", "topic", e.Topic, "subscription", e.SubscriptionID)
}

// Is matches ErrHandlerFailed, any *HandlerError, and the wrapped cause.
func (e *HandlerError) Is(target error) bool {
	if _, ok := target.(*HandlerError); ok {
		return true
	}
	return target == ErrHandlerFailed || e.is(target)
}

// -----------------------------------------------------------------------------
// ReloadError
// -----------------------------------------------------------------------------

// ReloadError reports that the pending tail could not be persisted before a
// reload. Subscribers have already been notified when this is returned.
type ReloadError struct {
	baseError
	Key    string
	Events int
}

// NewReloadError creates a ReloadError for the given storage key.
func NewReloadError(key string, events int, cause error) *ReloadError {
	return &ReloadError{
		baseError: baseError{
			message:  ErrReloadPersist.Error(),
			cause:    cause,
			severity: SeverityError,
		},
		Key:    key,
		Events: events,
	}
}

// WithSessionID adds a session ID to the error context.
func (e *ReloadError) WithSessionID(id string) *ReloadError {
	e.sessionID = id
	return e
}

// Error returns the formatted error message.
func (e *ReloadError) Error() string {
	return e.format("reload error", "key", e.Key, "events", fmt.Sprint(e.Events))
}

// Is matches ErrReloadPersist, any *ReloadError, and the wrapped cause.
func (e *ReloadError) Is(target error) bool {
	if _, ok := target.(*ReloadError); ok {
		return true
	}
	return target == ErrReloadPersist || e.is(target)
}

// -----------------------------------------------------------------------------
// TimeoutError
// -----------------------------------------------------------------------------

// TimeoutError reports an operation that exceeded its deadline.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a retryable TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:   operation,
			severity:  SeverityWarning,
			retryable: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is matches ErrTimeout, any *TimeoutError, and the wrapped cause.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return target == ErrTimeout || e.is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable reports whether err describes a transient condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se SessionErr
	if As(err, &se) {
		return se.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// GetSeverity returns the severity of err, defaulting to SeverityError for
// errors outside this package.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var se SessionErr
	if As(err, &se) {
		return se.Severity()
	}
	return SeverityError
}

// Wrap wraps an error with a context message, preserving the chain.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
