package errors

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// ProbeError Tests
// -----------------------------------------------------------------------------

func TestNewProbeError(t *testing.T) {
	err := NewProbeError("observe", io.ErrUnexpectedEOF)

	if err.Op != "observe" {
		t.Errorf("Op = %q, want %q", err.Op, "observe")
	}
	if err.Severity() != SeverityWarning {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityWarning)
	}
	if !err.IsRetryable() {
		t.Error("IsRetryable() = false, want true")
	}
}

func TestProbeError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ProbeError
		want string
	}{
		{
			name: "no cause",
			err:  NewProbeError("observe", nil),
			want: "probe error [op=observe]: probe read failed",
		},
		{
			name: "with cause and session",
			err:  NewProbeError("observe", io.ErrUnexpectedEOF).WithSessionID("abc"),
			want: "probe error [session=abc, op=observe]: probe read failed: unexpected EOF",
		},
		{
			name: "no op",
			err:  NewProbeError("", nil),
			want: "probe error: probe read failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProbeError_Is(t *testing.T) {
	err := NewProbeError("observe", io.ErrUnexpectedEOF)

	if !Is(err, ErrProbeRead) {
		t.Error("Is(ErrProbeRead) = false, want true")
	}
	if !Is(err, &ProbeError{}) {
		t.Error("Is(ProbeError{}) = false, want true")
	}
	if !Is(err, io.ErrUnexpectedEOF) {
		t.Error("Is(cause) = false, want true")
	}
	if Is(err, ErrPairingFailed) {
		t.Error("Is(ErrPairingFailed) = true, want false")
	}
}

// -----------------------------------------------------------------------------
// PairingError Tests
// -----------------------------------------------------------------------------

func TestPairingError(t *testing.T) {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cause := fmt.Errorf("qr expired")
	err := NewPairingError(started, cause).WithSessionID("s1")

	if !err.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", err.StartedAt, started)
	}
	if err.IsRetryable() {
		t.Error("IsRetryable() = true, want false")
	}
	if err.Severity() != SeverityError {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityError)
	}
	want := "pairing error [session=s1]: pairing failed: qr expired"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrPairingFailed) {
		t.Error("Is(ErrPairingFailed) = false, want true")
	}
	if !Is(err, cause) {
		t.Error("Is(cause) = false, want true")
	}
}

func TestPairingError_NilCause(t *testing.T) {
	err := NewPairingError(time.Time{}, nil)

	if Unwrap(err) != nil {
		t.Errorf("Unwrap() = %v, want nil", Unwrap(err))
	}
	if got := err.Error(); got != "pairing error: pairing failed" {
		t.Errorf("Error() = %q", got)
	}
}

// -----------------------------------------------------------------------------
// HandlerError Tests
// -----------------------------------------------------------------------------

func TestHandlerError(t *testing.T) {
	cause := fmt.Errorf("panic: boom")
	err := NewHandlerError("messages", "sub-3", cause)

	want := "handler error [topic=messages, subscription=sub-3]: handler failed: panic: boom"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrHandlerFailed) {
		t.Error("Is(ErrHandlerFailed) = false, want true")
	}

	var he *HandlerError
	if !As(fmt.Errorf("wrapped: %w", err), &he) {
		t.Fatal("As(*HandlerError) = false, want true")
	}
	if he.SubscriptionID != "sub-3" {
		t.Errorf("SubscriptionID = %q, want %q", he.SubscriptionID, "sub-3")
	}
}

// -----------------------------------------------------------------------------
// ReloadError Tests
// -----------------------------------------------------------------------------

func TestReloadError(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewReloadError("webpair.pending_messages", 4, cause)

	want := "reload error [key=webpair.pending_messages, events=4]: reload persistence failed: disk full"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrReloadPersist) {
		t.Error("Is(ErrReloadPersist) = false, want true")
	}
	if Is(err, ErrHandlerFailed) {
		t.Error("Is(ErrHandlerFailed) = true, want false")
	}
}

// -----------------------------------------------------------------------------
// TimeoutError Tests
// -----------------------------------------------------------------------------

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("wait for login", 5*time.Second)

	if got := err.Error(); got != "timeout error: wait for login (timeout: 5s)" {
		t.Errorf("Error() = %q", got)
	}
	if !Is(err, ErrTimeout) {
		t.Error("Is(ErrTimeout) = false, want true")
	}
	if !err.IsRetryable() {
		t.Error("IsRetryable() = false, want true")
	}

	withCause := NewTimeoutError("pair", time.Minute).WithCause(ErrPairingFailed)
	if !Is(withCause, ErrPairingFailed) {
		t.Error("Is(ErrPairingFailed) = false, want true")
	}
}

// -----------------------------------------------------------------------------
// Helper Tests
// -----------------------------------------------------------------------------

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"probe", NewProbeError("observe", nil), true},
		{"wrapped probe", fmt.Errorf("poll: %w", NewProbeError("observe", nil)), true},
		{"pairing", NewPairingError(time.Time{}, nil), false},
		{"bare timeout sentinel", fmt.Errorf("x: %w", ErrTimeout), true},
		{"plain", errors.New("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetSeverity(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Severity
	}{
		{"nil", nil, SeverityDebug},
		{"probe", NewProbeError("observe", nil), SeverityWarning},
		{"reload", NewReloadError("k", 0, nil), SeverityError},
		{"plain", errors.New("plain"), SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetSeverity(tt.err); got != tt.want {
				t.Errorf("GetSeverity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}

	err := Wrap(ErrShutdown, "ingest")
	if err.Error() != "ingest: session shut down" {
		t.Errorf("Wrap() = %q", err.Error())
	}
	if !Is(err, ErrShutdown) {
		t.Error("Wrap() lost the chain")
	}

	err = Wrapf(ErrInvalidInput, "field %s", "payload")
	if err.Error() != "field payload: invalid input" {
		t.Errorf("Wrapf() = %q", err.Error())
	}
}
