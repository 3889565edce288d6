package errors

import (
	"errors"
	"testing"
)

func TestNotFoundIsUserError(t *testing.T) {
	err := NotFound("session %q not found", "abc")
	if !err.IsUserError {
		t.Fatalf("NotFound should be a user error")
	}
	if err.Code != SessionNotFound {
		t.Fatalf("expected code %q, got %q", SessionNotFound, err.Code)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := IO(cause, "write record")

	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be discoverable via errors.Is")
	}

	var target *Error
	if !errors.As(err, &target) {
		t.Fatalf("expected errors.As to find *Error")
	}
	if target.Code != IOError {
		t.Fatalf("expected code %q, got %q", IOError, target.Code)
	}
}

func TestPTYErrorIsInfrastructure(t *testing.T) {
	err := PTY(errors.New("open /dev/ptmx: permission denied"), "allocate pty")
	if err.IsUserError {
		t.Fatalf("PTY allocation failures are infrastructure errors, not user errors")
	}
}
