package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeConflict, "already there")
	wrapped := fmt.Errorf("outer: %w", New(CodeConflict, "different message"))

	if !stdErrors.Is(wrapped, sentinel) {
		t.Fatalf("expected errors.Is to match on code")
	}
	if stdErrors.Is(wrapped, New(CodeNotFound, "")) {
		t.Fatalf("expected different codes not to match")
	}
}

func TestRegisterAndCategory(t *testing.T) {
	const code Code = "TEST_TEMPORAL"
	Register(code, Attributes{Message: "too late", Category: CategoryTemporal})

	err := Wrap(code, stdErrors.New("boom"), "")
	if got := CategoryOf(err); got != CategoryTemporal {
		t.Fatalf("unexpected category: %s", got)
	}
	if err.Message() != "too late" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	if err.Severity() != SeverityInfo {
		t.Fatalf("expected default severity info, got %s", err.Severity())
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors should map to UNKNOWN")
	}
}

func TestRetryableDefaults(t *testing.T) {
	if !RetryableError(Wrap(CodeStorageFailure, stdErrors.New("disk"), "write")) {
		t.Fatalf("storage failures should be retryable")
	}
	if RetryableError(New(CodeUnauthorized, "")) {
		t.Fatalf("authorization failures must not be retryable")
	}
	meta := New(CodeInvalidArgument, "", WithMetadata("field", "duration")).Metadata()
	if meta["field"] != "duration" {
		t.Fatalf("metadata lost: %+v", meta)
	}
}
