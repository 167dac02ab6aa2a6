package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestBridgeError_Error(t *testing.T) {
	err := New(ErrCodeUpdateFailed, "refresh cycle failed", http.StatusBadGateway)
	want := "UPDATE_FAILED: refresh cycle failed"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	cause := errors.New("connection refused")
	wrapped := Wrap(cause, ErrCodeTransport, "device unreachable", http.StatusBadGateway)
	want = "TRANSPORT: device unreachable: connection refused"
	if wrapped.Error() != want {
		t.Errorf("Error() = %q, want %q", wrapped.Error(), want)
	}
}

func TestBridgeError_Unwrap(t *testing.T) {
	cause := errors.New("401 unauthorized")
	wrapped := Wrap(cause, ErrCodeAuthFailed, "token rejected", http.StatusUnauthorized)

	if !errors.Is(wrapped, cause) {
		t.Error("expected errors.Is to find the cause through the wrapper")
	}
}

func TestGetBridgeError_NestedChain(t *testing.T) {
	inner := Wrap(errors.New("boom"), ErrCodeAuthFailed, "auth failed", http.StatusUnauthorized)
	outer := fmt.Errorf("refresh: %w", inner)

	be := GetBridgeError(outer)
	if be == nil {
		t.Fatal("expected BridgeError in chain")
	}
	if be.Code != ErrCodeAuthFailed {
		t.Errorf("Code = %s, want %s", be.Code, ErrCodeAuthFailed)
	}
}

func TestGetBridgeError_PlainError(t *testing.T) {
	if be := GetBridgeError(errors.New("plain")); be != nil {
		t.Errorf("expected nil, got %v", be)
	}
	if be := GetBridgeError(nil); be != nil {
		t.Errorf("expected nil for nil error, got %v", be)
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", WrapUpdateFailed(errors.New("x"), "cycle failed"))

	if !HasCode(err, ErrCodeUpdateFailed) {
		t.Error("expected HasCode(ErrCodeUpdateFailed) = true")
	}
	if HasCode(err, ErrCodeAuthFailed) {
		t.Error("expected HasCode(ErrCodeAuthFailed) = false")
	}
}

func TestConstructors_Status(t *testing.T) {
	tests := []struct {
		name string
		err  *BridgeError
		code ErrorCode
		want int
	}{
		{"invalid input", NewInvalidInputError("bad mac"), ErrCodeInvalidInput, http.StatusBadRequest},
		{"unauthorized", NewUnauthorizedError("no token"), ErrCodeUnauthorized, http.StatusUnauthorized},
		{"not found", NewNotFoundError("session"), ErrCodeNotFound, http.StatusNotFound},
		{"rate limit", NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{"internal", NewInternalError("oops"), ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.code)
			}
			if tt.err.HTTPStatus != tt.want {
				t.Errorf("HTTPStatus = %d, want %d", tt.err.HTTPStatus, tt.want)
			}
		})
	}
}
