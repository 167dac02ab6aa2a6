package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies bridge errors.
type ErrorCode string

const (
	ErrCodeConnectionInfoMissing ErrorCode = "CONNECTION_INFO_MISSING"
	ErrCodeAuthFailed            ErrorCode = "AUTH_FAILED"
	ErrCodeTransport             ErrorCode = "TRANSPORT"
	ErrCodeProtocolMalformed     ErrorCode = "PROTOCOL_MALFORMED"
	ErrCodeRelayEstablish        ErrorCode = "RELAY_ESTABLISH_FAILED"
	ErrCodeUpdateFailed          ErrorCode = "UPDATE_FAILED"
	ErrCodeInvalidInput          ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound              ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized          ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit             ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
)

// BridgeError carries a classification code alongside the wrapped cause.
type BridgeError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *BridgeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BridgeError) Unwrap() error {
	return e.Cause
}

// New creates a BridgeError without a cause.
func New(code ErrorCode, message string, httpStatus int) *BridgeError {
	return &BridgeError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap attaches a classification to an existing error.
func Wrap(err error, code ErrorCode, message string, httpStatus int) *BridgeError {
	return &BridgeError{Code: code, Message: message, HTTPStatus: httpStatus, Cause: err}
}

func NewInvalidInputError(message string) *BridgeError {
	return New(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewUnauthorizedError(message string) *BridgeError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewNotFoundError(resource string) *BridgeError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewRateLimitError() *BridgeError {
	return New(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *BridgeError {
	return New(ErrCodeInternal, message, http.StatusInternalServerError)
}

// WrapUpdateFailed classifies a coordinator refresh failure.
func WrapUpdateFailed(err error, message string) *BridgeError {
	return Wrap(err, ErrCodeUpdateFailed, message, http.StatusBadGateway)
}

// WrapRelayEstablish classifies a signaling-session establishment failure.
func WrapRelayEstablish(err error, message string) *BridgeError {
	return Wrap(err, ErrCodeRelayEstablish, message, http.StatusBadGateway)
}

// GetBridgeError extracts a BridgeError from anywhere in the chain.
func GetBridgeError(err error) *BridgeError {
	var be *BridgeError
	if errors.As(err, &be) {
		return be
	}
	return nil
}

// HasCode reports whether the chain contains a BridgeError with the given code.
func HasCode(err error, code ErrorCode) bool {
	be := GetBridgeError(err)
	return be != nil && be.Code == code
}
