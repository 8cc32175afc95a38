package core

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenRevoked     = errors.New("token has been revoked")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidNonce     = errors.New("invalid nonce")
	ErrInvalidAddress   = errors.New("invalid ethereum address")

	ErrReconnectThrottled = errors.New("reconnect attempted too soon")
	ErrManagerClosed      = errors.New("connection manager closed")
	ErrStoreOperation     = errors.New("store operation failed")

	ErrCardNotFound = errors.New("card not found")
	ErrAlreadyVoted = errors.New("already voted for this card")
	ErrOwnCard      = errors.New("cannot vote for your own card")

	ErrCancelled       = errors.New("request cancelled")
	ErrInvalidResponse = errors.New("invalid response format")
)

// AuthError is returned for every authentication failure. Callers treat it
// as "not authenticated", whatever the cause.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError wraps err as an authentication failure.
func NewAuthError(err error) *AuthError {
	return &AuthError{Err: err}
}

// ConnectionError is returned when the backing store cannot be reached.
type ConnectionError struct {
	Store string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Store, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when an operation did not finish in time.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// TransientError wraps a network failure that may succeed on retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient network error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx HTTP response. 4xx responses are client errors
// and are never retried; everything else is transient.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	msg := e.Code
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, msg)
}

// ClientError reports whether the status is in the 4xx range.
func (e *StatusError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// ValidationError is returned for malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsTransient reports whether err may succeed if the operation is retried.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrCancelled) {
		return false
	}

	var timeoutErr *TimeoutError
	var transientErr *TransientError
	var connErr *ConnectionError
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return !statusErr.ClientError()
	case errors.As(err, &timeoutErr), errors.As(err, &transientErr), errors.As(err, &connErr):
		return true
	}
	return false
}
