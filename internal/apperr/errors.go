// Package apperr holds the error taxonomy shared by the execution pipeline,
// the model lifecycle and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError is terminal: the signal violates broker constraints or a limit.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// AuthError is a 401 from the execution endpoint (bad signature).
type AuthError struct {
	Body string
}

func (e *AuthError) Error() string { return "auth rejected: " + e.Body }

// StaleRequestError is a 400 caused by a timestamp outside the acceptance window.
type StaleRequestError struct {
	Body string
}

func (e *StaleRequestError) Error() string { return "stale request: " + e.Body }

// TransientError covers 5xx and network failures.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient (%d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient (%d)", e.Status)
}

func (e *TransientError) Unwrap() error { return e.Err }

// DuplicateError marks a 429 duplicate submission. Callers resolve it as success.
type DuplicateError struct {
	Body string
}

func (e *DuplicateError) Error() string { return "duplicate submission" }

// RejectedError is any other non-2xx response.
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected (%d): %s", e.Status, e.Body)
}

// CircuitOpenError is returned instead of calling a service whose breaker is open.
type CircuitOpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry after %ds", e.Service, int(e.RetryAfter.Seconds()))
}

// SafetyBreach describes a threshold breach. It is recorded as an alert and
// never returned up the call stack.
type SafetyBreach struct {
	Asset     string
	Type      string
	Value     float64
	Threshold float64
}

func (e *SafetyBreach) Error() string {
	return fmt.Sprintf("safety breach %s on %s: %.4f vs %.4f", e.Type, e.Asset, e.Value, e.Threshold)
}

var ErrNotFound = errors.New("not found")

// NotFound wraps ErrNotFound with the missing entity.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Retryable reports whether the caller may try the same work again later.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var co *CircuitOpenError
	if errors.As(err, &co) {
		return true
	}
	var te *TransientError
	return errors.As(err, &te)
}

// RetryAfter returns the wait hint carried by a CircuitOpenError.
func RetryAfter(err error) (time.Duration, bool) {
	var co *CircuitOpenError
	if errors.As(err, &co) {
		return co.RetryAfter, true
	}
	return 0, false
}
