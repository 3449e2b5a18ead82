package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrRateLimited       = errors.New("rate_limited")
	ErrMalformedResponse = errors.New("malformed_response")
	ErrCircuitOpen       = errors.New("circuit_open")
)

// HTTPError represents a non-2xx status from the classification API.
type HTTPError struct {
	StatusCode int
	Body       string
	Endpoint   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.Endpoint, e.Body)
}

// Unwrap lets errors.Is(err, ErrRateLimited) match a 429.
func (e *HTTPError) Unwrap() error {
	if e.StatusCode == 429 {
		return ErrRateLimited
	}
	return nil
}

// CircuitOpenError is returned without calling the API while the breaker for
// Key is open. RetryAt is zero when the breaker did not report a cooldown end.
type CircuitOpenError struct {
	Key     string
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s: %s", e.Key, ErrCircuitOpen)
	}
	return fmt.Sprintf("%s: %s until %s", e.Key, ErrCircuitOpen, e.RetryAt.Format(time.RFC3339Nano))
}

func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }

// RetryAfter returns how long to wait before an open breaker admits the next
// call. ok is false when err is not a breaker rejection.
func RetryAfter(err error, now time.Time) (wait time.Duration, ok bool) {
	var open *CircuitOpenError
	if !errors.As(err, &open) {
		return 0, false
	}
	if open.RetryAt.After(now) {
		wait = open.RetryAt.Sub(now)
	}
	return wait, true
}

func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }
func IsMalformed(err error) bool   { return errors.Is(err, ErrMalformedResponse) }
func IsCircuitOpen(err error) bool { return errors.Is(err, ErrCircuitOpen) }

// IsTransient reports errors worth another attempt later: timeouts, rate
// limits, 5xx and broken connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || IsRateLimited(err) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 && httpErr.StatusCode < 600
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "eof")
}

// IsFatal reports errors that will not go away on retry: 4xx other than 429
// or a cancelled run. An open breaker is not fatal, it closes again.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "invalid request") ||
		strings.Contains(errStr, "bad request")
}

// IsRetryable reports whether a failed text call gets its single retry.
// Unparseable model output counts: a second sample often parses. So does a
// breaker rejection, once the cooldown has run out.
func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	return IsTransient(err) || IsMalformed(err) || IsCircuitOpen(err)
}
