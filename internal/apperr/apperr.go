// Package apperr defines the closed error taxonomy used across the
// resilience layer. Every error that crosses a component boundary is
// classified into one of the kinds below so that retry, recovery, and the
// HTTP error boundary can branch on kind instead of inspecting error types.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Kind identifies a class of failure with a fixed handling policy.
type Kind int

const (
	// KindInternal is the zero value: unexpected errors that must be logged
	// with full context and never leak detail to callers.
	KindInternal Kind = iota

	// KindTransient covers network and timeout failures worth retrying.
	KindTransient

	// KindRateLimited means an external API budget was hit for the current
	// window; callers should wait and retry, honoring a reset hint if present.
	KindRateLimited

	// KindQuotaExceeded means a daily or longer-horizon budget is exhausted.
	// Not retryable until the window resets.
	KindQuotaExceeded

	// KindValidation covers malformed input; never retried.
	KindValidation

	// KindNotFound covers missing entities.
	KindNotFound

	// KindUnavailable means a dependency is degraded or recovery has not yet
	// succeeded; callers may retry after a delay.
	KindUnavailable
)

// String returns the machine-readable taxonomy key used in error envelopes.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient_connectivity"
	case KindRateLimited:
		return "rate_limited"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "service_unavailable"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps the kind to the status code used by the error boundary.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindTransient:
		return http.StatusBadGateway
	case KindRateLimited, KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether per-call retry is a sensible response.
// Quota exhaustion is deliberately excluded: it does not clear on retry.
func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindRateLimited
}

// Error is the taxonomy-carrying error type. It wraps an underlying cause
// and optionally carries field-level detail and actionable suggestions for
// the error envelope.
type Error struct {
	Kind        Kind
	Message     string
	Err         error
	Details     map[string]any
	Suggestions []string
}

// New creates an Error of the given kind with a user-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// WithDetail attaches a detail entry and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion appends an actionable suggestion for the caller.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestions = append(e.Suggestions, s)
	return e
}

// RateLimitError signals a per-window budget hit. ResetAfter carries the
// server-supplied reset hint when available; zero means no hint.
type RateLimitError struct {
	ResetAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.ResetAfter > 0 {
		return fmt.Sprintf("rate limited, reset in %s", e.ResetAfter)
	}
	return "rate limited"
}

// Unwrap returns the underlying cause.
func (e *RateLimitError) Unwrap() error { return e.Err }

// QuotaError signals a daily-horizon budget exhaustion. ResetAt is the
// start of the next quota window.
type QuotaError struct {
	ResetAt time.Time
}

// Error implements the error interface.
func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily quota exceeded, resets at %s", e.ResetAt.UTC().Format(time.RFC3339))
}

// Sentinel errors shared across components.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates a dependency cannot serve the request.
	ErrUnavailable = errors.New("service unavailable")
)

// KindOf classifies an arbitrary error into the taxonomy. Classification
// order matters: explicit taxonomy errors win, then typed rate-limit and
// quota errors, then connectivity heuristics, then sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	var quotaErr *QuotaError
	if errors.As(err, &quotaErr) {
		return KindQuotaExceeded
	}

	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return KindRateLimited
	}

	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	if errors.Is(err, ErrUnavailable) {
		return KindUnavailable
	}

	if IsConnectivity(err) {
		return KindTransient
	}

	return KindInternal
}

// IsConnectivity reports whether the error looks like a network or timeout
// failure. These mark connections unhealthy and feed breaker failure counts.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}

	// Internal deadline expiry is a dependency signal; caller cancellation
	// is handled separately by the components that care.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	return false
}
