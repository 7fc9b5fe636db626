package apperr

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Response is the structured error envelope returned for any non-2xx
// response. A fresh ErrorID is assigned per occurrence so individual
// failures stay traceable in logs even when the condition repeats.
type Response struct {
	Status      string         `json:"status"`
	ErrorType   string         `json:"error_type"`
	ErrorID     string         `json:"error_id"`
	Message     string         `json:"message"`
	Timestamp   string         `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Recovery    string         `json:"recovery,omitempty"`
}

// NewResponse classifies err and builds the envelope for it. Internal
// errors get a generic message; every other kind exposes the error's own
// message, which components keep free of internal detail.
func NewResponse(err error) Response {
	kind := KindOf(err)

	resp := Response{
		Status:    "error",
		ErrorType: kind.String(),
		ErrorID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	switch kind {
	case KindInternal:
		resp.Message = "an internal error occurred"
	default:
		resp.Message = userMessage(err, kind)
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		resp.Details = appErr.Details
		resp.Suggestions = appErr.Suggestions
	}

	if kind == KindUnavailable || kind == KindRateLimited {
		resp.Recovery = "retry_after_delay"
	}

	return resp
}

// userMessage extracts a caller-safe message for non-internal kinds.
func userMessage(err error, kind Kind) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}

	switch kind {
	case KindRateLimited:
		return "request rate limit reached, please retry shortly"
	case KindQuotaExceeded:
		return "daily request quota exceeded"
	case KindNotFound:
		return "requested resource was not found"
	case KindUnavailable:
		return "a required service is temporarily unavailable"
	default:
		return err.Error()
	}
}
