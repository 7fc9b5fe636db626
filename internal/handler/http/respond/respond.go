// Package respond centralizes JSON response writing so every handler emits
// the same success and error envelopes.
package respond

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"grant-scout/internal/apperr"
)

// JSON writes v with the given status code.
func JSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", slog.Any("error", err))
	}
}

// Error classifies err, writes the sanitized error envelope, and logs the
// full cause with the envelope's error id so operators can correlate.
func Error(ctx context.Context, w http.ResponseWriter, err error) {
	resp := apperr.NewResponse(err)
	status := apperr.KindOf(err).HTTPStatus()

	slog.ErrorContext(ctx, "request failed",
		slog.String("error_id", resp.ErrorID),
		slog.String("error_type", resp.ErrorType),
		slog.Int("status", status),
		slog.Any("error", err))

	JSON(ctx, w, status, resp)
}
