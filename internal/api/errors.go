// Package api is the HTTP surface of the reconciler: Paystack webhook intake,
// the donor return channel, operator actions and health checks.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/donation-reconciler/internal/middleware"
)

// Error codes used in JSON error responses.
const (
	ErrCodeValidation        = "validation_error"
	ErrCodeAuthFailed        = "auth_failed"
	ErrCodeNotFound          = "not_found"
	ErrCodeDonationNotFound  = "donation_not_found"
	ErrCodeRecurringNotFound = "recurring_not_found"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeInternal          = "internal_error"
	ErrCodeForbidden         = "forbidden"
	ErrCodeConflict          = "conflict"
	ErrCodeBadRequest        = "bad_request"
	ErrCodeMethodNotAllowed  = "method_not_allowed"
	ErrCodeGatewayError      = "gateway_error"
)

// ErrorResponse is the JSON error envelope: {"error": {"code", "message"}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine code and a human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a JSON error and records code for the request log line.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.SetErrorCode(ctx, code)

	data, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// writeJSON writes v with status.
func writeJSON(w http.ResponseWriter, ctx context.Context, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// StatusCodeMapping returns the HTTP status for an error code.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeNotFound, ErrCodeDonationNotFound, ErrCodeRecurringNotFound:
		return http.StatusNotFound
	case ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeGatewayError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
