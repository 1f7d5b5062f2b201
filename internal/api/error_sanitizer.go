package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ignite/adinsights/internal/pkg/logger"
	"github.com/ignite/adinsights/internal/report"
	"github.com/ignite/adinsights/internal/snapshot"
	"github.com/ignite/adinsights/internal/windsor"
)

// =============================================================================
// ERROR SANITIZER
// Upstream response bodies, connection details and database errors are never
// returned to API consumers. 5xx responses carry a generic message while the
// full error is logged server-side.
// =============================================================================

// sanitizedError logs the full internal error and returns a public-safe message.
func sanitizedError(code int, internalErr error, publicMsg string) string {
	if internalErr != nil {
		logger.Error("request failed", "status", code, "message", publicMsg, "error", internalErr)
	}
	return publicMsg
}

// respondSafeError logs the internal error and sends a sanitized JSON error.
func respondSafeError(w http.ResponseWriter, code int, internalErr error, publicMsg string) {
	msg := sanitizedError(code, internalErr, publicMsg)
	respondJSON(w, code, map[string]string{"error": msg})
}

// statusFor maps fetch and service errors to HTTP status codes.
func statusFor(err error) int {
	var apiErr *windsor.APIError
	switch {
	case errors.Is(err, windsor.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, report.ErrUnknownPlatform),
		errors.Is(err, windsor.ErrUnknownDataset),
		errors.Is(err, snapshot.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, report.ErrSnapshotsDisabled),
		errors.Is(err, report.ErrCacheDisabled),
		errors.Is(err, report.ErrNoAccounts):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), windsor.IsTransient(err):
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondFetchError sends err with the status statusFor picks. 4xx messages
// describe the caller's input and are returned as is.
func respondFetchError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code < 500 || code == http.StatusServiceUnavailable {
		respondError(w, code, err.Error())
		return
	}
	respondSafeError(w, code, err, safeErrorMessage(code, err))
}

// safeErrorMessage maps internal errors to public-safe messages.
func safeErrorMessage(code int, internalErr error) string {
	if code < 500 {
		if internalErr != nil {
			return internalErr.Error()
		}
		return "Bad request"
	}
	if internalErr == nil {
		return "An internal error occurred"
	}

	var apiErr *windsor.APIError
	if errors.As(internalErr, &apiErr) {
		if errors.Is(internalErr, windsor.ErrSchemaRejected) {
			return fmt.Sprintf("%s connector rejected every field set", apiErr.Platform)
		}
		return fmt.Sprintf("%s connector returned status %d", apiErr.Platform, apiErr.StatusCode)
	}
	if windsor.IsTransient(internalErr) {
		return "Upstream connector unavailable"
	}

	errStr := strings.ToLower(internalErr.Error())
	switch {
	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context canceled"):
		return "Request timed out"

	case strings.Contains(errStr, "redis") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "dial tcp"):
		return "Service temporarily unavailable"

	case strings.Contains(errStr, "s3") ||
		strings.Contains(errStr, "access denied"):
		return "Snapshot storage error"

	case strings.Contains(errStr, "sql") ||
		strings.Contains(errStr, "pq:") ||
		strings.Contains(errStr, "database"):
		return "A database error occurred"

	default:
		return "An internal error occurred"
	}
}
