package rest

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/brianmeyer/promptforge/internal/application/jobmanager"
	"github.com/brianmeyer/promptforge/pkg/promptforge"
)

type APIError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code, message string, httpStatus int) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

func NewAPIErrorWithDetails(code, message string, httpStatus int, details map[string]interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		HTTPStatus: httpStatus,
	}
}

var (
	ErrBadRequest       = NewAPIError("BAD_REQUEST", "Invalid request", http.StatusBadRequest)
	ErrNotFound         = NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrConflict         = NewAPIError("CONFLICT", "Resource conflict", http.StatusConflict)
	ErrValidationFailed = NewAPIError("VALIDATION_FAILED", "Validation failed", http.StatusBadRequest)
	ErrInternalServer   = NewAPIError("INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrTooManyRequests  = NewAPIError("RATE_LIMIT_EXCEEDED", "Too many requests", http.StatusTooManyRequests)
	ErrInvalidJSON      = NewAPIError("INVALID_JSON", "Invalid JSON in request body", http.StatusBadRequest)
	ErrMissingParameter = NewAPIError("MISSING_PARAMETER", "Required parameter is missing", http.StatusBadRequest)
)

// TranslateError maps a domain or infrastructure error to the API
// error envelope, the way a workflow API maps not-found/validation
// sentinels to HTTP status codes.
func TranslateError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, jobmanager.ErrAlreadyActive):
		return NewAPIError("RUN_ALREADY_ACTIVE", "a run is already active for this task class", http.StatusConflict)
	case errors.Is(err, jobmanager.ErrCodeLoopLocked):
		return NewAPIError("CODE_LOOP_LOCKED", "the code loop is busy with another cycle", http.StatusConflict)
	case errors.Is(err, jobmanager.ErrRateLimited):
		return NewAPIError("CODE_LOOP_RATE_LIMITED", "the code loop hourly rate limit is exhausted", http.StatusTooManyRequests)
	case errors.Is(err, promptforge.ErrCodeLoopDisabled):
		return NewAPIError("CODE_LOOP_DISABLED", "the code loop is not configured for this deployment", http.StatusServiceUnavailable)
	case errors.Is(err, sql.ErrNoRows):
		return NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "no rows") || strings.Contains(errMsg, "not found") {
		return NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	}

	return NewAPIError("INTERNAL_ERROR", "An unexpected error occurred", http.StatusInternalServerError)
}
