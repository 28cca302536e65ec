package errors

import (
	"errors"
	"net/http"
)

// AsAppError unwraps err to the nearest AppError, if any.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HTTPStatus maps an error to the HTTP status code surfaced to API callers.
// Webhook ingestion never uses this mapping; handler errors there are logged
// and swallowed so the gateway keeps delivering.
func HTTPStatus(err error) int {
	appErr, ok := AsAppError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch appErr.Code {
	case ErrCodeValidation, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodePrecondition:
		return http.StatusPreconditionFailed
	case ErrCodeUpstream, ErrCodeTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns a caller-safe message for an error. Upstream and
// internal details stay in the logs.
func UserMessage(err error) string {
	appErr, ok := AsAppError(err)
	if !ok {
		return "internal error"
	}
	switch appErr.Code {
	case ErrCodeUpstream, ErrCodeTimeout:
		return "upstream gateway failure"
	case ErrCodeInternal, ErrCodeDatabaseQuery, ErrCodeDatabaseConnection:
		return "internal error"
	default:
		return appErr.Message
	}
}
