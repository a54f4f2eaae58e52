package api

import (
	"net/http"

	"github.com/example/dojo-academy/internal/platform/apperr"
)

type ErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Kind      string         `json:"kind,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, code, message, requestID string, details map[string]any) {
	WriteJSON(w, status, ErrorResponse{Error: APIError{Code: code, Message: message, Details: details, RequestID: requestID}})
}

// WriteAppError renders a classified failure. Anything that is not an
// *apperr.Error is reported as a generic internal error.
func WriteAppError(w http.ResponseWriter, requestID string, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		Internal(w, requestID)
		return
	}

	var status int
	switch ae.Kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindInvalidReference:
		status = http.StatusUnprocessableEntity
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindUnauthorized:
		status = http.StatusUnauthorized
	case apperr.KindForbidden:
		status = http.StatusForbidden
	default:
		Internal(w, requestID)
		return
	}

	var details map[string]any
	if ae.Field != "" {
		details = map[string]any{"field": ae.Field}
	}
	WriteJSON(w, status, ErrorResponse{Error: APIError{
		Code:      ae.Code,
		Message:   ae.Message,
		Kind:      ae.Kind.String(),
		Details:   details,
		RequestID: requestID,
	}})
}

// Convenience helpers
func BadRequest(w http.ResponseWriter, code, message, requestID string, details map[string]any) {
	WriteError(w, http.StatusBadRequest, code, message, requestID, details)
}

func Unauthorized(w http.ResponseWriter, code, message, requestID string) {
	WriteError(w, http.StatusUnauthorized, code, message, requestID, nil)
}

func Forbidden(w http.ResponseWriter, code, message, requestID string) {
	WriteError(w, http.StatusForbidden, code, message, requestID, nil)
}

func NotFound(w http.ResponseWriter, code, message, requestID string) {
	WriteError(w, http.StatusNotFound, code, message, requestID, nil)
}

func RateLimited(w http.ResponseWriter, code, message, requestID string, details map[string]any) {
	WriteError(w, http.StatusTooManyRequests, code, message, requestID, details)
}

func Internal(w http.ResponseWriter, requestID string) {
	WriteError(w, http.StatusInternalServerError, "INTERNAL", "Internal server error", requestID, nil)
}
