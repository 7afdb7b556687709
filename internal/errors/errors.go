package errors

import (
	"encoding/json"
	"net/http"
)

// AppError is an error with an HTTP status. It serializes as
// {"error": "<message>", "code": "<CODE>"}.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"error"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	return e.Message
}

// WriteJSON writes the error as JSON response
func (e *AppError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(e)
}

// ============================================================
// ERROR CONSTRUCTORS
// ============================================================

// Validation Errors (400)
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func InvalidURL() *AppError {
	return &AppError{
		Code:       "INVALID_URL",
		Message:    "Invalid URL",
		StatusCode: http.StatusBadRequest,
	}
}

func MachineIDRequired() *AppError {
	return &AppError{
		Code:       "MISSING_FIELD",
		Message:    "Machine ID required",
		StatusCode: http.StatusBadRequest,
	}
}

func InvalidJSON(details string) *AppError {
	return &AppError{
		Code:       "INVALID_JSON",
		Message:    "Invalid JSON in request body",
		Details:    details,
		StatusCode: http.StatusBadRequest,
	}
}

// Not Found Errors (404)
func NotFound() *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    "Not found",
		StatusCode: http.StatusNotFound,
	}
}

// Server Errors (5xx)
func Internal(details string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An internal server error occurred",
		Details:    details,
		StatusCode: http.StatusInternalServerError,
	}
}

func Unavailable(details string) *AppError {
	return &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "Link store unavailable",
		Details:    details,
		StatusCode: http.StatusServiceUnavailable,
	}
}
