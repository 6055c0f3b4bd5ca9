package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Open-WP-Club/plugin-hub/internal/hub"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo represents error information in a response
type ErrorInfo struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details []ValidationError `json:"details,omitempty"`
}

// Meta carries counts and request correlation
type Meta struct {
	Total     int    `json:"total,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

// JSONWithMeta sends a JSON response with metadata
func JSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

// Error sends an error response
func Error(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	})
}

// ValidationErrorResponse sends a validation error response
func ValidationErrorResponse(w http.ResponseWriter, errs ValidationErrors) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    "VALIDATION_ERROR",
			Message: "Invalid plugin information.",
			Details: errs,
		},
	})
}

// kindStatus maps executor failure kinds to HTTP status codes
var kindStatus = map[hub.Kind]int{
	hub.KindPermission:   http.StatusForbidden,
	hub.KindNotFound:     http.StatusNotFound,
	hub.KindInvalidInput: http.StatusBadRequest,
	hub.KindTransport:    http.StatusBadGateway,
	hub.KindPlatform:     http.StatusInternalServerError,
	hub.KindVerification: http.StatusConflict,
	hub.KindConflict:     http.StatusConflict,
}

// ActionError sends the caller-safe message of an executor error. Foreign
// errors are reported as internal without their text.
func ActionError(w http.ResponseWriter, err error) {
	var he *hub.Error
	if !errors.As(err, &he) {
		InternalError(w, "Internal error. Please check the error log for more details.")
		return
	}
	status, ok := kindStatus[he.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	Error(w, status, string(he.Kind), he.Message)
}

// Common error responses
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, "BAD_REQUEST", message)
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, "NOT_FOUND", message)
}

func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

func Forbidden(w http.ResponseWriter, message string) {
	Error(w, http.StatusForbidden, "FORBIDDEN", message)
}

func ServiceUnavailable(w http.ResponseWriter, message string) {
	Error(w, http.StatusServiceUnavailable, "UNAVAILABLE", message)
}

// OK sends a 200 OK response
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}
