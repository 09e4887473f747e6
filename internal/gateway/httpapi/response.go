package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/vivacius/asistenciacampo/internal/blobstore"
	"github.com/vivacius/asistenciacampo/internal/gateway"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Error codes carried in ErrorDetail.Code.
const (
	CodeBadRequest = "BAD_REQUEST"
	CodeValidation = "VALIDATION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeInternal   = "INTERNAL_SERVER_ERROR"
)

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		fallback := Response{
			Success: false,
			Error: &ErrorDetail{
				Code:    "ENCODING_ERROR",
				Message: "Failed to encode response",
			},
		}
		_ = json.NewEncoder(w).Encode(fallback)
	}
}

func success(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func created(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusCreated, Response{Success: true, Message: message, Data: data})
}

func failure(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	writeJSON(w, status, Response{
		Success: false,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func badRequest(w http.ResponseWriter, message string) {
	failure(w, http.StatusBadRequest, CodeBadRequest, message, nil)
}

// validationFailed reports validator errors as field -> failed tag.
func validationFailed(w http.ResponseWriter, err error) {
	details := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details[fe.Namespace()] = fe.Tag()
		}
	} else {
		details["request"] = err.Error()
	}
	failure(w, http.StatusUnprocessableEntity, CodeValidation, "Validation failed", details)
}

// handleError maps gateway errors to HTTP responses.
func handleError(w http.ResponseWriter, err error) {
	switch {
	case gateway.IsDuplicate(err):
		failure(w, http.StatusConflict, CodeConflict, err.Error(), nil)
	case errors.Is(err, gateway.ErrUnknownTable):
		failure(w, http.StatusNotFound, CodeNotFound, err.Error(), nil)
	case errors.Is(err, blobstore.ErrNotFound):
		failure(w, http.StatusNotFound, CodeNotFound, "Blob not found", nil)
	default:
		failure(w, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred", nil)
	}
}
