package response

import (
	"encoding/json"
	"net/http"

	"github.com/SaiyanSerguchev/evimed-sub000/internal/domain"
	"github.com/SaiyanSerguchev/evimed-sub000/pkg/logger"
)

// ErrorResponse is the JSON error body. Error carries the stable machine
// code the client branches on; Message is the localized user text.
type ErrorResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	TimeLeft          int64  `json:"timeLeft,omitempty"`
	RemainingAttempts *int   `json:"remainingAttempts,omitempty"`
	RetryAfter        int64  `json:"retryAfter,omitempty"`
}

func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: code, Message: message})
}

// WriteDomainError maps a service error to the wire. Anything that is not a
// *domain.Error is an internal failure and is not echoed to the client.
func WriteDomainError(w http.ResponseWriter, err error) {
	if de := domain.AsError(err); de != nil {
		WriteJSON(w, de.Status, ErrorResponse{
			Error:             de.Code,
			Message:           de.Message,
			TimeLeft:          de.TimeLeft,
			RemainingAttempts: de.RemainingAttempts,
			RetryAfter:        de.RetryAfter,
		})
		return
	}
	InternalError(w, "Внутренняя ошибка сервера. Попробуйте позже.")
}

const (
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeNotFound      = "NOT_FOUND"
	CodeInternalError = "INTERNAL_ERROR"
)

func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, domain.CodeInvalidInput, message)
}

func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
