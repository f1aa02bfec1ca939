package domain

import (
	"errors"
	"net/http"
)

// Stable machine-readable error codes the client branches on.
const (
	CodeActiveRequestExists = "ACTIVE_REQUEST_EXISTS"
	CodeDeliveryFailed      = "DELIVERY_FAILED"
	CodeNotFound            = "CODE_NOT_FOUND"
	CodeMaxAttempts         = "MAX_ATTEMPTS_EXCEEDED"
	CodeInvalidCode         = "INVALID_CODE"
	CodeRemoteCreateFailed  = "REMOTE_CREATE_FAILED"
	CodeRemoteError         = "REMOTE_ERROR"
	CodeResendNotAllowed    = "RESEND_NOT_ALLOWED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInvalidInput        = "INVALID_INPUT"
)

// Error is a verification-flow error with a stable code, an HTTP status and
// a user-facing message in the site's language. Extra fields drive the
// client's retry affordances (countdowns, resend button).
type Error struct {
	Code              string `json:"code"`
	Status            int    `json:"-"`
	Message           string `json:"message"`
	TimeLeft          int64  `json:"timeLeft,omitempty"`
	RemainingAttempts *int   `json:"remainingAttempts,omitempty"`
	RetryAfter        int64  `json:"retryAfter,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// AsError unwraps err into *Error, or nil if it is not one.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

func ErrActiveRequestExists() *Error {
	return &Error{
		Code:    CodeActiveRequestExists,
		Status:  http.StatusConflict,
		Message: "Заявка на запись для этого email уже существует. Завершите подтверждение или дождитесь истечения срока.",
	}
}

func ErrDeliveryFailed() *Error {
	return &Error{
		Code:    CodeDeliveryFailed,
		Status:  http.StatusInternalServerError,
		Message: "Не удалось отправить письмо с кодом подтверждения. Попробуйте ещё раз.",
	}
}

func ErrCodeNotFound() *Error {
	return &Error{
		Code:    CodeNotFound,
		Status:  http.StatusBadRequest,
		Message: "Код подтверждения не найден или истёк. Запросите новый код.",
	}
}

func ErrMaxAttempts() *Error {
	return &Error{
		Code:    CodeMaxAttempts,
		Status:  http.StatusBadRequest,
		Message: "Превышено число попыток ввода кода. Запросите новый код.",
	}
}

func ErrInvalidCode(remainingAttempts int) *Error {
	return &Error{
		Code:              CodeInvalidCode,
		Status:            http.StatusBadRequest,
		Message:           "Неверный код подтверждения.",
		RemainingAttempts: &remainingAttempts,
	}
}

func ErrRemoteCreateFailed() *Error {
	return &Error{
		Code:    CodeRemoteCreateFailed,
		Status:  http.StatusInternalServerError,
		Message: "Не удалось создать запись в клинике. Пожалуйста, обратитесь в регистратуру.",
	}
}

func ErrResendNotAllowed(timeLeft int64) *Error {
	return &Error{
		Code:     CodeResendNotAllowed,
		Status:   http.StatusBadRequest,
		Message:  "Повторная отправка кода пока недоступна.",
		TimeLeft: timeLeft,
	}
}

func ErrRateLimited(retryAfter int64) *Error {
	return &Error{
		Code:       CodeRateLimited,
		Status:     http.StatusTooManyRequests,
		Message:    "Слишком много запросов. Попробуйте позже.",
		RetryAfter: retryAfter,
	}
}

func ErrInvalidInput(message string) *Error {
	return &Error{
		Code:    CodeInvalidInput,
		Status:  http.StatusBadRequest,
		Message: message,
	}
}
