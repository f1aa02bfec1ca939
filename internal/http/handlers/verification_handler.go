package handlers

import (
	"encoding/json"
	"math"
	"net/http"

	"github.com/SaiyanSerguchev/evimed-sub000/internal/domain"
	mw "github.com/SaiyanSerguchev/evimed-sub000/internal/http/middleware"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/http/response"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/service"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/utils"
	"github.com/go-chi/chi/v5"
)

type VerificationHandler struct {
	service      service.VerificationService
	limiter      *mw.RateLimiter
	requireAdmin func(http.Handler) http.Handler
}

func NewVerificationHandler(svc service.VerificationService, limiter *mw.RateLimiter, requireAdmin func(http.Handler) http.Handler) *VerificationHandler {
	return &VerificationHandler{
		service:      svc,
		limiter:      limiter,
		requireAdmin: requireAdmin,
	}
}

func (h *VerificationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/send-code", h.sendCode)
	r.Post("/verify-code", h.verifyCode)
	r.Get("/status/{email}", h.status)
	r.Post("/resend-code", h.resendCode)
	r.With(h.requireAdmin).Post("/cleanup", h.cleanup)
	return r
}

type issueResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	RequestID      int64  `json:"requestId"`
	VerificationID int64  `json:"verificationId"`
	ExpiresAt      string `json:"expiresAt"`
	TimeLeft       int64  `json:"timeLeft"`
}

func (h *VerificationHandler) sendCode(w http.ResponseWriter, r *http.Request) {
	var in domain.CreateRequestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Некорректный формат запроса")
		return
	}

	in.Email = utils.NormalizeEmail(in.Email)
	if !h.allow(w, in.Email) {
		return
	}

	result, err := h.service.IssueCode(r.Context(), &in)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, issueResponse{
		Success:        true,
		Message:        "Код подтверждения отправлен на указанный email",
		RequestID:      result.RequestID,
		VerificationID: result.VerificationID,
		ExpiresAt:      result.ExpiresAt.Format("2006-01-02 15:04:05"),
		TimeLeft:       result.TimeLeft,
	})
}

type verifyIn struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *VerificationHandler) verifyCode(w http.ResponseWriter, r *http.Request) {
	var in verifyIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Некорректный формат запроса")
		return
	}
	if in.Email == "" || in.Code == "" {
		response.BadRequest(w, "Укажите email и код подтверждения")
		return
	}

	appt, err := h.service.VerifyCode(r.Context(), in.Email, in.Code)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"success":     true,
		"message":     "Запись успешно создана",
		"appointment": appt,
	})
}

func (h *VerificationHandler) status(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if !utils.IsValidEmail(email) {
		response.BadRequest(w, "Некорректный email")
		return
	}

	st, err := h.service.Status(r.Context(), email)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, st)
}

type resendIn struct {
	Email string `json:"email"`
}

func (h *VerificationHandler) resendCode(w http.ResponseWriter, r *http.Request) {
	var in resendIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Некорректный формат запроса")
		return
	}

	in.Email = utils.NormalizeEmail(in.Email)
	if !h.allow(w, in.Email) {
		return
	}

	result, err := h.service.ResendCode(r.Context(), in.Email)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, issueResponse{
		Success:        true,
		Message:        "Новый код подтверждения отправлен",
		RequestID:      result.RequestID,
		VerificationID: result.VerificationID,
		ExpiresAt:      result.ExpiresAt.Format("2006-01-02 15:04:05"),
		TimeLeft:       result.TimeLeft,
	})
}

func (h *VerificationHandler) cleanup(w http.ResponseWriter, r *http.Request) {
	codes, requests, err := h.service.Cleanup(r.Context())
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"codesRemoved":    codes,
		"requestsRemoved": requests,
	})
}

// allow consults the rate limiter before the orchestrator is ever reached.
func (h *VerificationHandler) allow(w http.ResponseWriter, email string) bool {
	if email == "" {
		// Let the orchestrator produce the proper validation error.
		return true
	}
	if retryAfter, ok := h.limiter.Allow(email); !ok {
		response.WriteDomainError(w, domain.ErrRateLimited(int64(math.Ceil(retryAfter.Seconds()))))
		return false
	}
	return true
}
