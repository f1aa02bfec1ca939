package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/SaiyanSerguchev/evimed-sub000/internal/http/response"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/repo/postgres"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/utils"
	"github.com/SaiyanSerguchev/evimed-sub000/pkg/auth"
	"github.com/SaiyanSerguchev/evimed-sub000/pkg/config"
	"github.com/SaiyanSerguchev/evimed-sub000/pkg/logger"
	"github.com/alexedwards/argon2id"
	"github.com/go-chi/chi/v5"
)

// AuthHandler issues admin tokens for the operational endpoints.
type AuthHandler struct {
	users postgres.UserRepo
	cfg   config.AuthConfig
}

func NewAuthHandler(users postgres.UserRepo, cfg config.AuthConfig) *AuthHandler {
	return &AuthHandler{users: users, cfg: cfg}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.login)
	return r
}

type loginIn struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var in loginIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Некорректный формат запроса")
		return
	}

	in.Email = utils.NormalizeEmail(in.Email)
	if in.Email == "" || in.Password == "" {
		response.BadRequest(w, "Укажите email и пароль")
		return
	}

	user, err := h.users.FindByEmail(r.Context(), in.Email)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to look up user", "error", err)
		response.InternalError(w, "Внутренняя ошибка сервера. Попробуйте позже.")
		return
	}
	if user == nil {
		response.Unauthorized(w, "Неверный email или пароль")
		return
	}

	match, err := argon2id.ComparePasswordAndHash(in.Password, user.PasswordHash)
	if err != nil || !match {
		response.Unauthorized(w, "Неверный email или пароль")
		return
	}

	token, err := auth.NewAccessToken(user.ID, user.Email, user.Role, h.cfg.JWTSecret, h.cfg.AccessTokenTTL)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to sign access token", "error", err)
		response.InternalError(w, "Внутренняя ошибка сервера. Попробуйте позже.")
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"expiresIn": int64(h.cfg.AccessTokenTTL.Seconds()),
	})
}
