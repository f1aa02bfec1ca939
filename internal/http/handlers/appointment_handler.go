package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/SaiyanSerguchev/evimed-sub000/internal/domain"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/http/response"
	"github.com/SaiyanSerguchev/evimed-sub000/internal/repo/postgres"
	"github.com/SaiyanSerguchev/evimed-sub000/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// AppointmentGateway covers the admin-side CRM calls. The CRM owns the real
// appointment; this surface only reflects and forwards.
type AppointmentGateway interface {
	CheckStatus(ctx context.Context, externalID string) (string, error)
	Cancel(ctx context.Context, externalID, comment string) (bool, error)
	Confirm(ctx context.Context, externalID string) (bool, error)
}

// AppointmentHandler serves the admin panel's view of locally cached
// appointments, refreshing the status from the CRM on demand.
type AppointmentHandler struct {
	appts        postgres.AppointmentRepo
	gateway      AppointmentGateway
	requireAdmin func(http.Handler) http.Handler
}

func NewAppointmentHandler(appts postgres.AppointmentRepo, gateway AppointmentGateway, requireAdmin func(http.Handler) http.Handler) *AppointmentHandler {
	return &AppointmentHandler{appts: appts, gateway: gateway, requireAdmin: requireAdmin}
}

func (h *AppointmentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.requireAdmin)
	r.Get("/{renovatioID}", h.get)
	r.Post("/{renovatioID}/cancel", h.cancel)
	r.Post("/{renovatioID}/confirm", h.confirm)
	return r
}

// get returns the local record with its status refreshed from the CRM. A CRM
// failure degrades to the last-known status rather than failing the read.
func (h *AppointmentHandler) get(w http.ResponseWriter, r *http.Request) {
	appt := h.load(w, r)
	if appt == nil {
		return
	}

	if remote, err := h.gateway.CheckStatus(r.Context(), appt.RenovatioID); err != nil {
		logger.WarnContext(r.Context(), "Failed to refresh appointment status",
			"error", err, "renovatio_id", appt.RenovatioID)
	} else if status, ok := domain.ParseAppointmentStatus(remote); ok && status != appt.Status {
		if err := h.appts.UpdateStatus(r.Context(), appt.RenovatioID, status); err != nil {
			logger.ErrorContext(r.Context(), "Failed to store refreshed status",
				"error", err, "renovatio_id", appt.RenovatioID)
		}
		appt.Status = status
	}

	response.WriteJSON(w, http.StatusOK, appt)
}

type cancelIn struct {
	Comment string `json:"comment"`
}

func (h *AppointmentHandler) cancel(w http.ResponseWriter, r *http.Request) {
	appt := h.load(w, r)
	if appt == nil {
		return
	}

	var in cancelIn
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&in)
	}

	ok, err := h.gateway.Cancel(r.Context(), appt.RenovatioID, in.Comment)
	if err != nil || !ok {
		logger.ErrorContext(r.Context(), "Failed to cancel appointment",
			"error", err, "renovatio_id", appt.RenovatioID)
		response.WriteError(w, http.StatusBadGateway, domain.CodeRemoteError,
			"Не удалось отменить запись в клинике.")
		return
	}

	if err := h.appts.UpdateStatus(r.Context(), appt.RenovatioID, domain.AppointmentCanceled); err != nil {
		logger.ErrorContext(r.Context(), "Failed to store canceled status",
			"error", err, "renovatio_id", appt.RenovatioID)
	}

	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  domain.AppointmentCanceled,
	})
}

func (h *AppointmentHandler) confirm(w http.ResponseWriter, r *http.Request) {
	appt := h.load(w, r)
	if appt == nil {
		return
	}

	ok, err := h.gateway.Confirm(r.Context(), appt.RenovatioID)
	if err != nil || !ok {
		logger.ErrorContext(r.Context(), "Failed to confirm appointment",
			"error", err, "renovatio_id", appt.RenovatioID)
		response.WriteError(w, http.StatusBadGateway, domain.CodeRemoteError,
			"Не удалось подтвердить запись в клинике.")
		return
	}

	if err := h.appts.UpdateStatus(r.Context(), appt.RenovatioID, domain.AppointmentConfirmed); err != nil {
		logger.ErrorContext(r.Context(), "Failed to store confirmed status",
			"error", err, "renovatio_id", appt.RenovatioID)
	}

	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  domain.AppointmentConfirmed,
	})
}

func (h *AppointmentHandler) load(w http.ResponseWriter, r *http.Request) *domain.Appointment {
	renovatioID := chi.URLParam(r, "renovatioID")
	appt, err := h.appts.GetByRenovatioID(r.Context(), renovatioID)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to load appointment", "error", err, "renovatio_id", renovatioID)
		response.InternalError(w, "Внутренняя ошибка сервера. Попробуйте позже.")
		return nil
	}
	if appt == nil {
		response.NotFound(w, "Запись не найдена")
		return nil
	}
	return appt
}
