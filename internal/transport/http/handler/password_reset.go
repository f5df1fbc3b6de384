package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-otp-bridge/internal/application/otp"
	"github.com/go-otp-bridge/internal/domain"
)

// PasswordResetHandler handles the bot-delivered password reset flow.
type PasswordResetHandler struct {
	svc    otp.Service
	botURL string
}

func NewPasswordResetHandler(svc otp.Service, botUsername string) *PasswordResetHandler {
	return &PasswordResetHandler{svc: svc, botURL: botLink(botUsername)}
}

func (h *PasswordResetHandler) Action(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "request":
		var req domain.PasswordResetRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		ticket, err := h.svc.CreatePasswordResetSession(r.Context(), req)
		if err != nil {
			httpError(w, r, err, h.botURL)
			return
		}
		writeJSON(w, http.StatusCreated, TicketEnvelope{Success: true, SessionTicket: ticket})
	case "confirm":
		var req domain.PasswordResetConfirmRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.svc.ConfirmPasswordReset(r.Context(), req)
		if err != nil {
			httpError(w, r, err, h.botURL)
			return
		}
		writeJSON(w, http.StatusOK, PasswordResetEnvelope{Success: res.PasswordChanged, PasswordResetResult: res})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", domain.KindValidation, "unknown action")
	}
}
