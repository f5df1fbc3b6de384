package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-otp-bridge/internal/application/otp"
	"github.com/go-otp-bridge/internal/domain"
)

// VerificationHandler serves session creation, polling and verification.
type VerificationHandler struct {
	svc    otp.Service
	botURL string
}

func NewVerificationHandler(svc otp.Service, botUsername string) *VerificationHandler {
	return &VerificationHandler{svc: svc, botURL: botLink(botUsername)}
}

func (h *VerificationHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ticket, err := h.svc.CreateSession(r.Context(), req)
	if err != nil {
		httpError(w, r, err, h.botURL)
		return
	}
	writeJSON(w, http.StatusCreated, TicketEnvelope{Success: true, SessionTicket: ticket})
}

func (h *VerificationHandler) CreateSMSSession(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ticket, err := h.svc.CreateSMSSession(r.Context(), req)
	if err != nil {
		httpError(w, r, err, h.botURL)
		return
	}
	writeJSON(w, http.StatusCreated, TicketEnvelope{Success: true, SessionTicket: ticket})
}

func (h *VerificationHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httpError(w, r, err, h.botURL)
		return
	}
	writeJSON(w, http.StatusOK, StatusEnvelope{Success: true, Status: status})
}

func (h *VerificationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Verify(r.Context(), req)
	if err != nil {
		httpError(w, r, err, h.botURL)
		return
	}
	writeJSON(w, http.StatusOK, VerificationEnvelope{Success: true, VerificationResult: res})
}

func (h *VerificationHandler) CompleteRegistration(w http.ResponseWriter, r *http.Request) {
	var req domain.RegistrationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	acct, err := h.svc.CompleteRegistration(r.Context(), req)
	if err != nil {
		httpError(w, r, err, h.botURL)
		return
	}
	writeJSON(w, http.StatusCreated, AccountEnvelope{Success: true, Account: acct})
}
