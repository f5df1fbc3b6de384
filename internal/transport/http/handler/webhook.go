package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-otp-bridge/internal/infrastructure/telegram"
)

// UpdateIngester consumes one bot update.
type UpdateIngester interface {
	Handle(ctx context.Context, upd telegram.Update) error
}

// WebhookHandler receives bot platform updates.
type WebhookHandler struct {
	ingester UpdateIngester
}

func NewWebhookHandler(ingester UpdateIngester) *WebhookHandler {
	return &WebhookHandler{ingester: ingester}
}

// Telegram answers 500 on storage failures so the platform redelivers the
// update. Every handled update is acknowledged with 200.
func (h *WebhookHandler) Telegram(w http.ResponseWriter, r *http.Request) {
	var upd telegram.Update
	if !decodeJSON(w, r, &upd) {
		return
	}
	if err := h.ingester.Handle(r.Context(), upd); err != nil {
		slog.Error("webhook update failed", "update_id", upd.UpdateID, "err", err)
		writeJSON(w, http.StatusInternalServerError, MessageEnvelope{Message: "retry"})
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Success: true})
}
