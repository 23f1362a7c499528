package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/payment"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/service"
)

const maxWebhookBody = 64 << 10

// WebhookHandler receives payment provider notifications.
type WebhookHandler struct {
	svc *service.WebhookService
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(svc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

// Payment handles POST /webhook/payment
// A 2xx acknowledges the delivery; a 5xx makes the provider retry it.
func (h *WebhookHandler) Payment(w http.ResponseWriter, r *http.Request) {
	// Signatures cover the exact bytes, so the body is read raw.
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	err = h.svc.Handle(r.Context(), payload, r.Header)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, payment.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, payment.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, "malformed event")
	default:
		loggerFrom(r.Context()).WithError(err).Error("webhook not processed")
		writeError(w, http.StatusServiceUnavailable, "temporarily unable to process event")
	}
}
