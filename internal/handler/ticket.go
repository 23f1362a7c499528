package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/repository"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/service"
)

// TicketHandler serves ticket checkout and payment confirmation.
type TicketHandler struct {
	svc *service.TicketService
}

// NewTicketHandler constructs a TicketHandler.
func NewTicketHandler(svc *service.TicketService) *TicketHandler {
	return &TicketHandler{svc: svc}
}

// Checkout handles POST /checkout
// Issues a ticket and, for paid events, opens a payment session.
func (h *TicketHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req model.CheckoutRequest
	if !bind(w, r, &req) {
		return
	}
	resp, err := h.svc.Checkout(r.Context(), u, req)
	if err != nil {
		writeServiceError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// VerifyPayment handles POST /verify-payment
// Asks the provider for the session's status and validates the ticket once.
func (h *TicketHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req model.VerifyPaymentRequest
	if !bind(w, r, &req) {
		return
	}

	outcome, t, err := h.svc.VerifyPayment(r.Context(), u, req.TicketID, req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "ticket or payment session not found")
		case errors.Is(err, service.ErrInvalidInput),
			errors.Is(err, service.ErrSessionMismatch):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			loggerFrom(r.Context()).WithError(err).Error("verify payment")
			writeError(w, http.StatusServiceUnavailable, msgRetry)
		}
		return
	}
	writeJSON(w, http.StatusOK, model.VerifyPaymentResponse{Status: string(outcome), Ticket: t})
}

// GetTicket handles GET /tickets/{id}
// Visible to the holder and to the club's admins.
func (h *TicketHandler) GetTicket(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	t, err := h.svc.GetTicket(r.Context(), u, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, "ticket not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}
