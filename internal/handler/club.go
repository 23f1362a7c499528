package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/service"
)

// ClubHandler serves clubs, their events and door check-in.
type ClubHandler struct {
	clubs   *service.ClubService
	tickets *service.TicketService
}

// NewClubHandler constructs a ClubHandler.
func NewClubHandler(clubs *service.ClubService, tickets *service.TicketService) *ClubHandler {
	return &ClubHandler{clubs: clubs, tickets: tickets}
}

// CreateClub handles POST /clubs
// Platform admins only; the creator becomes the first club admin.
func (h *ClubHandler) CreateClub(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req model.CreateClubRequest
	if !bind(w, r, &req) {
		return
	}
	club, err := h.clubs.CreateClub(r.Context(), u, req)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, club)
}

// GetClub handles GET /clubs/{clubID}
func (h *ClubHandler) GetClub(w http.ResponseWriter, r *http.Request) {
	club, err := h.clubs.GetClub(r.Context(), chi.URLParam(r, "clubID"))
	if err != nil {
		writeServiceError(w, r, err, "club not found")
		return
	}
	writeJSON(w, http.StatusOK, club)
}

// AddAdmin handles POST /clubs/{clubID}/admins
// Adds a user to the club's admin roster.
func (h *ClubHandler) AddAdmin(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req model.AddAdminRequest
	if !bind(w, r, &req) {
		return
	}
	club, err := h.clubs.AddAdmin(r.Context(), u, chi.URLParam(r, "clubID"), req.UserID)
	if err != nil {
		writeServiceError(w, r, err, "club not found")
		return
	}
	writeJSON(w, http.StatusOK, club)
}

// CreateEvent handles POST /clubs/{clubID}/events
// Creates an event run by the club.
func (h *ClubHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req model.CreateEventRequest
	if !bind(w, r, &req) {
		return
	}
	event, err := h.clubs.CreateEvent(r.Context(), u, chi.URLParam(r, "clubID"), req)
	if err != nil {
		writeServiceError(w, r, err, "club not found")
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
// Returns a JSON array of all events.
func (h *ClubHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.clubs.ListEvents(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *ClubHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.clubs.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// ListTickets handles GET /clubs/{clubID}/events/{eventID}/tickets
// Club admins only.
func (h *ClubHandler) ListTickets(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	tickets, err := h.clubs.ListTickets(r.Context(), u, chi.URLParam(r, "clubID"), chi.URLParam(r, "eventID"))
	if err != nil {
		writeServiceError(w, r, err, "event not found")
		return
	}
	if tickets == nil {
		tickets = []model.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

// ticketConflict is the 409 body of a refused check-in. It carries the
// ticket so the door sees when it was first admitted.
type ticketConflict struct {
	Error  string        `json:"error"`
	Ticket *model.Ticket `json:"ticket,omitempty"`
}

// CheckIn handles PATCH /clubs/{clubID}/tickets/{ticketID}/check-in
// Admits a valid ticket once.
func (h *ClubHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	t, err := h.tickets.CheckIn(r.Context(), u, chi.URLParam(r, "clubID"), chi.URLParam(r, "ticketID"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTicketNotValid):
			writeJSON(w, http.StatusConflict, ticketConflict{Error: service.ErrTicketNotValid.Error(), Ticket: t})
		case errors.Is(err, service.ErrTicketAlreadyUsed):
			writeJSON(w, http.StatusConflict, ticketConflict{Error: service.ErrTicketAlreadyUsed.Error(), Ticket: t})
		default:
			writeServiceError(w, r, err, "ticket not found")
		}
		return
	}
	writeJSON(w, http.StatusOK, t)
}
