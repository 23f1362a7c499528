package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/service"
)

// heartbeat keeps idle streams open through proxies.
const heartbeat = 25 * time.Second

// ChatHandler serves enrollment and the program-level chat.
type ChatHandler struct {
	svc *service.ChatService
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(svc *service.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// confirmationRequired is the 428 body: the client shows the inferred level
// and asks the user to confirm or override it.
type confirmationRequired struct {
	Error   string              `json:"error"`
	Session service.ChatSession `json:"session"`
}

func (h *ChatHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrLevelConfirmationRequired) {
		if u, ok := currentUser(w, r); ok {
			if cs, rerr := h.svc.Resolve(r.Context(), u); rerr == nil {
				writeJSON(w, http.StatusPreconditionRequired, confirmationRequired{Error: err.Error(), Session: cs})
				return
			}
		}
	}
	writeServiceError(w, r, err, "")
}

// Enroll handles PUT /me/enrollment
// Records the caller's program and start year.
func (h *ChatHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req model.EnrollmentRequest
	if !bind(w, r, &req) {
		return
	}

	e, err := h.svc.Enroll(r.Context(), u, req)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// GetEnrollment handles GET /me/enrollment
func (h *ChatHandler) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	e, err := h.svc.Enrollment(r.Context(), u)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Session handles GET /chat/session
// Reports the caller's academic year, inferred level and channel.
func (h *ChatHandler) Session(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	cs, err := h.svc.Resolve(r.Context(), u)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// ConfirmLevel handles POST /chat/session/confirm
// Fixes the caller's level for the current academic year.
func (h *ChatHandler) ConfirmLevel(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req model.ConfirmLevelRequest
	if !bind(w, r, &req) {
		return
	}
	cs, err := h.svc.ConfirmLevel(r.Context(), u, req.Level)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// OpenChannel handles GET /chat/channel
// Returns the caller's channel with its recent history.
func (h *ChatHandler) OpenChannel(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	ch, err := h.svc.OpenChannel(r.Context(), u)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ch.Messages == nil {
		ch.Messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, ch)
}

// SendMessage handles POST /chat/channel/messages
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req model.SendMessageRequest
	if !bind(w, r, &req) {
		return
	}
	m, err := h.svc.SendMessage(r.Context(), u, req.Text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// Stream handles GET /chat/channel/stream
// Pushes new messages as server-sent events until the client disconnects.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	key, msgs, err := h.svc.Subscribe(r.Context(), u)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// The server's write timeout must not cut a long-lived stream.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: ready\ndata: %q\n\n", key)
	if err := rc.Flush(); err != nil {
		loggerFrom(r.Context()).WithError(err).Warn("stream not flushable")
		return
	}

	tick := time.NewTicker(heartbeat)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-tick.C:
			fmt.Fprint(w, ": ping\n\n")
		case m, open := <-msgs:
			if !open {
				return
			}
			data, err := json.Marshal(m)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: message\ndata: %s\n\n", m.ID, data)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
