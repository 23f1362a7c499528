package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/auth"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/logger"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/mailer"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/notify"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/payment"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/repository/memory"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/service"
)

const testSecret = "test-secret"

// stubProvider is a hosted checkout whose webhooks are signed with a
// fixed header value and carry {"session_id": "..."}.
type stubProvider struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]payment.Session
	block    chan struct{}
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) CreateSession(_ context.Context, req payment.CheckoutRequest) (payment.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	s := payment.Session{
		ID:       fmt.Sprintf("cs_%d", p.seq),
		URL:      fmt.Sprintf("https://pay.example.com/cs_%d", p.seq),
		Status:   payment.StatusUnpaid,
		Metadata: req.Metadata,
	}
	p.sessions[s.ID] = s
	return s, nil
}

func (p *stubProvider) GetSession(ctx context.Context, id string) (payment.Session, error) {
	p.mu.Lock()
	block := p.block
	p.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return payment.Session{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	if !ok {
		return payment.Session{}, payment.ErrSessionNotFound
	}
	return s, nil
}

func (p *stubProvider) ParseWebhook(payload []byte, h http.Header) (payment.Event, error) {
	if h.Get("X-Signature") != "valid" {
		return payment.Event{}, payment.ErrInvalidSignature
	}
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return payment.Event{}, payment.ErrMalformedEvent
	}
	s, err := p.GetSession(context.Background(), body.SessionID)
	if err != nil {
		return payment.Event{}, payment.ErrMalformedEvent
	}
	return payment.Event{ID: "evt_" + s.ID, Type: "checkout.completed", Completed: true, Session: s}, nil
}

func (p *stubProvider) pay(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.sessions[id]
	s.Status = payment.StatusPaid
	p.sessions[id] = s
}

type testAPI struct {
	t          *testing.T
	server     *httptest.Server
	store      *memory.Store
	provider   *stubProvider
	dispatcher *notify.Dispatcher
	verifier   *auth.Verifier
}

var (
	amina    = auth.User{ID: "u-amina", Email: "amina@example.com", Name: "Amina"}
	yassine  = auth.User{ID: "u-yassine", Email: "yassine@example.com", Name: "Yassine"}
	operator = auth.User{ID: "u-op", Email: "op@example.com", Name: "Op", Roles: []string{auth.RoleAdmin}}
)

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := logger.Discard()
	store := memory.New()
	provider := &stubProvider{sessions: make(map[string]payment.Session)}
	dispatcher := notify.New(mailer.NewLogSender(log), log, 16, 1)
	opts := service.CheckoutOptions{BaseURL: "https://estt.example.com", Timeout: 200 * time.Millisecond, SessionTTL: 30 * time.Minute}

	tickets := service.NewTicketService(store, store, provider, dispatcher, opts, log)
	ads := service.NewAdService(store, provider, dispatcher, opts, 500, "mad", log)
	api := &testAPI{
		t:          t,
		store:      store,
		provider:   provider,
		dispatcher: dispatcher,
		verifier:   auth.NewVerifier(testSecret),
	}
	api.server = httptest.NewServer(NewRouter(Deps{
		Log:      log,
		Verifier: api.verifier,
		Chat:     service.NewChatService(store, store, time.UTC, log),
		Clubs:    service.NewClubService(store, store, "mad", log),
		Tickets:  tickets,
		Ads:      ads,
		Webhooks: service.NewWebhookService(provider, tickets, ads, log),
		Stats:    dispatcher.Stats,
	}))
	t.Cleanup(api.server.Close)
	return api
}

func (a *testAPI) do(u *auth.User, method, path string, body any) *http.Response {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if u != nil {
		tok, err := a.verifier.Issue(*u, time.Hour)
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (a *testAPI) webhook(signature string, sessionID string) *http.Response {
	a.t.Helper()
	body := fmt.Sprintf(`{"session_id":%q}`, sessionID)
	req, err := http.NewRequest(http.MethodPost, a.server.URL+"/webhook/payment", bytes.NewBufferString(body))
	require.NoError(a.t, err)
	req.Header.Set("X-Signature", signature)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// paidEvent creates a club run by operator and a 50.00 MAD event.
func (a *testAPI) paidEvent() (*model.Club, *model.Event) {
	a.t.Helper()
	resp := a.do(&operator, http.MethodPost, "/clubs", model.CreateClubRequest{Name: "Robotics"})
	require.Equal(a.t, http.StatusCreated, resp.StatusCode)
	club := decode[model.Club](a.t, resp)

	resp = a.do(&operator, http.MethodPost, "/clubs/"+club.ID+"/events", model.CreateEventRequest{
		Name:       "Gala night",
		Date:       time.Now().Add(14 * 24 * time.Hour).UTC(),
		PriceCents: 5000,
		Capacity:   50,
	})
	require.Equal(a.t, http.StatusCreated, resp.StatusCode)
	event := decode[model.Event](a.t, resp)
	return &club, &event
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(nil, http.MethodGet, "/events", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = api.do(nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestValidationErrors(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(&amina, http.MethodPost, "/ads", map[string]any{"title": "Bike", "duration_days": 10})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[model.ErrorResponse](t, resp)
	assert.Equal(t, "validation failed", body.Error)
	assert.Equal(t, "is required", body.Fields["description"])
	assert.Equal(t, "must be one of 7 14 30", body.Fields["duration_days"])

	resp = api.do(&amina, http.MethodPost, "/ads", map[string]any{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatFlow(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(&amina, http.MethodGet, "/chat/session", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(&amina, http.MethodPut, "/me/enrollment", model.EnrollmentRequest{Program: "GI", StartYear: time.Now().Year()})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = api.do(&amina, http.MethodGet, "/chat/channel", nil)
	require.Equal(t, http.StatusPreconditionRequired, resp.StatusCode)
	required := decode[confirmationRequired](t, resp)
	assert.Equal(t, 1, required.Session.InferredLevel)
	assert.False(t, required.Session.Confirmed)

	resp = api.do(&amina, http.MethodPost, "/chat/session/confirm", model.ConfirmLevelRequest{Level: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "GI_year1", decode[service.ChatSession](t, resp).ChannelKey)

	resp = api.do(&amina, http.MethodPost, "/chat/session/confirm", model.ConfirmLevelRequest{Level: 2})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = api.do(&amina, http.MethodPost, "/chat/channel/messages", model.SendMessageRequest{Text: "salam"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = api.do(&amina, http.MethodGet, "/chat/channel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ch := decode[model.ChatChannel](t, resp)
	require.Len(t, ch.Messages, 1)
	assert.Equal(t, "salam", ch.Messages[0].Text)
	assert.Equal(t, "Amina", ch.Messages[0].SenderName)
}

func TestChatStream(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(&amina, http.MethodPut, "/me/enrollment", model.EnrollmentRequest{Program: "GI", StartYear: time.Now().Year()})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = api.do(&amina, http.MethodPost, "/chat/session/confirm", model.ConfirmLevelRequest{Level: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tok, err := api.verifier.Issue(amina, time.Hour)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.server.URL+"/chat/channel/stream?access_token="+tok, nil)
	require.NoError(t, err)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	buf := make([]byte, 256)
	n, err := stream.Body.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "event: ready")

	resp = api.do(&amina, http.MethodPost, "/chat/channel/messages", model.SendMessageRequest{Text: "live"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	n, err = stream.Body.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "event: message")
	assert.Contains(t, string(buf[:n]), `"text":"live"`)
}

func TestTicketPaymentFlow(t *testing.T) {
	api := newTestAPI(t)
	club, event := api.paidEvent()

	resp := api.do(&amina, http.MethodPost, "/checkout", model.CheckoutRequest{EventID: event.ID, FirstName: "Amina", LastName: "Benali"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	co := decode[model.CheckoutResponse](t, resp)
	assert.Equal(t, string(model.TicketAwaitingPayment), co.Status)
	require.NotEmpty(t, co.SessionID)

	verify := model.VerifyPaymentRequest{TicketID: co.TicketID, SessionID: co.SessionID}
	resp = api.do(&amina, http.MethodPost, "/verify-payment", verify)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(service.OutcomePending), decode[model.VerifyPaymentResponse](t, resp).Status)

	// Door check-in before payment is refused.
	resp = api.do(&operator, http.MethodPatch, "/clubs/"+club.ID+"/tickets/"+co.TicketID+"/check-in", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ticket is not yet valid", decode[ticketConflict](t, resp).Error)

	api.provider.pay(co.SessionID)

	resp = api.webhook("forged", co.SessionID)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.webhook("valid", co.SessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(&amina, http.MethodPost, "/verify-payment", verify)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	vr := decode[model.VerifyPaymentResponse](t, resp)
	assert.Equal(t, string(service.OutcomeAlreadyValid), vr.Status)
	require.NotNil(t, vr.Ticket)
	assert.Equal(t, model.TicketValid, vr.Ticket.Status)

	resp = api.do(&yassine, http.MethodGet, "/tickets/"+co.TicketID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(&yassine, http.MethodPatch, "/clubs/"+club.ID+"/tickets/"+co.TicketID+"/check-in", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.do(&operator, http.MethodPatch, "/clubs/"+club.ID+"/tickets/"+co.TicketID+"/check-in", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[model.Ticket](t, resp)
	require.NotNil(t, first.CheckedInAt)

	resp = api.do(&operator, http.MethodPatch, "/clubs/"+club.ID+"/tickets/"+co.TicketID+"/check-in", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	again := decode[ticketConflict](t, resp)
	assert.Equal(t, "ticket already used", again.Error)
	require.NotNil(t, again.Ticket)
	assert.True(t, first.CheckedInAt.Equal(*again.Ticket.CheckedInAt))

	resp = api.do(nil, http.MethodGet, "/health", nil)
	health := decode[HealthResponse](t, resp)
	assert.Equal(t, uint64(1), health.Notifications.Enqueued)
}

func TestVerifyPayment_Errors(t *testing.T) {
	api := newTestAPI(t)
	_, event := api.paidEvent()
	resp := api.do(&amina, http.MethodPost, "/checkout", model.CheckoutRequest{EventID: event.ID, FirstName: "Amina", LastName: "Benali"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	co := decode[model.CheckoutResponse](t, resp)

	resp = api.do(&amina, http.MethodPost, "/verify-payment", model.VerifyPaymentRequest{TicketID: co.TicketID, SessionID: "cs_unknown"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(&amina, http.MethodPost, "/verify-payment", model.VerifyPaymentRequest{TicketID: co.TicketID, SessionID: "   "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid input: session_id is required", decode[model.ErrorResponse](t, resp).Error)

	// The provider does not answer within the timeout.
	block := make(chan struct{})
	defer close(block)
	api.provider.mu.Lock()
	api.provider.block = block
	api.provider.mu.Unlock()
	resp = api.do(&amina, http.MethodPost, "/verify-payment", model.VerifyPaymentRequest{TicketID: co.TicketID, SessionID: co.SessionID})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, msgRetry, decode[model.ErrorResponse](t, resp).Error)
}

func TestWebhook_UnknownSession(t *testing.T) {
	api := newTestAPI(t)

	resp := api.webhook("valid", "cs_missing")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdFlow(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(&amina, http.MethodPost, "/ads", model.CreateAdRequest{Title: "Bike", Description: "Blue, 21 gears", DurationDays: 14})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ad := decode[model.Ad](t, resp)

	resp = api.do(&yassine, http.MethodGet, "/ads/"+ad.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(&amina, http.MethodPost, "/ads/"+ad.ID+"/checkout", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	co := decode[model.CheckoutResponse](t, resp)

	resp = api.do(&amina, http.MethodPost, "/ads/"+ad.ID+"/checkout", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	api.provider.pay(co.SessionID)
	resp = api.webhook("valid", co.SessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(&yassine, http.MethodGet, "/ads", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	live := decode[[]model.Ad](t, resp)
	require.Len(t, live, 1)
	assert.Equal(t, model.AdLive, live[0].Status)
	assert.NotEmpty(t, live[0].InvoiceID)
}
