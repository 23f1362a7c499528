package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/auth"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/notify"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/service"
)

// Deps is everything the router serves.
type Deps struct {
	Log      logrus.FieldLogger
	Verifier *auth.Verifier
	Chat     *service.ChatService
	Clubs    *service.ClubService
	Tickets  *service.TicketService
	Ads      *service.AdService
	Webhooks *service.WebhookService
	Stats    func() notify.Stats
}

// NewRouter builds the HTTP API. Everything except /health and the payment
// webhook requires a bearer token.
func NewRouter(d Deps) http.Handler {
	chat := NewChatHandler(d.Chat)
	clubs := NewClubHandler(d.Clubs, d.Tickets)
	tickets := NewTicketHandler(d.Tickets)
	ads := NewAdHandler(d.Ads)
	webhook := NewWebhookHandler(d.Webhooks)

	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(d.Log))           // structured access log
	r.Use(CORS)

	r.Get("/health", HealthCheck(d.Stats))
	r.Post("/webhook/payment", webhook.Payment)

	r.Group(func(r chi.Router) {
		r.Use(d.Verifier.Middleware)

		r.Route("/me/enrollment", func(r chi.Router) {
			r.Put("/", chat.Enroll)
			r.Get("/", chat.GetEnrollment)
		})

		r.Route("/chat", func(r chi.Router) {
			r.Get("/session", chat.Session)
			r.Post("/session/confirm", chat.ConfirmLevel)
			r.Get("/channel", chat.OpenChannel)
			r.Post("/channel/messages", chat.SendMessage)
			r.Get("/channel/stream", chat.Stream)
		})

		r.Route("/clubs", func(r chi.Router) {
			r.Post("/", clubs.CreateClub)
			r.Get("/{clubID}", clubs.GetClub)
			r.Post("/{clubID}/admins", clubs.AddAdmin)
			r.Post("/{clubID}/events", clubs.CreateEvent)
			r.Get("/{clubID}/events/{eventID}/tickets", clubs.ListTickets)
			r.Patch("/{clubID}/tickets/{ticketID}/check-in", clubs.CheckIn)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", clubs.ListEvents)
			r.Get("/{id}", clubs.GetEvent)
		})

		r.Post("/checkout", tickets.Checkout)
		r.Post("/verify-payment", tickets.VerifyPayment)
		r.Get("/tickets/{id}", tickets.GetTicket)

		r.Route("/ads", func(r chi.Router) {
			r.Post("/", ads.CreateAd)
			r.Get("/", ads.ListAds)
			r.Get("/{id}", ads.GetAd)
			r.Post("/{id}/submit", ads.SubmitAd)
			r.Post("/{id}/checkout", ads.Checkout)
		})
	})

	return r
}
