// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/auth"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/config"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/database"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/handler"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/logger"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/mailer"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/notify"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/payment"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/payment/midtranspay"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/payment/stripepay"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/repository"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/repository/memory"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/service"
)

// stores groups the persistence interfaces the services depend on.
type stores struct {
	enrollments service.EnrollmentStore
	chats       service.ChatStore
	clubs       service.ClubStore
	tickets     service.TicketStore
	ads         service.AdStore
	close       func()
}

// clubStore serves clubs and their events from one value.
type clubStore struct {
	*repository.ClubRepository
	*repository.EventRepository
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
	log.Info("server stopped")
}

func run(cfg config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Storage ────────────────────────────────────────────────────────
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	// ── 2. External services ──────────────────────────────────────────────
	provider := newProvider(cfg.Payment, log)
	sender := newSender(cfg, log)
	dispatcher := notify.New(sender, log.WithField("component", "notify"), cfg.Notify.QueueSize, cfg.Notify.Workers)
	log.WithFields(logrus.Fields{"provider": provider.Name(), "mail": cfg.Mail.Driver}).Info("external services configured")

	// ── 3. Wire up layers ─────────────────────────────────────────────────
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	opts := service.CheckoutOptions{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Payment.Timeout,
		SessionTTL: cfg.Payment.SessionTTL,
	}
	svcLog := log.WithField("component", "service")
	tickets := service.NewTicketService(st.clubs, st.tickets, provider, dispatcher, opts, svcLog)
	ads := service.NewAdService(st.ads, provider, dispatcher, opts, cfg.AdPricePerDayCents, cfg.Payment.Currency, svcLog)

	router := handler.NewRouter(handler.Deps{
		Log:      log.WithField("component", "http"),
		Verifier: auth.NewVerifier(cfg.JWTSecret),
		Chat:     service.NewChatService(st.enrollments, st.chats, loc, svcLog),
		Clubs:    service.NewClubService(st.clubs, st.tickets, cfg.Payment.Currency, svcLog),
		Tickets:  tickets,
		Ads:      ads,
		Webhooks: service.NewWebhookService(provider, tickets, ads, svcLog),
		Stats:    dispatcher.Stats,
	})

	// ── 4. Start server and workers with graceful shutdown ────────────────
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Chat streams clear their own write deadline.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config, log *logrus.Logger) (*stores, error) {
	if cfg.Store == "memory" {
		log.Warn("using the in-memory store, data is lost on restart")
		m := memory.New()
		return &stores{enrollments: m, chats: m, clubs: m, tickets: m, ads: m, close: func() {}}, nil
	}

	pool, err := database.Open(ctx, cfg.Database, cfg.Migrate, log.WithField("component", "database"))
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	log.Info("connected to PostgreSQL")

	events := repository.NewEventRepository(pool)
	clubs := repository.NewClubRepository(pool)
	return &stores{
		enrollments: repository.NewEnrollmentRepository(pool),
		chats:       repository.NewChatRepository(pool),
		clubs:       clubStore{clubs, events},
		tickets:     repository.NewTicketRepository(pool),
		ads:         repository.NewAdRepository(pool),
		close:       pool.Close,
	}, nil
}

func newProvider(cfg config.Payment, log *logrus.Logger) payment.Provider {
	if cfg.Provider == "midtrans" {
		if !cfg.Midtrans.VerifySignature {
			log.Warn("midtrans notification signatures are not verified")
		}
		return midtranspay.New(cfg.Midtrans.ServerKey, cfg.Midtrans.Production, cfg.Midtrans.VerifySignature)
	}
	if cfg.Stripe.WebhookSecret == "" {
		log.Warn("STRIPE_WEBHOOK_SECRET is empty, webhook signatures are not verified")
	}
	return stripepay.New(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
}

func newSender(cfg config.Config, log *logrus.Logger) mailer.Sender {
	if cfg.Mail.Driver == "sendgrid" {
		return mailer.NewSendGrid(cfg.Mail.SendGridKey, cfg.AppName, cfg.Mail.FromEmail, cfg.Mail.FromName)
	}
	return mailer.NewLogSender(log.WithField("component", "mail"))
}
