package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/auth"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/mailer"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/payment"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/repository"
)

// AdService manages marketplace ads and their paid activation.
type AdService struct {
	ads         AdStore
	provider    payment.Provider
	notifier    Notifier
	opts        CheckoutOptions
	pricePerDay int64
	currency    string
	log         logrus.FieldLogger
	now         func() time.Time
}

// NewAdService constructs an AdService. pricePerDayCents is charged per day
// of visibility.
func NewAdService(
	ads AdStore,
	provider payment.Provider,
	notifier Notifier,
	opts CheckoutOptions,
	pricePerDayCents int64,
	currency string,
	log logrus.FieldLogger,
) *AdService {
	return &AdService{
		ads:         ads,
		provider:    provider,
		notifier:    notifier,
		opts:        opts,
		pricePerDay: pricePerDayCents,
		currency:    strings.ToLower(currency),
		log:         log,
		now:         time.Now,
	}
}

// CreateAd drafts an ad owned by the caller.
func (s *AdService) CreateAd(ctx context.Context, user auth.User, req model.CreateAdRequest) (*model.Ad, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, invalid("title is required")
	}
	switch req.DurationDays {
	case 7, 14, 30:
	default:
		return nil, invalid("duration_days must be 7, 14 or 30")
	}
	now := s.now().UTC()
	a := model.Ad{
		ID:           uuid.NewString(),
		OwnerID:      user.ID,
		OwnerEmail:   user.Email,
		Title:        req.Title,
		Description:  strings.TrimSpace(req.Description),
		Category:     strings.TrimSpace(req.Category),
		PriceCents:   req.PriceCents,
		DurationDays: req.DurationDays,
		Status:       model.AdDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.ads.CreateAd(ctx, a); err != nil {
		return nil, fmt.Errorf("create ad: %w", err)
	}
	return &a, nil
}

// GetAd returns an ad visible to the caller: any live ad, or any of their own.
func (s *AdService) GetAd(ctx context.Context, user auth.User, id string) (*model.Ad, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	a, err := s.ads.GetAd(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get ad: %w", err)
	}
	if a.OwnerID != user.ID && !a.IsVisible(s.now()) {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

// ListLiveAds returns the ads currently on the marketplace.
func (s *AdService) ListLiveAds(ctx context.Context) ([]model.Ad, error) {
	return s.ads.ListLiveAds(ctx, s.now().UTC())
}

// SubmitAd moves a draft to review.
func (s *AdService) SubmitAd(ctx context.Context, user auth.User, id string) (*model.Ad, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	a, err := s.ads.SubmitAd(ctx, id, user.ID, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("submit ad: %w", err)
	}
	return a, nil
}

// Price is what activating a for its duration costs.
func (s *AdService) Price(a *model.Ad) int64 {
	return int64(a.DurationDays) * s.pricePerDay
}

// Checkout opens a payment session for the caller's ad. An ad holds at most
// one unexpired pending session, so two sessions can never race to activate
// the same ad.
func (s *AdService) Checkout(ctx context.Context, user auth.User, id string) (*model.CheckoutResponse, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	token := "reserve-" + uuid.NewString()
	a, err := s.ads.ReserveAdCheckout(ctx, id, user.ID, token, now.Add(s.opts.SessionTTL), now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) ||
			errors.Is(err, repository.ErrAdNotActivatable) ||
			errors.Is(err, repository.ErrCheckoutPending) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve ad checkout: %w", err)
	}
	log := s.log.WithFields(logrus.Fields{"ad_id": a.ID, "user_id": user.ID})

	session, err := payment.WithTimeout(ctx, s.opts.Timeout, func(ctx context.Context) (payment.Session, error) {
		return s.provider.CreateSession(ctx, payment.CheckoutRequest{
			Reference:     payment.NewReference(payment.TypeAd, a.ID, nonce()),
			CustomerEmail: user.Email,
			CustomerName:  user.DisplayName(),
			LineItems: []payment.LineItem{{
				Name:        "Ad: " + a.Title,
				Description: fmt.Sprintf("%d days on the marketplace", a.DurationDays),
				AmountCents: s.Price(a),
				Currency:    s.currency,
				Quantity:    1,
			}},
			SuccessURL: s.opts.BaseURL + "/ads/" + a.ID + "?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:  s.opts.BaseURL + "/ads/" + a.ID + "?canceled=1",
			Metadata: map[string]string{
				payment.MetaType: payment.TypeAd,
				payment.MetaAdID: a.ID,
			},
			ExpiresAt: now.Add(s.opts.SessionTTL),
		})
	})
	if err != nil {
		if relErr := s.ads.ReleaseAdCheckout(context.WithoutCancel(ctx), a.ID, token); relErr != nil {
			log.WithError(relErr).Warn("release ad checkout")
		}
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if err := s.ads.AttachAdSession(ctx, a.ID, token, session.ID); err != nil {
		// The reservation still blocks a second session until it expires.
		log.WithError(err).Warn("attach ad session")
	}
	log.WithField("session_id", session.ID).Info("ad checkout session created")

	return &model.CheckoutResponse{
		AdID:      a.ID,
		SessionID: session.ID,
		URL:       session.URL,
		Status:    string(a.Status),
	}, nil
}

// NewInvoiceID returns an invoice number like "INV-20250901-1A2B3C4D".
func NewInvoiceID(now time.Time) string {
	return "INV-" + now.UTC().Format("20060102") + "-" + strings.ToUpper(uuid.NewString()[:8])
}

// ActivateAd applies a payment confirmation to an ad. The expiration date and
// invoice id are fixed by the single call that puts the ad live; retries find
// it live and change nothing.
func (s *AdService) ActivateAd(ctx context.Context, adID string, session payment.Session) (Outcome, *model.Ad, error) {
	log := s.log.WithFields(logrus.Fields{"ad_id": adID, "session_id": session.ID})
	if !session.Paid() {
		log.WithField("payment_status", session.Status).Info("ad payment not settled")
		return OutcomePending, nil, nil
	}
	if err := checkID(adID); err != nil {
		return "", nil, err
	}

	now := s.now().UTC()
	a, transitioned, err := s.ads.ActivateAd(ctx, adID, session.ID, NewInvoiceID(now), now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("activate ad: %w", err)
	}
	if !transitioned {
		log.Debug("ad already live")
		return OutcomeAlreadyLive, a, nil
	}
	log.WithField("invoice_id", a.InvoiceID).Info("ad activated")
	s.invoice(a)
	return OutcomeActivated, a, nil
}

func (s *AdService) invoice(a *model.Ad) {
	log := s.log.WithField("ad_id", a.ID)
	if a.OwnerEmail == "" || a.ExpirationDate == nil {
		log.Warn("ad has no email, skipping invoice")
		return
	}
	msg, err := mailer.AdInvoice{
		To:           a.OwnerEmail,
		Title:        a.Title,
		InvoiceID:    a.InvoiceID,
		DurationDays: a.DurationDays,
		AmountCents:  s.Price(a),
		Currency:     strings.ToUpper(s.currency),
		Expires:      *a.ExpirationDate,
	}.Message()
	if err != nil {
		log.WithError(err).Error("render invoice")
		return
	}
	s.notifier.Enqueue(KindAdInvoice, msg)
}
