// Package stripepay adapts Stripe Checkout to payment.Provider.
package stripepay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/payment"
)

const signatureHeader = "Stripe-Signature"

// Provider talks to Stripe through an API client.
type Provider struct {
	api           *client.API
	webhookSecret string
}

var _ payment.Provider = (*Provider)(nil)

// New builds a provider for secretKey. An empty webhookSecret disables
// signature verification (local development only).
func New(secretKey, webhookSecret string) *Provider {
	return NewWithClient(client.New(secretKey, nil), webhookSecret)
}

// NewWithClient builds a provider around an existing API client.
func NewWithClient(api *client.API, webhookSecret string) *Provider {
	return &Provider{api: api, webhookSecret: webhookSecret}
}

func (p *Provider) Name() string { return "stripe" }

func (p *Provider) CreateSession(ctx context.Context, req payment.CheckoutRequest) (payment.Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.Reference),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}
	for _, li := range req.LineItems {
		qty := li.Quantity
		if qty <= 0 {
			qty = 1
		}
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(li.Name),
		}
		if li.Description != "" {
			product.Description = stripe.String(li.Description)
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(li.Currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(li.AmountCents),
			},
			Quantity: stripe.Int64(qty),
		})
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return payment.Session{}, mapError(err)
	}
	return toSession(s), nil
}

func (p *Provider) GetSession(ctx context.Context, id string) (payment.Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := p.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return payment.Session{}, mapError(err)
	}
	return toSession(s), nil
}

func (p *Provider) ParseWebhook(payload []byte, header http.Header) (payment.Event, error) {
	var (
		evt stripe.Event
		err error
	)
	if p.webhookSecret != "" {
		evt, err = webhook.ConstructEventWithOptions(payload, header.Get(signatureHeader), p.webhookSecret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			return payment.Event{}, fmt.Errorf("%w: %v", payment.ErrInvalidSignature, err)
		}
	} else if err := json.Unmarshal(payload, &evt); err != nil {
		return payment.Event{}, fmt.Errorf("%w: %v", payment.ErrMalformedEvent, err)
	}

	out := payment.Event{ID: evt.ID, Type: string(evt.Type)}
	switch evt.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		if evt.Data == nil {
			return payment.Event{}, fmt.Errorf("%w: event %s has no data", payment.ErrMalformedEvent, evt.ID)
		}
		var s stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return payment.Event{}, fmt.Errorf("%w: %v", payment.ErrMalformedEvent, err)
		}
		out.Completed = true
		out.Session = toSession(&s)
	}
	return out, nil
}

func toSession(s *stripe.CheckoutSession) payment.Session {
	return payment.Session{
		ID:       s.ID,
		URL:      s.URL,
		Status:   toStatus(s),
		Metadata: s.Metadata,
	}
}

func toStatus(s *stripe.CheckoutSession) payment.Status {
	switch s.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return payment.StatusPaid
	}
	if s.Status == stripe.CheckoutSessionStatusExpired {
		return payment.StatusFailed
	}
	if s.Status == stripe.CheckoutSessionStatusComplete {
		// Completed with an async method that has not settled yet.
		return payment.StatusPending
	}
	return payment.StatusUnpaid
}

func mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", payment.ErrUnavailable, err)
	}
	var se *stripe.Error
	if !errors.As(err, &se) {
		// Transport-level failure.
		return fmt.Errorf("%w: %v", payment.ErrUnavailable, err)
	}
	switch {
	case se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing:
		return fmt.Errorf("%w: %v", payment.ErrSessionNotFound, err)
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500:
		return fmt.Errorf("%w: %v", payment.ErrUnavailable, err)
	default:
		return fmt.Errorf("stripe: %w", err)
	}
}
