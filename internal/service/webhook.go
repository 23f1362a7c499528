package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/payment"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/repository"
)

// WebhookService is the asynchronous confirmation path. It routes completed
// checkout events to the ticket or ad reconciler by the session's "type"
// metadata.
type WebhookService struct {
	provider payment.Provider
	tickets  *TicketService
	ads      *AdService
	log      logrus.FieldLogger
}

// NewWebhookService constructs a WebhookService.
func NewWebhookService(provider payment.Provider, tickets *TicketService, ads *AdService, log logrus.FieldLogger) *WebhookService {
	return &WebhookService{provider: provider, tickets: tickets, ads: ads, log: log}
}

// Handle verifies and applies one webhook delivery. A nil error means the
// delivery should be acknowledged: that includes events we ignore and events
// for records that do not exist, which a retry could never fix. Errors
// wrapping payment.ErrInvalidSignature or payment.ErrMalformedEvent mean the
// delivery is rejected; any other error is transient and the provider should
// retry.
func (s *WebhookService) Handle(ctx context.Context, payload []byte, header http.Header) error {
	evt, err := s.provider.ParseWebhook(payload, header)
	if err != nil {
		return err
	}
	log := s.log.WithFields(logrus.Fields{
		"provider":   s.provider.Name(),
		"event_id":   evt.ID,
		"event_type": evt.Type,
		"session_id": evt.Session.ID,
	})
	if !evt.Completed {
		log.Debug("ignoring webhook event")
		return nil
	}

	md := evt.Session.Metadata
	switch md[payment.MetaType] {
	case payment.TypeTicket:
		outcome, _, err := s.tickets.ReconcileTicketPayment(ctx, md[payment.MetaTicketID], evt.Session)
		return s.settle(log.WithField("ticket_id", md[payment.MetaTicketID]), outcome, err)
	case payment.TypeAd:
		outcome, _, err := s.ads.ActivateAd(ctx, md[payment.MetaAdID], evt.Session)
		return s.settle(log.WithField("ad_id", md[payment.MetaAdID]), outcome, err)
	default:
		log.WithField("type", md[payment.MetaType]).Warn("webhook session has unknown type")
		return nil
	}
}

func (s *WebhookService) settle(log logrus.FieldLogger, outcome Outcome, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("webhook references a missing record, acknowledging")
		return nil
	}
	if err != nil {
		log.WithError(err).Error("webhook reconciliation failed")
		return fmt.Errorf("reconcile: %w", err)
	}
	log.WithField("outcome", outcome).Info("webhook processed")
	return nil
}
