package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
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

// CheckoutOptions configures hosted checkout sessions.
type CheckoutOptions struct {
	// BaseURL is the web app the provider redirects back to.
	BaseURL string
	// Timeout bounds every call to the payment provider.
	Timeout time.Duration
	// SessionTTL is how long a checkout session stays payable.
	SessionTTL time.Duration
}

// TicketService drives tickets from checkout through payment to check-in.
type TicketService struct {
	clubs    ClubStore
	tickets  TicketStore
	provider payment.Provider
	notifier Notifier
	opts     CheckoutOptions
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewTicketService constructs a TicketService.
func NewTicketService(
	clubs ClubStore,
	tickets TicketStore,
	provider payment.Provider,
	notifier Notifier,
	opts CheckoutOptions,
	log logrus.FieldLogger,
) *TicketService {
	return &TicketService{
		clubs:    clubs,
		tickets:  tickets,
		provider: provider,
		notifier: notifier,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// Checkout issues the caller a ticket for an event. Free events return a
// valid ticket straight away; paid events return a checkout session the
// client is redirected to. Repeating checkout for an unpaid ticket reuses it.
// Unpaid tickets count against capacity until their session expires.
func (s *TicketService) Checkout(ctx context.Context, user auth.User, req model.CheckoutRequest) (*model.CheckoutResponse, error) {
	if err := checkID(req.EventID); err != nil {
		return nil, err
	}
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if req.FirstName == "" || req.LastName == "" {
		return nil, invalid("first_name and last_name are required")
	}

	event, err := s.clubs.GetEvent(ctx, req.EventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get event: %w", err)
	}

	now := s.now().UTC()
	t := model.Ticket{
		ID:        uuid.NewString(),
		ClubID:    event.ClubID,
		EventID:   event.ID,
		UserID:    user.ID,
		UserEmail: user.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		EventName: event.Name,
		EventDate: event.Date,
		Status:    model.TicketAwaitingPayment,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// An unpaid ticket keeps its seat exactly as long as its session is payable.
	hold := now.Add(s.opts.SessionTTL)
	if event.IsFree() {
		t.Status = model.TicketValid
	} else {
		t.HoldExpiresAt = &hold
	}

	ticket, created, err := s.tickets.IssueTicket(ctx, t)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) ||
			errors.Is(err, repository.ErrEventFull) ||
			errors.Is(err, repository.ErrAlreadyRegistered) {
			return nil, err
		}
		return nil, fmt.Errorf("issue ticket: %w", err)
	}
	log := s.log.WithFields(logrus.Fields{"ticket_id": ticket.ID, "event_id": event.ID, "user_id": user.ID})

	if ticket.Status == model.TicketValid {
		if created {
			log.Info("free ticket issued")
			s.confirm(ticket)
		}
		return &model.CheckoutResponse{TicketID: ticket.ID, Status: string(ticket.Status)}, nil
	}

	session, err := payment.WithTimeout(ctx, s.opts.Timeout, func(ctx context.Context) (payment.Session, error) {
		return s.provider.CreateSession(ctx, payment.CheckoutRequest{
			Reference:     payment.NewReference(payment.TypeTicket, ticket.ID, nonce()),
			CustomerEmail: user.Email,
			CustomerName:  ticket.FirstName + " " + ticket.LastName,
			LineItems: []payment.LineItem{{
				Name:        event.Name,
				Description: event.Date.Format("2 Jan 2006 15:04"),
				AmountCents: event.PriceCents,
				Currency:    event.Currency,
				Quantity:    1,
			}},
			SuccessURL: s.opts.BaseURL + "/tickets/" + ticket.ID + "?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:  s.opts.BaseURL + "/events/" + url.PathEscape(event.ID) + "?canceled=1",
			Metadata: map[string]string{
				payment.MetaType:     payment.TypeTicket,
				payment.MetaTicketID: ticket.ID,
			},
			ExpiresAt: hold,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	log.WithField("session_id", session.ID).Info("checkout session created")

	return &model.CheckoutResponse{
		TicketID:  ticket.ID,
		SessionID: session.ID,
		URL:       session.URL,
		Status:    string(ticket.Status),
	}, nil
}

// VerifyPayment is the synchronous confirmation path: the client returns
// from checkout with a session id and the provider is asked for the
// authoritative status.
func (s *TicketService) VerifyPayment(ctx context.Context, user auth.User, ticketID, sessionID string) (Outcome, *model.Ticket, error) {
	if err := checkID(ticketID); err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(sessionID) == "" {
		return "", nil, invalid("session_id is required")
	}
	ticket, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("get ticket: %w", err)
	}
	if ticket.UserID != user.ID {
		return "", nil, repository.ErrNotFound
	}

	session, err := payment.WithTimeout(ctx, s.opts.Timeout, func(ctx context.Context) (payment.Session, error) {
		return s.provider.GetSession(ctx, sessionID)
	})
	if err != nil {
		if errors.Is(err, payment.ErrSessionNotFound) {
			return "", nil, repository.ErrNotFound
		}
		return "", nil, fmt.Errorf("get checkout session: %w", err)
	}
	if session.Metadata[payment.MetaTicketID] != ticketID {
		return "", nil, ErrSessionMismatch
	}

	outcome, validated, err := s.ReconcileTicketPayment(ctx, ticketID, session)
	if err != nil {
		return "", nil, err
	}
	if validated != nil {
		ticket = validated
	}
	return outcome, ticket, nil
}

// ReconcileTicketPayment applies a payment confirmation to a ticket. Both the
// verification endpoint and the webhook call it. The ticket becomes valid and
// the event counter moves in one conditional write, so however many
// confirmations arrive, and in whatever order, exactly one of them performs
// the transition and sends the confirmation email.
func (s *TicketService) ReconcileTicketPayment(ctx context.Context, ticketID string, session payment.Session) (Outcome, *model.Ticket, error) {
	log := s.log.WithFields(logrus.Fields{"ticket_id": ticketID, "session_id": session.ID})
	if !session.Paid() {
		log.WithField("payment_status", session.Status).Info("payment not settled")
		return OutcomePending, nil, nil
	}
	if err := checkID(ticketID); err != nil {
		return "", nil, err
	}

	ticket, transitioned, err := s.tickets.ValidateTicket(ctx, ticketID, session.ID, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("validate ticket: %w", err)
	}
	if !transitioned {
		log.Debug("ticket already valid")
		return OutcomeAlreadyValid, ticket, nil
	}
	log.Info("ticket validated")
	s.confirm(ticket)
	return OutcomeValidated, ticket, nil
}

// confirm queues the confirmation email for a ticket that just became valid.
func (s *TicketService) confirm(t *model.Ticket) {
	log := s.log.WithField("ticket_id", t.ID)
	if t.UserEmail == "" {
		log.Warn("ticket has no email, skipping confirmation")
		return
	}
	msg, err := mailer.TicketConfirmation{
		To:        t.UserEmail,
		FirstName: t.FirstName,
		LastName:  t.LastName,
		EventName: t.EventName,
		EventDate: t.EventDate,
		TicketID:  t.ID,
	}.Message()
	if err != nil {
		log.WithError(err).Error("render confirmation")
		return
	}
	s.notifier.Enqueue(KindTicketConfirmation, msg)
}

// GetTicket returns a ticket to its holder or to an admin of its club.
func (s *TicketService) GetTicket(ctx context.Context, user auth.User, id string) (*model.Ticket, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	t, err := s.tickets.GetTicket(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	if t.UserID == user.ID {
		return t, nil
	}
	if _, err := requireAdmin(ctx, s.clubs, t.ClubID, user); err != nil {
		if errors.Is(err, ErrForbidden) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// CheckIn admits a ticket holder at the door. The operator must be on the
// club's admin roster. A ticket is admitted once; later scans report
// ErrTicketAlreadyUsed and keep the first check-in time.
func (s *TicketService) CheckIn(ctx context.Context, operator auth.User, clubID, ticketID string) (*model.Ticket, error) {
	if _, err := requireAdmin(ctx, s.clubs, clubID, operator); err != nil {
		return nil, err
	}
	if err := checkID(ticketID); err != nil {
		return nil, err
	}
	t, err := s.tickets.CheckInTicket(ctx, clubID, ticketID, operator.ID, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) ||
			errors.Is(err, ErrTicketNotValid) ||
			errors.Is(err, ErrTicketAlreadyUsed) {
			return t, err
		}
		return nil, fmt.Errorf("check in: %w", err)
	}
	s.log.WithFields(logrus.Fields{"ticket_id": ticketID, "operator": operator.ID}).Info("ticket checked in")
	return t, nil
}
