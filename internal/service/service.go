// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the storage layer: chat channel routing, clubs
// and events, the ticket payment lifecycle and marketplace ads.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/mailer"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/repository"
)

var (
	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden is returned when the caller may not act on a resource.
	ErrForbidden = errors.New("forbidden")

	// ErrNotEnrolled is returned by chat operations for users without an
	// enrollment.
	ErrNotEnrolled = errors.New("enrollment required")

	// ErrLevelConfirmationRequired is returned when the caller has not yet
	// confirmed their level for the current academic year.
	ErrLevelConfirmationRequired = errors.New("level confirmation required for this academic year")

	// ErrLevelConflict is returned when a different level was already
	// confirmed for the academic year.
	ErrLevelConflict = errors.New("a different level is already confirmed for this academic year")

	// ErrSessionMismatch is returned when a payment session does not belong
	// to the ticket being verified.
	ErrSessionMismatch = errors.New("payment session does not belong to this ticket")

	// Check-in failures, reported to the operator as is.
	ErrTicketNotValid    = repository.ErrTicketNotValid
	ErrTicketAlreadyUsed = repository.ErrTicketAlreadyUsed
)

// Outcome is the result of applying a payment confirmation.
type Outcome string

const (
	// OutcomeValidated means this call moved the ticket to valid.
	OutcomeValidated Outcome = "validated"
	// OutcomeAlreadyValid means an earlier confirmation already did.
	OutcomeAlreadyValid Outcome = "already_valid"
	// OutcomePending means the provider has not settled the payment yet.
	OutcomePending Outcome = "pending"
	// OutcomeActivated means this call put the ad live.
	OutcomeActivated Outcome = "activated"
	// OutcomeAlreadyLive means the ad was live before this call.
	OutcomeAlreadyLive Outcome = "already_live"
)

// Notification kinds.
const (
	KindTicketConfirmation = "ticket_confirmation"
	KindAdInvoice          = "ad_invoice"
)

// Notifier schedules a best-effort email after a committed state change.
type Notifier interface {
	Enqueue(kind string, msg mailer.Message) bool
}

// EnrollmentStore persists enrollments and per-year level confirmations.
type EnrollmentStore interface {
	CreateEnrollment(ctx context.Context, e model.Enrollment) error
	GetEnrollment(ctx context.Context, userID string) (*model.Enrollment, error)
	ConfirmLevel(ctx context.Context, userID, academicYear string, level int, now time.Time) (int, error)
}

// ChatStore persists channels and messages.
type ChatStore interface {
	ResetChannelIfStale(ctx context.Context, key, academicYear string) (bool, error)
	GetChannel(ctx context.Context, key string, limit int) (*model.ChatChannel, error)
	AppendMessage(ctx context.Context, m model.Message) error
	SubscribeChannel(ctx context.Context, key string) (<-chan model.Message, error)
}

// ClubStore persists clubs, their admin rosters and their events.
type ClubStore interface {
	CreateClub(ctx context.Context, c model.Club) error
	GetClub(ctx context.Context, id string) (*model.Club, error)
	AddClubAdmin(ctx context.Context, clubID, userID string) error
	CreateEvent(ctx context.Context, e model.Event) error
	ListEvents(ctx context.Context) ([]model.Event, error)
	GetEvent(ctx context.Context, id string) (*model.Event, error)
}

// TicketStore persists tickets. ValidateTicket and CheckInTicket are
// conditional writes: at most one caller performs each transition.
type TicketStore interface {
	IssueTicket(ctx context.Context, t model.Ticket) (*model.Ticket, bool, error)
	GetTicket(ctx context.Context, id string) (*model.Ticket, error)
	ListTicketsByEvent(ctx context.Context, eventID string) ([]model.Ticket, error)
	ValidateTicket(ctx context.Context, id, sessionID string, now time.Time) (*model.Ticket, bool, error)
	CheckInTicket(ctx context.Context, clubID, id, operator string, now time.Time) (*model.Ticket, error)
}

// AdStore persists marketplace ads.
type AdStore interface {
	CreateAd(ctx context.Context, a model.Ad) error
	GetAd(ctx context.Context, id string) (*model.Ad, error)
	ListLiveAds(ctx context.Context, now time.Time) ([]model.Ad, error)
	SubmitAd(ctx context.Context, id, ownerID string, now time.Time) (*model.Ad, error)
	ReserveAdCheckout(ctx context.Context, id, ownerID, token string, expiresAt, now time.Time) (*model.Ad, error)
	AttachAdSession(ctx context.Context, id, token, sessionID string) error
	ReleaseAdCheckout(ctx context.Context, id, token string) error
	ActivateAd(ctx context.Context, id, sessionID, invoiceID string, now time.Time) (*model.Ad, bool, error)
}

// checkID rejects ids that cannot exist. Every stored id is a UUID.
func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return repository.ErrNotFound
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// nonce returns a short random suffix for merchant references.
func nonce() string {
	return uuid.NewString()[:8]
}
