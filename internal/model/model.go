// Package model defines the core domain types for the student community
// backend: enrollments and chat channels, clubs, events and tickets, and
// marketplace ads.
package model

import "time"

// Enrollment is a user's academic identity.
type Enrollment struct {
	UserID    string `json:"user_id"`
	Program   string `json:"program"`
	StartYear int    `json:"start_year"`
	// SessionOverrides maps an academic year ("2024-2025") to the level the
	// user confirmed for it. Entries are appended, never removed.
	SessionOverrides map[string]int `json:"session_overrides"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Override returns the confirmed level for academicYear, if any.
func (e *Enrollment) Override(academicYear string) (int, bool) {
	level, ok := e.SessionOverrides[academicYear]
	return level, ok
}

// ChatChannel is the chat room of one program level.
type ChatChannel struct {
	Key                   string    `json:"key"`
	LastResetAcademicYear string    `json:"last_reset_academic_year"`
	Messages              []Message `json:"messages"`
}

// Message is an immutable chat message.
type Message struct {
	ID         string    `json:"id"`
	ChannelKey string    `json:"channel_key"`
	Text       string    `json:"text"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Timestamp  time.Time `json:"timestamp"`
	IsMentor   bool      `json:"is_mentor"`
}

// Club is a student club. Admins may run check-in at the club's events.
type Club struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Admins      []string  `json:"admins"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event is a club event tickets are issued for.
type Event struct {
	ID                string    `json:"id"`
	ClubID            string    `json:"club_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Location          string    `json:"location"`
	Date              time.Time `json:"date"`
	PriceCents        int64     `json:"price_cents"`
	Currency          string    `json:"currency"`
	Capacity          int       `json:"capacity"`
	RegistrationCount int       `json:"registration_count"`
	CreatedAt         time.Time `json:"created_at"`
}

// IsFree reports whether tickets are issued without payment.
func (e *Event) IsFree() bool {
	return e.PriceCents <= 0
}

// IsFull returns true when no seats remain. A zero capacity means unlimited.
func (e *Event) IsFull() bool {
	return e.Capacity > 0 && e.RegistrationCount >= e.Capacity
}

// TicketStatus is the payment state of a ticket. It only moves forward.
type TicketStatus string

const (
	TicketAwaitingPayment TicketStatus = "awaiting_payment"
	TicketValid           TicketStatus = "valid"
)

// Ticket is one user's admission right to one event. Tickets are never
// deleted; they double as the attendance record.
type Ticket struct {
	ID               string       `json:"id"`
	ClubID           string       `json:"club_id"`
	EventID          string       `json:"event_id"`
	UserID           string       `json:"user_id"`
	UserEmail        string       `json:"user_email"`
	FirstName        string       `json:"first_name"`
	LastName         string       `json:"last_name"`
	EventName        string       `json:"event_name"`
	EventDate        time.Time    `json:"event_date"`
	Status           TicketStatus `json:"status"`
	Paid             bool         `json:"paid"`
	CheckedIn        bool         `json:"checked_in"`
	CheckedInAt      *time.Time   `json:"checked_in_at,omitempty"`
	CheckedInBy      string       `json:"checked_in_by,omitempty"`
	PaymentSessionID string       `json:"payment_session_id,omitempty"`
	HoldExpiresAt    *time.Time   `json:"hold_expires_at,omitempty"` // seat reserved until then while unpaid
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// HoldsSeat reports whether the ticket occupies a seat at now without being
// counted in the event's registration count.
func (t *Ticket) HoldsSeat(now time.Time) bool {
	return t.Status == TicketAwaitingPayment && t.HoldExpiresAt != nil && now.Before(*t.HoldExpiresAt)
}

// AdStatus is the lifecycle state of a marketplace ad.
type AdStatus string

const (
	AdDraft       AdStatus = "draft"
	AdUnderReview AdStatus = "under_review"
	AdLive        AdStatus = "live"
)

// Ad is a paid marketplace listing.
type Ad struct {
	ID                      string     `json:"id"`
	OwnerID                 string     `json:"owner_id"`
	OwnerEmail              string     `json:"owner_email"`
	Title                   string     `json:"title"`
	Description             string     `json:"description"`
	Category                string     `json:"category"`
	PriceCents              int64      `json:"price_cents"`
	DurationDays            int        `json:"duration_days"`
	Status                  AdStatus   `json:"status"`
	ExpirationDate          *time.Time `json:"expiration_date,omitempty"`
	InvoiceID               string     `json:"invoice_id,omitempty"`
	PaymentSessionID        string     `json:"payment_session_id,omitempty"`
	PendingSessionID        string     `json:"-"`
	PendingSessionExpiresAt *time.Time `json:"-"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// Activatable reports whether the ad may still go live.
func (a *Ad) Activatable() bool {
	return a.Status == AdDraft || a.Status == AdUnderReview
}

// IsVisible reports whether the ad is live and not expired at now.
func (a *Ad) IsVisible(now time.Time) bool {
	return a.Status == AdLive && a.ExpirationDate != nil && now.Before(*a.ExpirationDate)
}

// HasPendingSession reports whether a checkout session for the ad may still
// complete at now.
func (a *Ad) HasPendingSession(now time.Time) bool {
	return a.PendingSessionID != "" && a.PendingSessionExpiresAt != nil && now.Before(*a.PendingSessionExpiresAt)
}

// ─── Request payloads ─────────────────────────────────────────────────────────

// EnrollmentRequest is the payload for creating the caller's enrollment.
type EnrollmentRequest struct {
	Program   string `json:"program" validate:"required,max=32,alphanum"`
	StartYear int    `json:"start_year" validate:"required,gte=2000,lte=2100"`
}

// ConfirmLevelRequest is the payload for confirming a level for the
// current academic year.
type ConfirmLevelRequest struct {
	Level int `json:"level" validate:"required,min=1,max=2"`
}

// SendMessageRequest is the payload for posting a chat message.
type SendMessageRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

// CreateClubRequest is the payload for creating a club.
type CreateClubRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=2000"`
}

// AddAdminRequest is the payload for adding a user to a club's roster.
type AddAdminRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name        string    `json:"name" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=5000"`
	Location    string    `json:"location" validate:"max=200"`
	Date        time.Time `json:"date" validate:"required"`
	PriceCents  int64     `json:"price_cents" validate:"gte=0"`
	Currency    string    `json:"currency" validate:"omitempty,len=3"`
	Capacity    int       `json:"capacity" validate:"gte=0,lte=100000"`
}

// CheckoutRequest is the payload for registering for an event.
type CheckoutRequest struct {
	EventID   string `json:"event_id" validate:"required"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
}

// CheckoutResponse tells the client where to pay. Free tickets come back
// valid with no session.
type CheckoutResponse struct {
	TicketID  string `json:"ticket_id,omitempty"`
	AdID      string `json:"ad_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	URL       string `json:"url,omitempty"`
	Status    string `json:"status"`
}

// VerifyPaymentRequest is sent by the client on return from checkout.
type VerifyPaymentRequest struct {
	TicketID  string `json:"ticket_id" validate:"required"`
	SessionID string `json:"session_id" validate:"required"`
}

// VerifyPaymentResponse reports the reconciliation outcome.
type VerifyPaymentResponse struct {
	Status string  `json:"status"`
	Ticket *Ticket `json:"ticket,omitempty"`
}

// CreateAdRequest is the payload for drafting an ad.
type CreateAdRequest struct {
	Title        string `json:"title" validate:"required,max=120"`
	Description  string `json:"description" validate:"required,max=5000"`
	Category     string `json:"category" validate:"max=60"`
	PriceCents   int64  `json:"price_cents" validate:"gte=0"`
	DurationDays int    `json:"duration_days" validate:"required,oneof=7 14 30"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
