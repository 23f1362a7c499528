// Package payment defines the narrow interface the service uses to talk to a
// hosted-checkout payment provider, and the shared vocabulary (statuses,
// metadata keys, errors) both provider adapters translate into.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable marks a transient provider failure: network error, 5xx or
// timeout. Callers may retry.
var ErrUnavailable = errors.New("payment provider unavailable")

// ErrSessionNotFound is returned when the provider does not know a session.
var ErrSessionNotFound = errors.New("payment session not found")

// ErrInvalidSignature is returned when a webhook fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ErrMalformedEvent is returned when a webhook payload cannot be decoded.
var ErrMalformedEvent = errors.New("malformed webhook event")

// Status is the provider-independent payment status of a session.
type Status string

const (
	StatusPaid    Status = "paid"
	StatusPending Status = "pending"
	StatusUnpaid  Status = "unpaid"
	StatusFailed  Status = "failed"
)

// Metadata keys attached to every checkout session.
const (
	MetaType     = "type"
	MetaTicketID = "ticketId"
	MetaAdID     = "adId"
)

// Metadata "type" values.
const (
	TypeTicket = "ticket"
	TypeAd     = "ad"
)

// LineItem is one priced entry on the checkout page.
type LineItem struct {
	Name        string
	Description string
	AmountCents int64
	Currency    string
	Quantity    int64
}

// CheckoutRequest describes a hosted checkout session to create.
type CheckoutRequest struct {
	// Reference is our own identifier for the purchase. Providers that
	// require a merchant order id use it as such.
	Reference     string
	CustomerEmail string
	CustomerName  string
	LineItems     []LineItem
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
	ExpiresAt     time.Time
}

// Total sums the line items.
func (r CheckoutRequest) Total() int64 {
	var total int64
	for _, li := range r.LineItems {
		q := li.Quantity
		if q <= 0 {
			q = 1
		}
		total += li.AmountCents * q
	}
	return total
}

// Session is the provider's view of a checkout session.
type Session struct {
	ID       string
	URL      string
	Status   Status
	Metadata map[string]string
}

// Paid reports whether the session's payment settled.
func (s Session) Paid() bool { return s.Status == StatusPaid }

// Event is a decoded webhook delivery.
type Event struct {
	ID   string
	Type string
	// Completed is true for events that report a finished checkout.
	Completed bool
	Session   Session
}

// Provider is implemented by every payment provider adapter.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string
	// CreateSession opens a hosted checkout session.
	CreateSession(ctx context.Context, req CheckoutRequest) (Session, error)
	// GetSession re-reads a session's authoritative status.
	GetSession(ctx context.Context, id string) (Session, error)
	// ParseWebhook verifies and decodes a webhook delivery.
	ParseWebhook(payload []byte, header http.Header) (Event, error)
}

// WithTimeout runs fn with ctx bounded by d. Exceeding d is reported as
// ErrUnavailable so callers treat it as retryable. fn keeps running in the
// background if it ignores ctx; its result is then discarded.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			var zero T
			return zero, fmt.Errorf("%w: %v", ErrUnavailable, r.err)
		}
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
}

var referenceKinds = map[string]string{TypeTicket: "T", TypeAd: "A"}

// NewReference builds a merchant reference that encodes what is being paid
// for, e.g. "T.<ticket id>.<nonce>". It stays under the 50 characters
// order-id providers accept for UUID ids.
func NewReference(kind, id, nonce string) string {
	code, ok := referenceKinds[kind]
	if !ok {
		code = "X"
	}
	return code + "." + id + "." + nonce
}

// ParseReference recovers the metadata encoded by NewReference.
func ParseReference(ref string) (map[string]string, bool) {
	parts := strings.SplitN(ref, ".", 3)
	if len(parts) != 3 || parts[1] == "" {
		return nil, false
	}
	switch parts[0] {
	case "T":
		return map[string]string{MetaType: TypeTicket, MetaTicketID: parts[1]}, true
	case "A":
		return map[string]string{MetaType: TypeAd, MetaAdID: parts[1]}, true
	}
	return nil, false
}
