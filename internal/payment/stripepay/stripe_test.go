package stripepay

import (
	"errors"
	"net/http"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/payment"
)

const completedEvent = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {
    "object": {
      "id": "cs_test_1",
      "object": "checkout.session",
      "payment_status": "paid",
      "status": "complete",
      "metadata": {"type": "ticket", "ticketId": "t1"}
    }
  }
}`

func TestParseWebhook_Signed(t *testing.T) {
	p := NewWithClient(nil, "whsec_test")

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(completedEvent),
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})
	header := http.Header{}
	header.Set(signatureHeader, signed.Header)

	evt, err := p.ParseWebhook(signed.Payload, header)
	require.NoError(t, err)
	assert.True(t, evt.Completed)
	assert.Equal(t, "cs_test_1", evt.Session.ID)
	assert.Equal(t, payment.StatusPaid, evt.Session.Status)
	assert.Equal(t, "t1", evt.Session.Metadata[payment.MetaTicketID])

	header.Set(signatureHeader, "t=1,v1=deadbeef")
	_, err = p.ParseWebhook(signed.Payload, header)
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
}

func TestParseWebhook_Unsigned(t *testing.T) {
	p := NewWithClient(nil, "")

	evt, err := p.ParseWebhook([]byte(completedEvent), http.Header{})
	require.NoError(t, err)
	assert.True(t, evt.Completed)

	evt, err = p.ParseWebhook([]byte(`{"id":"evt_2","type":"payment_intent.created","data":{"object":{}}}`), http.Header{})
	require.NoError(t, err)
	assert.False(t, evt.Completed)

	_, err = p.ParseWebhook([]byte(`not json`), http.Header{})
	assert.ErrorIs(t, err, payment.ErrMalformedEvent)
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		s    stripe.CheckoutSession
		want payment.Status
	}{
		{name: "paid", s: stripe.CheckoutSession{PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid}, want: payment.StatusPaid},
		{name: "free", s: stripe.CheckoutSession{PaymentStatus: stripe.CheckoutSessionPaymentStatusNoPaymentRequired}, want: payment.StatusPaid},
		{name: "open", s: stripe.CheckoutSession{PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid, Status: stripe.CheckoutSessionStatusOpen}, want: payment.StatusUnpaid},
		{name: "async pending", s: stripe.CheckoutSession{PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid, Status: stripe.CheckoutSessionStatusComplete}, want: payment.StatusPending},
		{name: "expired", s: stripe.CheckoutSession{PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid, Status: stripe.CheckoutSessionStatusExpired}, want: payment.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toStatus(&tt.s))
		})
	}
}

func TestMapError(t *testing.T) {
	assert.ErrorIs(t, mapError(errors.New("dial tcp: timeout")), payment.ErrUnavailable)
	assert.ErrorIs(t, mapError(&stripe.Error{HTTPStatusCode: http.StatusNotFound}), payment.ErrSessionNotFound)
	assert.ErrorIs(t, mapError(&stripe.Error{HTTPStatusCode: http.StatusBadGateway}), payment.ErrUnavailable)
	assert.ErrorIs(t, mapError(&stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}), payment.ErrUnavailable)

	err := mapError(&stripe.Error{HTTPStatusCode: http.StatusBadRequest, Msg: "bad"})
	assert.NotErrorIs(t, err, payment.ErrUnavailable)
	assert.NotErrorIs(t, err, payment.ErrSessionNotFound)
}
