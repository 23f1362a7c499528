package mailer

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketConfirmation(t *testing.T) {
	msg, err := TicketConfirmation{
		To:        "amina@example.com",
		FirstName: "Amina",
		LastName:  "<script>",
		EventName: "Gala night",
		EventDate: time.Date(2025, 11, 14, 19, 0, 0, 0, time.UTC),
		TicketID:  "t-123",
	}.Message()
	require.NoError(t, err)

	assert.Equal(t, "amina@example.com", msg.To)
	assert.Equal(t, "Your ticket for Gala night", msg.Subject)
	assert.Contains(t, msg.HTML, "t-123")
	assert.Contains(t, msg.HTML, "Fri 14 Nov 2025, 19:00")
	assert.NotContains(t, msg.HTML, "<script>")
}

func TestAdInvoice(t *testing.T) {
	msg, err := AdInvoice{
		To:           "seller@example.com",
		Title:        "Used calculator",
		InvoiceID:    "INV-20250901-ab12",
		DurationDays: 7,
		AmountCents:  1050,
		Currency:     "MAD",
		Expires:      time.Date(2025, 9, 8, 0, 0, 0, 0, time.UTC),
	}.Message()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(msg.Subject, "Invoice INV-20250901-ab12"))
	assert.Contains(t, msg.HTML, "10.50 MAD")
	assert.Contains(t, msg.HTML, "8 Sep 2025")
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)

	s := NewLogSender(log)
	id, err := s.Send(context.Background(), Message{To: "a@example.com", Subject: "hi"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "log-"))
	assert.Contains(t, buf.String(), "a@example.com")

	_, err = s.Send(context.Background(), Message{Subject: "nobody"})
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestSendGridPrepare(t *testing.T) {
	s := NewSendGrid("SG.key", "ESTT", "noreply@example.com", "")
	m := s.prepare(Message{To: "a@example.com", ToName: "A", Subject: "Hello", HTML: "<p>x</p>"})

	require.Len(t, m.Personalizations, 1)
	assert.Equal(t, "[ESTT] Hello", m.Personalizations[0].Subject)
	assert.Equal(t, "a@example.com", m.Personalizations[0].To[0].Address)
	assert.Equal(t, "ESTT", m.From.Name)
	require.Len(t, m.Content, 1)
	assert.Equal(t, "text/html", m.Content[0].Type)
}
