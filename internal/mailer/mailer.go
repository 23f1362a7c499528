// Package mailer sends transactional email. Callers build a Message from one
// of the templates below and hand it to a Sender; delivery is best-effort.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNoRecipient is returned for messages without a To address.
var ErrNoRecipient = errors.New("message has no recipient")

// Message is one outgoing email.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
}

// Sender delivers a Message and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// LogSender writes messages to the log instead of sending them. It is the
// development default.
type LogSender struct {
	log logrus.FieldLogger
}

// NewLogSender returns a LogSender.
func NewLogSender(log logrus.FieldLogger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", ErrNoRecipient
	}
	id := "log-" + uuid.NewString()
	s.log.WithFields(logrus.Fields{
		"to":         msg.To,
		"subject":    msg.Subject,
		"message_id": id,
	}).Info("email (not sent)")
	return id, nil
}

var ticketTmpl = template.Must(template.New("ticket").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<h2>Your ticket for {{.EventName}}</h2>
<p>Hello {{.FirstName}} {{.LastName}},</p>
<p>Your payment was received and your ticket is now valid.</p>
<table>
<tr><td>Event</td><td><strong>{{.EventName}}</strong></td></tr>
<tr><td>Date</td><td>{{.Date}}</td></tr>
<tr><td>Ticket</td><td><code>{{.TicketID}}</code></td></tr>
</table>
<p>Show this ticket id at the entrance.</p>
</body></html>`))

var adTmpl = template.Must(template.New("ad").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<h2>Your ad is live</h2>
<p>"{{.Title}}" is now visible on the marketplace until {{.Expires}}.</p>
<table>
<tr><td>Invoice</td><td><strong>{{.InvoiceID}}</strong></td></tr>
<tr><td>Duration</td><td>{{.DurationDays}} days</td></tr>
<tr><td>Amount</td><td>{{.Amount}}</td></tr>
</table>
</body></html>`))

// TicketConfirmation holds the fields of a ticket confirmation email.
type TicketConfirmation struct {
	To        string
	FirstName string
	LastName  string
	EventName string
	EventDate time.Time
	TicketID  string
}

// Message renders the confirmation.
func (c TicketConfirmation) Message() (Message, error) {
	var buf bytes.Buffer
	err := ticketTmpl.Execute(&buf, map[string]string{
		"FirstName": c.FirstName,
		"LastName":  c.LastName,
		"EventName": c.EventName,
		"Date":      c.EventDate.Format("Mon 2 Jan 2006, 15:04"),
		"TicketID":  c.TicketID,
	})
	if err != nil {
		return Message{}, fmt.Errorf("render ticket email: %w", err)
	}
	return Message{
		To:      c.To,
		ToName:  c.FirstName + " " + c.LastName,
		Subject: "Your ticket for " + c.EventName,
		HTML:    buf.String(),
	}, nil
}

// AdInvoice holds the fields of an ad activation email.
type AdInvoice struct {
	To           string
	Title        string
	InvoiceID    string
	DurationDays int
	AmountCents  int64
	Currency     string
	Expires      time.Time
}

// Message renders the invoice.
func (a AdInvoice) Message() (Message, error) {
	var buf bytes.Buffer
	err := adTmpl.Execute(&buf, map[string]any{
		"Title":        a.Title,
		"InvoiceID":    a.InvoiceID,
		"DurationDays": a.DurationDays,
		"Amount":       fmt.Sprintf("%d.%02d %s", a.AmountCents/100, a.AmountCents%100, a.Currency),
		"Expires":      a.Expires.Format("2 Jan 2006"),
	})
	if err != nil {
		return Message{}, fmt.Errorf("render ad email: %w", err)
	}
	return Message{
		To:      a.To,
		Subject: "Invoice " + a.InvoiceID + ": your ad is live",
		HTML:    buf.String(),
	}, nil
}
