package mailer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGrid delivers messages through the SendGrid v3 mail API.
type SendGrid struct {
	client     *sendgrid.Client
	from       *sgmail.Email
	subjPrefix string
}

// NewSendGrid builds a SendGrid sender. appName prefixes every subject.
func NewSendGrid(key, appName, fromEmail, fromName string) *SendGrid {
	if fromName == "" {
		fromName = appName
	}
	return &SendGrid{
		client:     sendgrid.NewSendClient(key),
		from:       sgmail.NewEmail(fromName, fromEmail),
		subjPrefix: "[" + appName + "] ",
	}
}

func (s *SendGrid) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.To))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/html", msg.HTML))
	return m
}

func (s *SendGrid) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", ErrNoRecipient
	}
	res, err := s.client.SendWithContext(ctx, s.prepare(msg))
	if err != nil {
		return "", fmt.Errorf("sendgrid: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, res.Body)
	}
	if ids := res.Headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}
