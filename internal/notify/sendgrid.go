package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGrid delivers email through the SendGrid v3 API.
type SendGrid struct {
	name string

	client *sendgrid.Client
	from   *mail.Email
	to     []*mail.Email
}

func NewSendGrid(name, apiKey, from string, to []string) (*SendGrid, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("sendgrid: api_key is required")
	}
	if from == "" {
		return nil, fmt.Errorf("sendgrid: from address is required")
	}
	if len(to) == 0 {
		return nil, fmt.Errorf("sendgrid: at least one recipient is required")
	}
	if name == "" {
		name = "sendgrid"
	}
	s := &SendGrid{
		name:   name,
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail("", from),
	}
	for _, addr := range to {
		s.to = append(s.to, mail.NewEmail("", addr))
	}
	return s, nil
}

func (s *SendGrid) ID() string { return s.name }

func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	title, body := render(msg)
	for _, rcpt := range s.to {
		m := mail.NewSingleEmail(s.from, title, rcpt, body, body)
		resp, err := s.client.SendWithContext(ctx, m)
		if err != nil {
			return fmt.Errorf("sendgrid: %w", err)
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("sendgrid: status %d", resp.StatusCode)
		}
	}
	return nil
}
