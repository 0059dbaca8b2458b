package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// sendMailHook allows tests to override SMTP sending behavior.
var sendMailHook = smtp.SendMail

// Email delivers through a plain SMTP server. Credentials and recipients
// are fixed at construction.
type Email struct {
	name string

	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// NewEmail builds an SMTP channel. name defaults to "email"; From defaults
// to Username.
func NewEmail(name string, host string, port int, username, password, from string, to []string) (*Email, error) {
	if host == "" || port <= 0 {
		return nil, fmt.Errorf("email: host and port are required")
	}
	if len(to) == 0 {
		return nil, fmt.Errorf("email: at least one recipient is required")
	}
	if name == "" {
		name = "email"
	}
	if from == "" {
		from = username
	}
	return &Email{name: name, Host: host, Port: port, Username: username, Password: password, From: from, To: to}, nil
}

func (e *Email) ID() string { return e.name }

func (e *Email) Send(ctx context.Context, msg Message) error {
	_ = ctx // net/smtp has no context support; the dispatcher bounds the call
	title, body := render(msg)
	addr := fmt.Sprintf("%s:%d", e.Host, e.Port)
	var auth smtp.Auth
	if e.Username != "" {
		auth = smtp.PlainAuth("", e.Username, e.Password, e.Host)
	}
	payload := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		e.From,
		strings.Join(e.To, ","),
		title,
		body,
	)
	if err := sendMailHook(addr, auth, e.From, e.To, []byte(payload)); err != nil {
		return fmt.Errorf("smtp %s: %w", addr, err)
	}
	return nil
}
