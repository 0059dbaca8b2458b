package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

var webhookClient = &http.Client{Timeout: 10 * time.Second}

// Slack delivers through a Slack-compatible incoming webhook.
type Slack struct {
	name string

	WebhookURL string
	Username   string
	IconEmoji  string
}

func NewSlack(name, webhookURL, username, iconEmoji string) (*Slack, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("slack: webhook_url is required")
	}
	if name == "" {
		name = "slack"
	}
	return &Slack{name: name, WebhookURL: webhookURL, Username: username, IconEmoji: iconEmoji}, nil
}

func (s *Slack) ID() string { return s.name }

func (s *Slack) Send(ctx context.Context, msg Message) error {
	title, body := render(msg)
	payload := map[string]string{"text": fmt.Sprintf("*%s*\n%s", title, body)}
	if s.Username != "" {
		payload["username"] = s.Username
	}
	if s.IconEmoji != "" {
		payload["icon_emoji"] = s.IconEmoji
	}
	return postJSON(ctx, s.WebhookURL, payload)
}

// Webhook delivers the raw message as a JSON document to an arbitrary URL.
type Webhook struct {
	name string

	URL string
}

func NewWebhook(name, url string) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook: url is required")
	}
	if name == "" {
		name = "webhook"
	}
	return &Webhook{name: name, URL: url}, nil
}

func (w *Webhook) ID() string { return w.name }

func (w *Webhook) Send(ctx context.Context, msg Message) error {
	payload := map[string]any{
		"title":    msg.Title,
		"body":     msg.Body,
		"priority": msg.Priority,
		"time":     time.Now().Format(time.RFC3339),
	}
	if len(msg.Options) > 0 {
		payload["options"] = msg.Options
	}
	return postJSON(ctx, w.URL, payload)
}

func postJSON(ctx context.Context, url string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := webhookClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: status %d", url, resp.StatusCode)
	}
	return nil
}
