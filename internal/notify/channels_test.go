package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
)

func TestEmailSendBuildsSMTPPayload(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody []byte
	orig := sendMailHook
	sendMailHook = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, msg
		return nil
	}
	defer func() { sendMailHook = orig }()

	e, err := NewEmail("", "mail.example.com", 587, "bot@example.com", "secret", "", []string{"ops@example.com"})
	if err != nil {
		t.Fatalf("NewEmail: %v", err)
	}
	if e.ID() != "email" {
		t.Fatalf("ID = %q, want email", e.ID())
	}
	if err := e.Send(context.Background(), Message{Title: "disk full", Body: "97% used", Priority: 9}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotAddr != "mail.example.com:587" {
		t.Fatalf("addr = %q", gotAddr)
	}
	if gotFrom != "bot@example.com" {
		t.Fatalf("from = %q (should default to username)", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "ops@example.com" {
		t.Fatalf("to = %v", gotTo)
	}
	body := string(gotBody)
	if !strings.Contains(body, "Subject: 🚨 disk full") {
		t.Fatalf("missing prioritized subject:\n%s", body)
	}
	if !strings.Contains(body, "97% used") {
		t.Fatalf("missing body text:\n%s", body)
	}
}

func TestEmailRejectsBadConfig(t *testing.T) {
	t.Parallel()
	if _, err := NewEmail("e", "", 587, "u", "p", "", []string{"x"}); err == nil {
		t.Fatal("missing host accepted")
	}
	if _, err := NewEmail("e", "h", 587, "u", "p", "", nil); err == nil {
		t.Fatal("missing recipients accepted")
	}
}

func TestSlackSendPostsPayload(t *testing.T) {
	t.Parallel()
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
	}))
	defer srv.Close()

	s, err := NewSlack("ops", srv.URL, "autoflow", ":robot:")
	if err != nil {
		t.Fatalf("NewSlack: %v", err)
	}
	if err := s.Send(context.Background(), Message{Title: "deploy", Body: "v1.2 live", Priority: 5}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got["username"] != "autoflow" || got["icon_emoji"] != ":robot:" {
		t.Fatalf("payload = %v", got)
	}
	if !strings.Contains(got["text"], "deploy") || !strings.Contains(got["text"], "v1.2 live") {
		t.Fatalf("text = %q", got["text"])
	}
}

func TestWebhookReportsHTTPFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	w, err := NewWebhook("hook", srv.URL)
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	if err := w.Send(context.Background(), Message{Title: "t"}); err == nil {
		t.Fatal("403 response must surface as an error")
	}
}

func TestWebhookSendsStructuredJSON(t *testing.T) {
	t.Parallel()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
	}))
	defer srv.Close()

	w, err := NewWebhook("", srv.URL)
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	msg := Message{Title: "backup", Body: "ok", Priority: 3, Options: map[string]string{"env": "prod"}}
	if err := w.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["title"] != "backup" || got["priority"] != float64(3) {
		t.Fatalf("payload = %v", got)
	}
	opts, _ := got["options"].(map[string]any)
	if opts["env"] != "prod" {
		t.Fatalf("options = %v", got["options"])
	}
}
