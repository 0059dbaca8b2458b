// Package notify fans messages out to a set of notification channels.
//
// Each channel wraps exactly one transport (SMTP server, webhook URL, bot
// token) configured at construction. Channels are independent failure
// domains: one channel failing never prevents delivery through the others,
// and transport errors surface as ordinary error values, never panics.
package notify

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Message is one notification. Priority escalates the rendered prefix;
// Options carries transport-specific hints that channels may ignore.
type Message struct {
	Title    string
	Body     string
	Priority int
	Options  map[string]string
}

// Channel delivers a message through one transport.
type Channel interface {
	ID() string
	Send(ctx context.Context, msg Message) error
}

// Results maps channel id to its delivery outcome; nil means delivered.
type Results map[string]error

// Ok reports whether every channel delivered.
func (r Results) Ok() bool {
	for _, err := range r {
		if err != nil {
			return false
		}
	}
	return true
}

// Failed returns the ids of channels that did not deliver.
func (r Results) Failed() []string {
	var out []string
	for id, err := range r {
		if err != nil {
			out = append(out, id)
		}
	}
	return out
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	default:
		return ""
	}
}

// render produces the transport-agnostic text body of a message.
func render(msg Message) (title, body string) {
	return prefixForPriority(msg.Priority) + msg.Title, msg.Body
}

// HistoryItem is one fan-out kept in the in-memory history ring.
type HistoryItem struct {
	At     time.Time
	Title  string
	Sent   int
	Failed int
}

// NotificationEvent is the eventbus payload for notify.* events.
type NotificationEvent struct {
	Title   string
	Key     string
	At      time.Time
	Channel string
	Error   string
}
