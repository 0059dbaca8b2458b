package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager holds registered channels and performs synchronous fan-out. It
// holds non-owning references only; channel lifecycle belongs to whoever
// registered it.
type Manager struct {
	log *slog.Logger

	mu       sync.Mutex
	channels []Channel // registration order
}

func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log}
}

// AddChannel registers a channel. Ids must be unique.
func (m *Manager) AddChannel(c Channel) error {
	if c == nil {
		return fmt.Errorf("channel is nil")
	}
	id := c.ID()
	if id == "" {
		return fmt.Errorf("channel id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.channels {
		if have.ID() == id {
			return fmt.Errorf("channel %q already registered", id)
		}
	}
	m.channels = append(m.channels, c)
	return nil
}

// RemoveChannel deregisters a channel by id.
func (m *Manager) RemoveChannel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.channels {
		if c.ID() == id {
			m.channels = append(m.channels[:i], m.channels[i+1:]...)
			return true
		}
	}
	return false
}

// ChannelIDs returns the registered ids in registration order.
func (m *Manager) ChannelIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, c.ID())
	}
	return out
}

// SendToAll delivers msg through every registered channel. A failing
// channel is recorded in the result and never stops the fan-out; callers
// inspect the returned mapping rather than receiving a partial-success
// error.
func (m *Manager) SendToAll(ctx context.Context, msg Message) Results {
	m.mu.Lock()
	channels := append([]Channel(nil), m.channels...)
	m.mu.Unlock()

	results := make(Results, len(channels))
	for _, c := range channels {
		results[c.ID()] = m.deliver(ctx, c, msg)
	}
	return results
}

// SendTo delivers msg through the channels named by ids. Unknown ids are
// reported as errors in the result.
func (m *Manager) SendTo(ctx context.Context, ids []string, msg Message) Results {
	m.mu.Lock()
	byID := make(map[string]Channel, len(m.channels))
	for _, c := range m.channels {
		byID[c.ID()] = c
	}
	m.mu.Unlock()

	results := make(Results, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			results[id] = fmt.Errorf("unknown channel %q", id)
			continue
		}
		results[id] = m.deliver(ctx, c, msg)
	}
	return results
}

func (m *Manager) deliver(ctx context.Context, c Channel, msg Message) error {
	err := sendSafe(ctx, c, msg)
	if err != nil {
		m.log.Warn("channel delivery failed", slog.String("channel", c.ID()), slog.Any("err", err))
		return err
	}
	m.log.Debug("channel delivered", slog.String("channel", c.ID()), slog.String("title", msg.Title))
	return nil
}

// sendSafe contains channel panics so one misbehaving transport cannot
// abort the fan-out.
func sendSafe(ctx context.Context, c Channel, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.Send(ctx, msg)
}
