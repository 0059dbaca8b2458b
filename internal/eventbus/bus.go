// Package eventbus is a small in-memory fanout used to decouple the core
// engines from observers (history, storage, logging).
package eventbus

import (
	"sync"
	"time"
)

// Event types published by the core.
const (
	JobOK             = "job.ok"
	JobFailed         = "job.failed"
	WorkflowCompleted = "workflow.completed"
	MonitorAlert      = "monitor.alert"
	MonitorCheckError = "monitor.check_error"
	NotifyQueued      = "notify.queued"
	NotifySent        = "notify.sent"
	NotifyFailed      = "notify.failed"
	NotifyDropped     = "notify.dropped"
	NotifyDeduped     = "notify.deduped"
)

// Event is a lightweight, in-memory signal.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a fanout bus. It owns no background goroutines.
func New() Bus {
	return &memBus{subs: map[int]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// Publish delivers e to every subscriber without blocking; full buffers
// drop the event. Sends happen under the read lock while Unsubscribe
// closes channels under the write lock, so a send never races a close.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
