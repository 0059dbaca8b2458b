package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type countingChannel struct {
	mu    sync.Mutex
	id    string
	calls int
	fail  int // fail the first N sends
}

func (c *countingChannel) ID() string { return c.id }

func (c *countingChannel) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.fail {
		return errors.New("transient")
	}
	return nil
}

func (c *countingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func dispatcherConfig() Config {
	return Config{
		Enabled:    true,
		Workers:    1,
		QueueSize:  8,
		RatePerSec: 1000,
		RetryBase:  time.Millisecond,
	}
}

func TestDispatcherDeliversThroughManager(t *testing.T) {
	t.Parallel()
	m := NewManager(testLogger())
	ch := &countingChannel{id: "a"}
	mustAdd(t, m, ch)

	d := NewDispatcher(dispatcherConfig(), m, testLogger(), nil)
	d.Start(context.Background())

	if err := d.Notify(context.Background(), Message{Title: "hi"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	d.Stop(context.Background()) // drains the queue

	if got := ch.count(); got != 1 {
		t.Fatalf("channel sends = %d, want 1", got)
	}
	hist := d.Snapshot()
	if len(hist) != 1 || hist[0].Sent != 1 || hist[0].Failed != 0 {
		t.Fatalf("history = %+v, want one fully-sent item", hist)
	}
}

func TestDispatcherRetriesOnlyFailedChannels(t *testing.T) {
	t.Parallel()
	m := NewManager(testLogger())
	flaky := &countingChannel{id: "flaky", fail: 1}
	stable := &countingChannel{id: "stable"}
	mustAdd(t, m, flaky)
	mustAdd(t, m, stable)

	cfg := dispatcherConfig()
	cfg.RetryMax = 2
	d := NewDispatcher(cfg, m, testLogger(), nil)
	d.Start(context.Background())

	if err := d.Notify(context.Background(), Message{Title: "retry me"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	d.Stop(context.Background())

	if got := flaky.count(); got != 2 {
		t.Fatalf("flaky sends = %d, want 2 (initial + one retry)", got)
	}
	if got := stable.count(); got != 1 {
		t.Fatalf("stable sends = %d, want 1 (not re-sent on retry)", got)
	}
}

func TestDispatcherDedupWindow(t *testing.T) {
	t.Parallel()
	m := NewManager(testLogger())
	ch := &countingChannel{id: "a"}
	mustAdd(t, m, ch)

	cfg := dispatcherConfig()
	cfg.DedupWindow = time.Minute
	d := NewDispatcher(cfg, m, testLogger(), nil)
	d.Start(context.Background())

	msg := Message{Title: "same", Body: "payload"}
	for i := 0; i < 3; i++ {
		if err := d.Notify(context.Background(), msg); err != nil {
			t.Fatalf("Notify #%d: %v", i, err)
		}
	}
	// A different body is a different message.
	if err := d.Notify(context.Background(), Message{Title: "same", Body: "other"}); err != nil {
		t.Fatalf("Notify distinct: %v", err)
	}
	d.Stop(context.Background())

	if got := ch.count(); got != 2 {
		t.Fatalf("channel sends = %d, want 2 (duplicates suppressed)", got)
	}
}

func TestNotifyQueueFull(t *testing.T) {
	t.Parallel()
	m := NewManager(testLogger())
	block := make(chan struct{})
	slow := &funcChannel{id: "slow", fn: func(ctx context.Context, msg Message) error {
		<-block
		return nil
	}}
	mustAdd(t, m, slow)

	cfg := dispatcherConfig()
	cfg.QueueSize = 1
	d := NewDispatcher(cfg, m, testLogger(), nil)
	d.Start(context.Background())
	defer func() {
		close(block)
		d.Stop(context.Background())
	}()

	// Saturate: one message occupies the worker, then fill the queue.
	sawFull := false
	for i := 0; i < 16; i++ {
		err := d.Notify(context.Background(), Message{Title: "m", Body: string(rune('a' + i))})
		if errors.Is(err, ErrQueueFull) {
			sawFull = true
			break
		}
		if err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	if !sawFull {
		t.Fatal("queue never reported full")
	}
}

func TestNotifyDisabledAndStopped(t *testing.T) {
	t.Parallel()
	m := NewManager(testLogger())

	off := NewDispatcher(Config{Enabled: false}, m, testLogger(), nil)
	if err := off.Notify(context.Background(), Message{Title: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Notify err = %v, want ErrDisabled", err)
	}

	d := NewDispatcher(dispatcherConfig(), m, testLogger(), nil)
	if err := d.Notify(context.Background(), Message{Title: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("never-started Notify err = %v, want ErrStopped", err)
	}
	d.Start(context.Background())
	d.Stop(context.Background())
	if err := d.Notify(context.Background(), Message{Title: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped Notify err = %v, want ErrStopped", err)
	}
}

type funcChannel struct {
	id string
	fn func(ctx context.Context, msg Message) error
}

func (f *funcChannel) ID() string                                { return f.id }
func (f *funcChannel) Send(ctx context.Context, m Message) error { return f.fn(ctx, m) }
