package notify

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"autoflow/internal/eventbus"
)

// Config controls the async dispatch pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

type sendJob struct {
	msg Message
	// dedupKey is computed at enqueue time for cheap per-worker processing.
	dedupKey string
}

// Dispatcher is the async pipeline in front of Manager fan-out:
// queue + worker pool + rate limit + retry + dedup.
//
// It is safe for concurrent use. Dedup and retry apply to the whole
// fan-out; only the channels that failed are retried.
type Dispatcher struct {
	mu sync.Mutex

	log     *slog.Logger
	manager *Manager
	bus     eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan sendJob
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func NewDispatcher(cfg Config, manager *Manager, log *slog.Logger, bus eventbus.Bus) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		manager: manager,
		log:     log,
		bus:     bus,
		dedup:   map[string]time.Time{},
	}
	d.applyLocked(cfg)
	return d
}

func (d *Dispatcher) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Enabled
}

// Apply swaps the pipeline configuration. Queue size and worker count take
// effect on the next Start; rate and retry settings apply immediately.
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Dispatcher) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	d.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.queue != nil {
		// already running
		d.mu.Unlock()
		return
	}
	if !d.cfg.Enabled {
		d.mu.Unlock()
		return
	}

	d.queue = make(chan sendJob, d.cfg.QueueSize)
	d.accepting = true
	d.stopDone = make(chan struct{})
	d.runCtx, d.runCancel = context.WithCancel(ctx)
	workers := d.cfg.Workers
	d.mu.Unlock()

	for i := 0; i < workers; i++ {
		i := i
		d.workerWG.Add(1)
		go func() {
			defer d.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("panic in dispatcher worker", slog.Int("worker", i), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
				}
			}()
			d.workerLoop()
		}()
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	q := d.queue
	done := d.stopDone
	cancel := d.runCancel
	if q == nil {
		d.mu.Unlock()
		return
	}
	// Block new notifies.
	d.accepting = false
	d.mu.Unlock()

	// Wait for in-flight enqueues to finish, then close the queue so
	// workers can drain.
	ch := make(chan struct{})
	go func() {
		d.sendWG.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	case <-ch:
	}

	func() {
		defer func() { _ = recover() }()
		close(q)
	}()

	go func() {
		d.workerWG.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
	case <-done:
		if cancel != nil {
			cancel()
		}
	}

	d.mu.Lock()
	d.queue = nil
	d.stopDone = nil
	d.runCancel = nil
	d.runCtx = nil
	d.mu.Unlock()
}

// Notify enqueues a message for fan-out through every registered channel.
// Delivery is at-most-once per channel plus configured retries; callers
// needing synchronous results use Manager.SendToAll directly.
func (d *Dispatcher) Notify(ctx context.Context, msg Message) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	d.mu.Lock()
	if !d.cfg.Enabled {
		d.mu.Unlock()
		return ErrDisabled
	}
	if !d.accepting || d.queue == nil {
		d.mu.Unlock()
		return ErrStopped
	}
	q := d.queue
	dedupWindow := d.cfg.DedupWindow
	dedupMax := d.cfg.DedupMaxEntries
	d.sendWG.Add(1)
	d.mu.Unlock()
	defer d.sendWG.Done()

	key := dedupKey(msg)
	if dedupWindow > 0 {
		if !d.dedupAllow(key, dedupWindow, dedupMax) {
			d.publish(eventbus.NotifyDeduped, NotificationEvent{Title: msg.Title, Key: key})
			return nil
		}
	}

	d.publish(eventbus.NotifyQueued, NotificationEvent{Title: msg.Title, Key: key})

	select {
	case q <- sendJob{msg: msg, dedupKey: key}:
		return nil
	default:
		d.publish(eventbus.NotifyDropped, NotificationEvent{Title: msg.Title, Key: key, Error: ErrQueueFull.Error()})
		return ErrQueueFull
	}
}

// Snapshot returns the recent fan-out history.
func (d *Dispatcher) Snapshot() []HistoryItem {
	d.hmu.Lock()
	out := append([]HistoryItem(nil), d.history...)
	d.hmu.Unlock()
	return out
}

func (d *Dispatcher) appendHistory(item HistoryItem) {
	d.hmu.Lock()
	d.history = append(d.history, item)
	if len(d.history) > 300 {
		d.history = d.history[len(d.history)-300:]
	}
	d.hmu.Unlock()
}

func (d *Dispatcher) publish(evType string, ev NotificationEvent) {
	if d.bus == nil {
		return
	}
	now := time.Now()
	ev.At = now
	d.bus.Publish(eventbus.Event{Type: evType, Time: now, Data: ev})
}

func (d *Dispatcher) workerLoop() {
	d.mu.Lock()
	q := d.queue
	runCtx := d.runCtx
	d.mu.Unlock()

	for j := range q {
		if runCtx != nil {
			select {
			case <-runCtx.Done():
				return
			default:
			}
		}
		d.sendWithRetry(runCtx, j)
	}
}

func (d *Dispatcher) sendWithRetry(runCtx context.Context, j sendJob) {
	d.mu.Lock()
	cfg := d.cfg
	lim := d.limiter
	mgr := d.manager
	d.mu.Unlock()

	if mgr == nil {
		return
	}

	maxAttempts := 1
	if cfg.RetryMax > 0 {
		maxAttempts = 1 + cfg.RetryMax
	}

	sent := 0
	var pending []string // nil on the first attempt = all channels
	var lastResults Results

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			wctx := runCtx
			if wctx == nil {
				wctx = context.Background()
			}
			if err := lim.Wait(wctx); err != nil {
				return
			}
		}

		// Bound the whole fan-out call. Keep tight to avoid hanging workers.
		callCtx := runCtx
		if callCtx == nil {
			callCtx = context.Background()
		}
		callCtx, cancel := context.WithTimeout(callCtx, 10*time.Second)
		var results Results
		if attempt == 1 {
			results = mgr.SendToAll(callCtx, j.msg)
		} else {
			results = mgr.SendTo(callCtx, pending, j.msg)
		}
		cancel()

		lastResults = results
		for _, err := range results {
			if err == nil {
				sent++
			}
		}
		pending = results.Failed()
		sort.Strings(pending)
		if len(pending) == 0 {
			break
		}
		d.log.Debug("fan-out incomplete",
			slog.String("title", j.msg.Title),
			slog.Int("failed", len(pending)),
			slog.Int("attempt", attempt),
			slog.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		rc := runCtx
		if rc == nil {
			rc = context.Background()
		}
		select {
		case <-t.C:
		case <-rc.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	d.appendHistory(HistoryItem{At: time.Now(), Title: j.msg.Title, Sent: sent, Failed: len(pending)})
	if len(pending) == 0 {
		d.publish(eventbus.NotifySent, NotificationEvent{Title: j.msg.Title, Key: j.dedupKey})
		return
	}
	errText := ""
	if lastResults != nil {
		parts := make([]string, 0, len(pending))
		for _, id := range pending {
			if err := lastResults[id]; err != nil {
				parts = append(parts, fmt.Sprintf("%s: %v", id, err))
			}
		}
		errText = strings.Join(parts, "; ")
	}
	d.publish(eventbus.NotifyFailed, NotificationEvent{
		Title:   j.msg.Title,
		Key:     j.dedupKey,
		Channel: strings.Join(pending, ","),
		Error:   errText,
	})
}

func dedupKey(msg Message) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(msg.Title))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(msg.Body))
	_, _ = h.Write([]byte(fmt.Sprintf("|%d", msg.Priority)))
	return fmt.Sprintf("%x", h.Sum64())
}

func (d *Dispatcher) dedupAllow(key string, window time.Duration, max int) bool {
	now := time.Now()

	d.dmu.Lock()
	defer d.dmu.Unlock()
	if d.dedup == nil {
		d.dedup = map[string]time.Time{}
	}
	if until, ok := d.dedup[key]; ok && now.Before(until) {
		return false
	}
	d.dedup[key] = now.Add(window)

	// Prune expired and cap.
	for k, until := range d.dedup {
		if !now.Before(until) {
			delete(d.dedup, k)
		}
	}
	for max > 0 && len(d.dedup) > max {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range d.dedup {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		if minKey == "" {
			break
		}
		delete(d.dedup, minKey)
	}
	return true
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt); delay is for the NEXT attempt.
	base := cfg.RetryBase
	maxD := cfg.RetryMaxDelay
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
