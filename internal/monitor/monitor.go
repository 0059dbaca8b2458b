// Package monitor evaluates registered health checks on a cooperative tick
// loop and fires alert actions subject to a per-entry cooldown.
//
// Cooldown is time-based only: a passing check does not clear it. An entry
// keeps alerting on every failure once its cooldown has lapsed, even when
// successes occurred in between. Alert-once-until-recovered semantics were
// considered and rejected to keep the suppression window predictable.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"autoflow/internal/clock"
	"autoflow/internal/eventbus"
)

const (
	defaultTick     = time.Second
	defaultCooldown = 5 * time.Minute
	maxAlertLog     = 256
)

type Service struct {
	mu sync.Mutex

	log *slog.Logger
	cfg Config
	clk clock.Clock
	bus eventbus.Bus

	entries []*entry // registration order
	seq     uint64

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	amu    sync.Mutex
	alerts []Alert
}

// New constructs an independent monitor. Multiple monitors may coexist.
func New(cfg Config, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = defaultCooldown
	}
	s := &Service{cfg: cfg, log: log, clk: clock.System()}
	for _, o := range opts {
		o(s)
	}
	return s
}

type Option func(*Service)

// WithClock injects a clock; tests drive the loop without wall-time sleeps.
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clk = c } }

// WithBus publishes monitor.alert / monitor.check_error events.
func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates hot-reloadable settings. Tick changes take effect on the
// next Start; DefaultCooldown affects entries registered afterwards.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Enabled = cfg.Enabled
	if cfg.Tick > 0 {
		s.cfg.Tick = cfg.Tick
	}
	if cfg.DefaultCooldown > 0 {
		s.cfg.DefaultCooldown = cfg.DefaultCooldown
	}
}

// Add registers a health check. cooldown <= 0 selects the configured
// default. The entry's first evaluation happens on the next tick; alert may
// be nil when callers only consume monitor.alert events.
func (s *Service) Add(name string, check CheckFunc, alert AlertFunc, interval, cooldown time.Duration) (string, error) {
	if check == nil {
		return "", fmt.Errorf("%w: check func is nil", ErrConfig)
	}
	if interval <= 0 {
		return "", fmt.Errorf("%w: interval must be > 0", ErrConfig)
	}
	if cooldown <= 0 {
		cooldown = s.cfg.DefaultCooldown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e := &entry{
		id:        fmt.Sprintf("monitor:%d", s.seq),
		name:      name,
		check:     check,
		alert:     alert,
		interval:  interval,
		cooldown:  cooldown,
		nextCheck: s.clk.Now(),
	}
	s.entries = append(s.entries, e)
	return e.id, nil
}

// Remove deletes an entry by id. An in-flight evaluation is unaffected.
func (s *Service) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Entries returns a snapshot of all registered entries in registration order.
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, infoOf(e))
	}
	return out
}

// Alerts returns fired alerts no older than since. since <= 0 returns the
// whole retained log.
func (s *Service) Alerts(since time.Duration) []Alert {
	cutoff := time.Time{}
	if since > 0 {
		cutoff = s.clk.Now().Add(-since)
	}
	s.amu.Lock()
	defer s.amu.Unlock()
	out := make([]Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if cutoff.IsZero() || !a.Time.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

// Start launches the evaluation loop in the background. No-op if already
// running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	s.stopCh = stopCh
	s.doneCh = doneCh
	tick := s.cfg.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	s.mu.Unlock()

	go s.loop(ctx, stopCh, doneCh, tick)
	s.log.Info("monitor started", slog.Duration("tick", tick))
}

// Stop terminates the loop after the current tick; in-flight checks run to
// completion. Stop waits for the loop until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.stopCh = nil
	s.doneCh = nil
	s.mu.Unlock()

	select {
	case <-done:
		s.log.Info("monitor stopped")
	case <-ctx.Done():
		s.log.Warn("monitor stop timed out; loop finishes in background")
	}
}

func (s *Service) loop(ctx context.Context, stopCh, doneCh chan struct{}, tick time.Duration) {
	defer close(doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-s.clk.After(tick):
			s.evalDue(ctx)
		}
	}
}

// evalDue evaluates every due entry exactly once, sequentially, in
// registration order. Due times are per entry and independent.
func (s *Service) evalDue(ctx context.Context) {
	now := s.clk.Now()

	s.mu.Lock()
	due := make([]*entry, 0)
	for _, e := range s.entries {
		if !e.nextCheck.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.evaluate(ctx, e, now)
	}
}

func (s *Service) evaluate(ctx context.Context, e *entry, now time.Time) {
	ok, err := checkSafe(ctx, e.check)
	healthy := ok && err == nil

	s.mu.Lock()
	e.nextCheck = now.Add(e.interval)
	e.lastErr = err
	if healthy {
		e.lastOK = now
		s.mu.Unlock()
		s.log.Debug("check ok", slog.String("monitor", e.name))
		return
	}
	e.failures++
	suppressed := !e.lastAlert.IsZero() && now.Sub(e.lastAlert) < e.cooldown
	if !suppressed {
		e.lastAlert = now
	}
	alert := e.alert
	id, name := e.id, e.name
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("check errored", slog.String("monitor", name), slog.Any("err", err))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{
				Type: eventbus.MonitorCheckError,
				Time: now,
				Data: CheckErrorEvent{EntryID: id, Name: name, Time: now, Error: err.Error()},
			})
		}
	}
	if suppressed {
		s.log.Debug("alert suppressed by cooldown", slog.String("monitor", name))
		return
	}

	reason := "check returned unhealthy"
	if err != nil {
		reason = err.Error()
	}
	s.log.Warn("alert fired", slog.String("monitor", name), slog.String("reason", reason))
	if alert != nil {
		alertSafe(ctx, alert, s.log, name)
	}
	a := Alert{EntryID: id, Name: name, Time: now, Reason: reason}
	s.appendAlert(a)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.MonitorAlert, Time: now, Data: AlertEvent(a)})
	}
}

func (s *Service) appendAlert(a Alert) {
	s.amu.Lock()
	defer s.amu.Unlock()
	s.alerts = append(s.alerts, a)
	if len(s.alerts) > maxAlertLog {
		s.alerts = s.alerts[len(s.alerts)-maxAlertLog:]
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	entries := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, infoOf(e))
	}
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.running, Entries: entries}
	s.mu.Unlock()

	s.amu.Lock()
	snap.Alerts = append([]Alert(nil), s.alerts...)
	s.amu.Unlock()
	return snap
}

func infoOf(e *entry) EntryInfo {
	info := EntryInfo{
		ID:        e.id,
		Name:      e.name,
		Interval:  e.interval,
		Cooldown:  e.cooldown,
		NextCheck: e.nextCheck,
		LastOK:    e.lastOK,
		LastAlert: e.lastAlert,
		Failures:  e.failures,
	}
	if e.lastErr != nil {
		info.LastError = e.lastErr.Error()
	}
	return info
}

// checkSafe contains check panics; a panicking check reports as a failed
// check, never kills the loop.
func checkSafe(ctx context.Context, fn CheckFunc) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func alertSafe(ctx context.Context, fn AlertFunc, log *slog.Logger, name string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("alert action panicked", slog.String("monitor", name), slog.Any("panic", r))
		}
	}()
	fn(ctx)
}
