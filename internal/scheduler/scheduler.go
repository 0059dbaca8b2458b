// Package scheduler runs a set of recurring jobs on a cooperative tick loop.
//
// Due jobs execute sequentially in registration order within one tick; a
// failing callable is recorded and retried at its next due time, never
// removed. There is no catch-up backlog: when multiple due times elapse
// unobserved (e.g. process suspension) the job fires once and its next run
// is recomputed from the current time forward.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"autoflow/internal/clock"
	"autoflow/internal/eventbus"
)

const defaultTick = time.Second

type Service struct {
	mu sync.Mutex

	log *slog.Logger
	cfg Config
	clk clock.Clock
	bus eventbus.Bus
	loc *time.Location

	parser cron.Parser
	jobs   []*job // registration order
	seq    uint64

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	hmu     sync.Mutex
	history []HistoryItem
}

// New constructs an independent scheduler. Multiple schedulers may coexist;
// there is no process-wide instance.
func New(cfg Config, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		clk:    clock.System(),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	for _, o := range opts {
		o(s)
	}
	s.loc = s.loadLocation()
	return s
}

type Option func(*Service)

// WithClock injects a clock; tests drive the loop without wall-time sleeps.
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clk = c } }

// WithBus publishes job.ok / job.failed events.
func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates hot-reloadable settings. Tick and timezone changes take
// effect on the next Start; registered jobs are unaffected.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Enabled = cfg.Enabled
	s.cfg.HistorySize = cfg.HistorySize
	if cfg.Tick > 0 {
		s.cfg.Tick = cfg.Tick
	}
	if cfg.Timezone != "" {
		s.cfg.Timezone = cfg.Timezone
	}
}

// AddTask registers a recurring job due every interval units from now.
func (s *Service) AddTask(name string, fn JobFunc, interval int, unit Unit) (string, error) {
	every, err := intervalDuration(interval, unit)
	if err != nil {
		return "", err
	}
	return s.AddEvery(name, fn, every)
}

// AddEvery registers a recurring job with a raw duration interval.
func (s *Service) AddEvery(name string, fn JobFunc, every time.Duration) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("%w: job func is nil", ErrConfig)
	}
	if every <= 0 {
		return "", fmt.Errorf("%w: interval must be > 0", ErrConfig)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &job{
		id:      s.nextIDLocked("interval"),
		name:    name,
		run:     fn,
		every:   every,
		spec:    "@every " + every.String(),
		nextRun: s.clk.Now().Add(every),
	}
	s.jobs = append(s.jobs, j)
	return j.id, nil
}

// AddDailyTask registers a job due once per day at the given local time.
func (s *Service) AddDailyTask(name string, fn JobFunc, atHHMM string) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fn, fmt.Sprintf("%d %d * * *", m, h))
}

// AddWeeklyTask registers a job due once per week at the given weekday and time.
func (s *Service) AddWeeklyTask(name string, fn JobFunc, weekday time.Weekday, atHHMM string) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fn, fmt.Sprintf("%d %d * * %d", m, h, int(weekday)))
}

// AddCron registers a job driven by a cron expression in the scheduler's
// timezone.
func (s *Service) AddCron(name string, fn JobFunc, spec string) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("%w: job func is nil", ErrConfig)
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return "", fmt.Errorf("%w: cron spec %q: %v", ErrConfig, spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &job{
		id:      s.nextIDLocked("cron"),
		name:    name,
		run:     fn,
		sched:   sched,
		spec:    spec,
		nextRun: sched.Next(s.clk.Now().In(s.loc)),
	}
	s.jobs = append(s.jobs, j)
	return j.id, nil
}

// Remove deletes a job by id. In-flight execution of the job is unaffected.
func (s *Service) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.jobs {
		if j.id == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return true
		}
	}
	return false
}

// Jobs returns a snapshot of all registered jobs in registration order.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, s.infoLocked(j))
	}
	return out
}

// Start launches the tick loop in the background. It is a no-op if already
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
	s.log.Info("scheduler started", slog.Duration("tick", tick), slog.String("tz", s.loc.String()))
}

// Stop terminates the loop after the current tick. In-flight job executions
// run to completion; Stop waits for them until ctx expires.
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
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; loop finishes in background")
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
			s.runDue(ctx)
		}
	}
}

// runDue executes every due job exactly once, sequentially, in registration
// order. Stop() never interrupts a tick in progress.
func (s *Service) runDue(ctx context.Context) {
	now := s.clk.Now()

	s.mu.Lock()
	due := make([]*job, 0)
	for _, j := range s.jobs {
		if !j.nextRun.After(now) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.execJob(ctx, j, now)
	}
}

func (s *Service) execJob(ctx context.Context, j *job, now time.Time) {
	started := s.clk.Now()
	err := runSafe(ctx, j.run)
	took := s.clk.Now().Sub(started)

	s.mu.Lock()
	j.lastRun = now
	j.lastErr = err
	if j.every > 0 {
		// Advance from the previous due time, not from completion, so
		// execution latency doesn't accumulate drift.
		next := j.nextRun.Add(j.every)
		if !next.After(now) {
			// Missed ticks: fire once, restart the cadence from now.
			next = now.Add(j.every)
		}
		j.nextRun = next
	} else {
		j.nextRun = j.sched.Next(now.In(s.loc))
	}
	s.mu.Unlock()

	item := HistoryItem{ID: j.id, Name: j.name, Started: started, Duration: took}
	evType := eventbus.JobOK
	if err != nil {
		item.Error = err.Error()
		evType = eventbus.JobFailed
		s.log.Warn("job failed", slog.String("job", j.name), slog.Any("err", err))
	} else {
		s.log.Debug("job ok", slog.String("job", j.name), slog.Duration("took", took))
	}
	s.appendHistory(item)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: evType, Time: now, Data: JobEvent(item)})
	}
}

// runSafe contains callable panics; a panicking job must not kill the loop.
func runSafe(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	jobs := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, s.infoLocked(j))
	}
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Running:  s.running,
		Timezone: s.loc.String(),
		Jobs:     jobs,
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) infoLocked(j *job) JobInfo {
	info := JobInfo{
		ID:      j.id,
		Name:    j.name,
		Spec:    j.spec,
		NextRun: j.nextRun,
		LastRun: j.lastRun,
	}
	if j.lastErr != nil {
		info.LastError = j.lastErr.Error()
	}
	return info
}

func (s *Service) appendHistory(item HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if s.cfg.HistorySize > 0 && len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
}

func (s *Service) nextIDLocked(kind string) string {
	s.seq++
	return fmt.Sprintf("%s:%d", kind, s.seq)
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", slog.String("tz", tz), slog.Any("err", err))
		return time.Local
	}
	return loc
}

func intervalDuration(interval int, unit Unit) (time.Duration, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("%w: interval must be > 0", ErrConfig)
	}
	switch unit {
	case Seconds:
		return time.Duration(interval) * time.Second, nil
	case Minutes:
		return time.Duration(interval) * time.Minute, nil
	case Hours:
		return time.Duration(interval) * time.Hour, nil
	case Days:
		return time.Duration(interval) * 24 * time.Hour, nil
	case Weeks:
		return time.Duration(interval) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: unknown unit %q", ErrConfig, unit)
	}
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: invalid time %q, expected HH:MM", ErrConfig, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("%w: invalid hour in %q", ErrConfig, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("%w: invalid minute in %q", ErrConfig, s)
	}
	return h, m, nil
}
