// Package workflow executes ordered sequences of named steps, threading each
// step's return value into the next.
//
// Unlike the scheduler's catch-and-continue policy, execution here is
// fail-fast: later steps are assumed to depend on earlier output, so the
// first failure halts the run and is surfaced to the caller with the step
// name attached. Partial results stay inspectable on the returned Run.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"autoflow/internal/eventbus"
)

// StepFunc is one unit of work in a workflow. It receives the previous
// step's output (the initial input for the first step) and returns the
// input for the next.
type StepFunc func(ctx context.Context, input any) (any, error)

type step struct {
	name string
	fn   StepFunc
}

// Workflow is an ordered sequence of named steps. Step order is fixed at
// registration time and never reordered during a run. Registration is not
// safe concurrently with Execute; callers register before executing.
type Workflow struct {
	name string
	log  *slog.Logger
	bus  eventbus.Bus

	mu    sync.Mutex
	steps []step
	vars  map[string]any
}

type Option func(*options)

type options struct {
	log *slog.Logger
	bus eventbus.Bus
}

func WithLogger(log *slog.Logger) Option { return func(o *options) { o.log = log } }
func WithBus(b eventbus.Bus) Option      { return func(o *options) { o.bus = b } }

func New(name string, opts ...Option) *Workflow {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return &Workflow{name: name, log: o.log, bus: o.bus, vars: map[string]any{}}
}

func (w *Workflow) Name() string { return w.name }

// AddStep appends a step. Steps cannot be removed or reordered.
func (w *Workflow) AddStep(name string, fn StepFunc) error {
	if fn == nil {
		return fmt.Errorf("workflow %q: step %q func is nil", w.name, name)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.steps = append(w.steps, step{name: name, fn: fn})
	return nil
}

// SetVar stores a named value shared across runs; steps read it via Run.Vars.
func (w *Workflow) SetVar(key string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.vars[key] = value
}

func (w *Workflow) Var(key string) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.vars[key]
	return v, ok
}

// Execute runs all steps strictly in registration order, single-threaded.
// It always returns the full Run: completed step results plus the failure
// point if any, never just the last value.
func (w *Workflow) Execute(ctx context.Context, initial any) *Run {
	w.mu.Lock()
	steps := append([]step(nil), w.steps...)
	vars := make(map[string]any, len(w.vars))
	for k, v := range w.vars {
		vars[k] = v
	}
	w.mu.Unlock()

	run := execute(ctx, w.name, steps, initial)
	run.Vars = vars

	w.finish(run, len(steps))
	return run
}

func (w *Workflow) finish(run *Run, total int) {
	if run.Failed() {
		w.log.Warn("workflow failed",
			slog.String("workflow", run.Name),
			slog.String("run", run.ID),
			slog.Int("completed", len(run.Steps)),
			slog.Int("total", total),
			slog.Any("err", run.Err))
	} else {
		w.log.Debug("workflow completed",
			slog.String("workflow", run.Name),
			slog.String("run", run.ID),
			slog.Duration("took", run.Duration()))
	}
	if w.bus != nil {
		ev := RunEvent{
			ID:       run.ID,
			Name:     run.Name,
			Status:   run.Status,
			Steps:    len(run.Steps),
			Duration: run.Duration(),
		}
		if run.Err != nil {
			ev.Error = run.Err.Error()
		}
		w.bus.Publish(eventbus.Event{Type: eventbus.WorkflowCompleted, Time: run.Finished, Data: ev})
	}
}

// execute is the shared engine behind Workflow and Pipeline.
func execute(ctx context.Context, name string, steps []step, initial any) *Run {
	run := &Run{
		ID:      uuid.NewString(),
		Name:    name,
		Started: time.Now(),
		Status:  StatusOK,
		Output:  initial,
	}

	current := initial
	for _, st := range steps {
		start := time.Now()
		out, err := callStep(ctx, st.fn, current)
		took := time.Since(start)

		if err != nil {
			run.Steps = append(run.Steps, StepResult{Name: st.name, Err: err, Duration: took})
			run.Status = StatusFailed
			run.Err = &StepError{Step: st.name, Err: err}
			break
		}
		run.Steps = append(run.Steps, StepResult{Name: st.name, Output: out, Duration: took})
		current = out
		run.Output = out
	}

	run.Finished = time.Now()
	return run
}

// callStep contains step panics so a panicking callable reports as a normal
// step failure instead of unwinding through the engine.
func callStep(ctx context.Context, fn StepFunc, input any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, input)
}
