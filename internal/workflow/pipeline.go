package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"autoflow/internal/eventbus"
)

// StageFunc transforms the carried value of a pipeline.
type StageFunc = StepFunc

// Pipeline is the data-transform variant of Workflow: an ordered sequence
// of stages applied to one evolving value. It shares the same execution
// engine and failure policy (fail-fast, partial results inspectable).
type Pipeline struct {
	name string
	log  *slog.Logger
	bus  eventbus.Bus

	mu     sync.Mutex
	stages []step
}

func NewPipeline(name string, opts ...Option) *Pipeline {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return &Pipeline{name: name, log: o.log, bus: o.bus}
}

func (p *Pipeline) Name() string { return p.name }

// AddStage appends a stage. Stage order is execution order.
func (p *Pipeline) AddStage(name string, fn StageFunc) error {
	if fn == nil {
		return fmt.Errorf("pipeline %q: stage %q func is nil", p.name, name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, step{name: name, fn: fn})
	return nil
}

// Execute applies every stage to the carried value in order. The returned
// Run records each intermediate value; Run.Output is the final value.
func (p *Pipeline) Execute(ctx context.Context, initial any) *Run {
	p.mu.Lock()
	stages := append([]step(nil), p.stages...)
	p.mu.Unlock()

	run := execute(ctx, p.name, stages, initial)

	if run.Failed() {
		p.log.Warn("pipeline failed",
			slog.String("pipeline", run.Name),
			slog.String("run", run.ID),
			slog.Any("err", run.Err))
	} else {
		p.log.Debug("pipeline completed",
			slog.String("pipeline", run.Name),
			slog.String("run", run.ID),
			slog.Duration("took", run.Duration()))
	}
	if p.bus != nil {
		ev := RunEvent{ID: run.ID, Name: run.Name, Status: run.Status, Steps: len(run.Steps), Duration: run.Duration()}
		if run.Err != nil {
			ev.Error = run.Err.Error()
		}
		p.bus.Publish(eventbus.Event{Type: eventbus.WorkflowCompleted, Time: run.Finished, Data: ev})
	}
	return run
}
