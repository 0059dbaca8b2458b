package workflow

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Status is the final outcome of a run.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// StepError identifies the step that halted a run.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// StepResult records one executed step. Output holds the step's return
// value on success; Err is set when the step failed (and halted the run).
type StepResult struct {
	Name     string
	Output   any
	Err      error
	Duration time.Duration
}

// Run is the full record of one Execute call. It is owned by the caller;
// the engine never retains it. Steps that were never reached have no entry.
type Run struct {
	ID       string
	Name     string
	Started  time.Time
	Finished time.Time
	Steps    []StepResult
	Status   Status

	// Output is the last successful step's return value.
	Output any

	// Err is a *StepError naming the failing step, nil on success.
	Err error

	// Vars is a snapshot of the workflow's variables at execution time.
	Vars map[string]any
}

func (r *Run) Failed() bool { return r.Status == StatusFailed }

// Duration is the wall time of the whole run.
func (r *Run) Duration() time.Duration { return r.Finished.Sub(r.Started) }

type runJSON struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Steps    []stepJSON    `json:"steps"`
	Duration time.Duration `json:"duration_ns"`
}

type stepJSON struct {
	Name     string        `json:"name"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// WriteJSON serializes the run for operators; step outputs are stringified
// because they are arbitrary caller values.
func (r *Run) WriteJSON(w io.Writer) error {
	out := runJSON{
		ID:       r.ID,
		Name:     r.Name,
		Started:  r.Started,
		Finished: r.Finished,
		Status:   r.Status,
		Duration: r.Duration(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	for _, s := range r.Steps {
		sj := stepJSON{Name: s.Name, Duration: s.Duration}
		if s.Output != nil {
			sj.Output = fmt.Sprint(s.Output)
		}
		if s.Err != nil {
			sj.Error = s.Err.Error()
		}
		out.Steps = append(out.Steps, sj)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// RunEvent is the eventbus payload for workflow.completed.
type RunEvent struct {
	ID       string
	Name     string
	Status   Status
	Steps    int
	Duration time.Duration
	Error    string
}
