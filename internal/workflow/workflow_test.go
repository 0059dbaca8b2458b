package workflow

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExecuteThreadsOutputs(t *testing.T) {
	t.Parallel()
	w := New("greeting")
	mustAddStep(t, w, "upper", func(ctx context.Context, in any) (any, error) {
		return strings.ToUpper(in.(string)), nil
	})
	mustAddStep(t, w, "bang", func(ctx context.Context, in any) (any, error) {
		return in.(string) + "!", nil
	})

	run := w.Execute(context.Background(), "hello")
	if run.Failed() {
		t.Fatalf("unexpected failure: %v", run.Err)
	}
	if run.Output != "HELLO!" {
		t.Fatalf("Output = %v, want HELLO!", run.Output)
	}
	if len(run.Steps) != 2 {
		t.Fatalf("got %d step results, want 2", len(run.Steps))
	}
	if run.Steps[0].Output != "HELLO" {
		t.Fatalf("intermediate output = %v, want HELLO", run.Steps[0].Output)
	}
	if run.ID == "" {
		t.Fatal("expected run ID")
	}
}

func TestExecuteFailFast(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	var thirdRan bool

	w := New("failing")
	mustAddStep(t, w, "s1", func(ctx context.Context, in any) (any, error) {
		return 42, nil
	})
	mustAddStep(t, w, "s2", func(ctx context.Context, in any) (any, error) {
		return nil, boom
	})
	mustAddStep(t, w, "s3", func(ctx context.Context, in any) (any, error) {
		thirdRan = true
		return nil, nil
	})

	run := w.Execute(context.Background(), nil)

	if !run.Failed() {
		t.Fatal("expected failed run")
	}
	if thirdRan {
		t.Fatal("step after failure must not run")
	}
	// s1's output and s2's failure are both recorded; no entry for s3.
	if len(run.Steps) != 2 {
		t.Fatalf("got %d step results, want 2", len(run.Steps))
	}
	if run.Steps[0].Output != 42 {
		t.Fatalf("s1 output = %v, want 42", run.Steps[0].Output)
	}
	if run.Steps[1].Err == nil {
		t.Fatal("s2 must be marked failed")
	}

	var stepErr *StepError
	if !errors.As(run.Err, &stepErr) {
		t.Fatalf("Run.Err = %T, want *StepError", run.Err)
	}
	if stepErr.Step != "s2" {
		t.Fatalf("failing step = %q, want s2", stepErr.Step)
	}
	if !errors.Is(run.Err, boom) {
		t.Fatal("StepError must wrap the step's error")
	}
}

func TestExecutePanicBecomesStepFailure(t *testing.T) {
	t.Parallel()
	w := New("panicky")
	mustAddStep(t, w, "explode", func(ctx context.Context, in any) (any, error) {
		panic("kaboom")
	})

	run := w.Execute(context.Background(), nil)
	if !run.Failed() {
		t.Fatal("expected failed run")
	}
	if !strings.Contains(run.Err.Error(), "kaboom") {
		t.Fatalf("expected panic payload in error, got %v", run.Err)
	}
}

func TestVariablesVisibleToRun(t *testing.T) {
	t.Parallel()
	w := New("vars")
	w.SetVar("region", "eu-west-1")
	mustAddStep(t, w, "noop", func(ctx context.Context, in any) (any, error) { return in, nil })

	run := w.Execute(context.Background(), nil)
	if run.Vars["region"] != "eu-west-1" {
		t.Fatalf("Vars = %v, missing region", run.Vars)
	}
	if v, ok := w.Var("region"); !ok || v != "eu-west-1" {
		t.Fatal("Var lookup failed")
	}
}

func TestEmptyWorkflowSucceeds(t *testing.T) {
	t.Parallel()
	run := New("empty").Execute(context.Background(), "seed")
	if run.Failed() || run.Output != "seed" {
		t.Fatalf("empty run: status=%v output=%v", run.Status, run.Output)
	}
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()
	w := New("json")
	mustAddStep(t, w, "s1", func(ctx context.Context, in any) (any, error) { return "done", nil })
	run := w.Execute(context.Background(), nil)

	var buf bytes.Buffer
	if err := run.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"name": "json"`, `"status": "ok"`, `"output": "done"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("JSON missing %s:\n%s", want, out)
		}
	}
}

func mustAddStep(t *testing.T, w *Workflow, name string, fn StepFunc) {
	t.Helper()
	if err := w.AddStep(name, fn); err != nil {
		t.Fatalf("AddStep(%s): %v", name, err)
	}
}
