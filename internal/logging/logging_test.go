package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestPrettyHandlerFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, slog.LevelDebug))

	log.Info("job done", slog.String("comp", "scheduler"), slog.String("job", "backup"))

	out := buf.String()
	if !strings.Contains(out, "INF [scheduler] job done") {
		t.Fatalf("unexpected output: %q", out)
	}
	if !strings.Contains(out, `job="backup"`) {
		t.Fatalf("missing attr in output: %q", out)
	}
}

func TestPrettyHandlerLevelFilter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, slog.LevelWarn))

	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "WRN shown") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestNotifySinkForwardsWarnings(t *testing.T) {
	t.Parallel()
	svc, log := New(Config{
		Level:  "debug",
		Notify: NotifyConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	})

	var mu sync.Mutex
	var got []string
	svc.SetNotifySink(func(_ context.Context, _ slog.Level, text string) {
		mu.Lock()
		got = append(got, text)
		mu.Unlock()
	})

	log.Info("not forwarded")
	log.Warn("disk almost full", slog.String("path", "/data"))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("sink received %d messages, want 1: %v", len(got), got)
	}
	if !strings.Contains(got[0], "disk almost full") {
		t.Fatalf("unexpected sink payload: %q", got[0])
	}
}

func TestApplySwapsHandlers(t *testing.T) {
	t.Parallel()
	svc, log := New(Config{Level: "error", Console: false})
	// Bump level down via Apply; the same *slog.Logger must honor it.
	svc.Apply(Config{Level: "debug", Console: false})
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug to be enabled after Apply")
	}
}
