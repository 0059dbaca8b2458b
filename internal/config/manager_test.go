package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  tick: 1s
  timezone: UTC
monitor:
  enabled: true
  default_cooldown: 5m
notifier:
  workers: 2
  rate_per_sec: 3
channels:
  - type: slack
    name: ops
    webhook_url: https://hooks.example.com/T/B
monitors:
  - name: website
    check:
      type: http
      url: https://example.com/health
      timeout: 5s
    interval: 30s
    cooldown: 10m
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.Timezone != "UTC" {
		t.Fatalf("scheduler section mismatch: %+v", cfg.Scheduler)
	}
	if len(cfg.Channels) != 1 || cfg.Channels[0].Name != "ops" {
		t.Fatalf("channels mismatch: %+v", cfg.Channels)
	}
	if len(cfg.Monitors) != 1 || cfg.Monitors[0].Check.Type != "http" {
		t.Fatalf("monitors mismatch: %+v", cfg.Monitors)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"schedular": {"enabled": true}}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}

	path = writeConfig(t, "config2.json",
		`{"channels": [{"type": "slack", "webook_url": "x"}]}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown channel key")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "500ms", want: 500 * time.Millisecond},
		{raw: "2m", want: 2 * time.Minute},
		{raw: "-1s", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("test.field", tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDurationField(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDurationField(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"scheduler": {"enabled": true}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	cfg := &Config{Scheduler: SchedulerConfig{Enabled: false}}
	m.Commit(cfg)
	m.publish(cfg)

	select {
	case got := <-sub:
		if got.Scheduler.Enabled {
			t.Fatal("expected updated config")
		}
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}
}
