package app

import (
	"testing"
	"time"

	"autoflow/internal/config"
)

func TestMapSchedulerConfig(t *testing.T) {
	t.Parallel()
	got, err := mapSchedulerConfig(config.SchedulerConfig{Enabled: true, Tick: "250ms", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("mapSchedulerConfig: %v", err)
	}
	if got.Tick != 250*time.Millisecond || !got.Enabled || got.HistorySize != 200 {
		t.Fatalf("got %+v", got)
	}

	if _, err := mapSchedulerConfig(config.SchedulerConfig{Tick: "soon"}); err == nil {
		t.Fatal("bad tick accepted")
	}
	if _, err := mapSchedulerConfig(config.SchedulerConfig{Timezone: "Mars/Olympus"}); err == nil {
		t.Fatal("bad timezone accepted")
	}
}

func TestMapMonitorConfigDefaults(t *testing.T) {
	t.Parallel()
	got, err := mapMonitorConfig(config.MonitorConfig{Enabled: true})
	if err != nil {
		t.Fatalf("mapMonitorConfig: %v", err)
	}
	if got.Tick != time.Second || got.DefaultCooldown != 5*time.Minute {
		t.Fatalf("got %+v", got)
	}
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()
	// Omitted enabled flag means enabled.
	got, err := mapNotifierConfig(config.NotifierConfig{})
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if !got.Enabled {
		t.Fatal("omitted notifier section must default to enabled")
	}

	off := false
	got, err = mapNotifierConfig(config.NotifierConfig{Enabled: &off, DedupWindow: "30s"})
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if got.Enabled || got.DedupWindow != 30*time.Second {
		t.Fatalf("got %+v", got)
	}

	if _, err := mapNotifierConfig(config.NotifierConfig{RetryBase: "fast"}); err == nil {
		t.Fatal("bad retry_base accepted")
	}
	if _, err := mapNotifierConfig(config.NotifierConfig{Workers: -1}); err == nil {
		t.Fatal("negative workers accepted")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	if _, enabled, err := mapStorageConfig(&config.Config{}); err != nil || enabled {
		t.Fatalf("no storage section: enabled=%v err=%v", enabled, err)
	}

	sc, enabled, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "file", Path: "/tmp/x"}})
	if err != nil || !enabled || sc.Driver != "file" {
		t.Fatalf("file driver: %+v enabled=%v err=%v", sc, enabled, err)
	}

	if _, _, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite"}}); err == nil {
		t.Fatal("sqlite without path accepted")
	}
	if _, _, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "redis", Path: "x"}}); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestValidateChannelConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		cfg     config.ChannelConfig
		wantErr bool
	}{
		{"email ok", config.ChannelConfig{Type: "email", Host: "smtp.example.com", Port: 587, To: []string{"a@b"}}, false},
		{"email no recipients", config.ChannelConfig{Type: "email", Host: "h", Port: 25}, true},
		{"sendgrid ok", config.ChannelConfig{Type: "sendgrid", APIKey: "k", From: "a@b", To: []string{"c@d"}}, false},
		{"sendgrid no key", config.ChannelConfig{Type: "sendgrid", From: "a@b", To: []string{"c@d"}}, true},
		{"slack ok", config.ChannelConfig{Type: "slack", WebhookURL: "https://hooks.example.com"}, false},
		{"webhook no url", config.ChannelConfig{Type: "webhook"}, true},
		{"telegram ok", config.ChannelConfig{Type: "telegram", BotToken: "t", ChatID: 42}, false},
		{"telegram no chat", config.ChannelConfig{Type: "telegram", BotToken: "t"}, true},
		{"unknown", config.ChannelConfig{Type: "pigeon"}, true},
	}
	for _, tc := range cases {
		err := validateChannelConfig(tc.cfg)
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: %v", tc.name, err)
		}
	}
}

func TestMapMonitorEntry(t *testing.T) {
	t.Parallel()
	spec, err := mapMonitorEntry(config.MonitorEntryConfig{
		Name:     "site",
		Check:    config.CheckConfig{Type: "http", URL: "https://example.com"},
		Interval: "30s",
	})
	if err != nil {
		t.Fatalf("mapMonitorEntry: %v", err)
	}
	if spec.interval != 30*time.Second {
		t.Fatalf("interval = %v", spec.interval)
	}
	if spec.alertTitle != "monitor site failing" || spec.alertPriority != 7 {
		t.Fatalf("alert defaults: %+v", spec)
	}

	if _, err := mapMonitorEntry(config.MonitorEntryConfig{Check: config.CheckConfig{Type: "http"}, Interval: "1s"}); err == nil {
		t.Fatal("missing name accepted")
	}
	if _, err := mapMonitorEntry(config.MonitorEntryConfig{Name: "x", Interval: ""}); err == nil {
		t.Fatal("missing interval accepted")
	}
}
