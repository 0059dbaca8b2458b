package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Monitor controls the health-check loop defaults.
	Monitor MonitorConfig `json:"monitor"`

	// Notifier controls the async dispatch pipeline in front of the
	// channel fan-out.
	Notifier NotifierConfig `json:"notifier"`

	// Channels declares the notification transports to register at startup.
	Channels []ChannelConfig `json:"channels,omitempty"`

	// Monitors declares built-in health checks to register at startup.
	Monitors []MonitorEntryConfig `json:"monitors,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`

	// Notify forwards WARN+ records through the notification dispatcher,
	// rate limited so a log storm cannot flood the channels.
	Notify LoggingNotify `json:"notify"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingNotify struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the recurring-job loop.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Tick is the due-scan granularity. Defaults to "1s".
	Tick string `json:"tick,omitempty"`

	// Timezone anchors daily/weekly/cron schedules (IANA TZ). Empty = Local.
	Timezone string `json:"timezone,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

type MonitorConfig struct {
	Enabled bool `json:"enabled"`

	// Tick is the evaluation granularity. Defaults to "1s".
	Tick string `json:"tick,omitempty"`

	// DefaultCooldown applies to entries registered without an explicit
	// cooldown. Defaults to "5m".
	DefaultCooldown string `json:"default_cooldown,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// If the whole section is omitted, the dispatcher defaults to enabled.
type NotifierConfig struct {
	Enabled         *bool  `json:"enabled,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// ChannelConfig declares one notification transport.
//
// Type selects the transport; only the matching fields are read:
//   - "email":    Host, Port, Username, Password, From, To
//   - "sendgrid": APIKey, From, To
//   - "slack":    WebhookURL, Username, IconEmoji
//   - "webhook":  WebhookURL
//   - "telegram": BotToken, ChatID
type ChannelConfig struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"` // channel id; defaults to Type

	Host     string   `json:"host,omitempty"`
	Port     int      `json:"port,omitempty"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	From     string   `json:"from,omitempty"`
	To       []string `json:"to,omitempty"`

	APIKey string `json:"api_key,omitempty"`

	WebhookURL string `json:"webhook_url,omitempty"`
	IconEmoji  string `json:"icon_emoji,omitempty"`

	BotToken string `json:"bot_token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
}

// MonitorEntryConfig declares one built-in health check.
type MonitorEntryConfig struct {
	Name     string      `json:"name"`
	Check    CheckConfig `json:"check"`
	Interval string      `json:"interval"`           // Go duration string, > 0
	Cooldown string      `json:"cooldown,omitempty"` // defaults to monitor.default_cooldown

	// Alert message sent through the dispatcher when the check fails.
	AlertTitle    string `json:"alert_title,omitempty"`
	AlertBody     string `json:"alert_body,omitempty"`
	AlertPriority int    `json:"alert_priority,omitempty"`
}

// CheckConfig selects a built-in check (see internal/checks).
//
//   - "http":      URL, Timeout
//   - "disk":      Path, MinFreeMB
//   - "speedtest": MinDownloadMbps
type CheckConfig struct {
	Type string `json:"type"`

	URL     string `json:"url,omitempty"`
	Timeout string `json:"timeout,omitempty"`

	Path      string `json:"path,omitempty"`
	MinFreeMB int64  `json:"min_free_mb,omitempty"`

	MinDownloadMbps float64 `json:"min_download_mbps,omitempty"`
}

// StorageConfig controls the optional history persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./autoflow_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// UnmarshalJSON disallows unknown fields so typos in channel declarations
// are caught during config load instead of silently producing a dead channel.
func (c *ChannelConfig) UnmarshalJSON(b []byte) error {
	type plain ChannelConfig
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var p plain
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*c = ChannelConfig(p)
	return nil
}
