package app

import (
	"fmt"
	"strings"
	"time"

	"autoflow/internal/config"
	"autoflow/internal/logging"
	"autoflow/internal/monitor"
	"autoflow/internal/notify"
	"autoflow/internal/scheduler"
	"autoflow/internal/storage"
)

func mapLoggingConfig(cfg config.LoggingConfig) logging.Config {
	return logging.Config{
		Level:   cfg.Level,
		Console: cfg.Console,
		File: logging.FileConfig{
			Enabled: cfg.File.Enabled,
			Path:    cfg.File.Path,
		},
		Notify: logging.NotifyConfig{
			Enabled:    cfg.Notify.Enabled,
			MinLevel:   cfg.Notify.MinLevel,
			RatePerSec: cfg.Notify.RatePerSec,
		},
	}
}

func mapSchedulerConfig(cfg config.SchedulerConfig) (scheduler.Config, error) {
	tick, err := config.ParseDurationOrDefault("scheduler.tick", cfg.Tick, time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	if cfg.HistorySize < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.history_size must be >= 0")
	}
	history := cfg.HistorySize
	if history == 0 {
		history = 200
	}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{
		Enabled:     cfg.Enabled,
		Tick:        tick,
		Timezone:    cfg.Timezone,
		HistorySize: history,
	}, nil
}

func mapMonitorConfig(cfg config.MonitorConfig) (monitor.Config, error) {
	tick, err := config.ParseDurationOrDefault("monitor.tick", cfg.Tick, time.Second)
	if err != nil {
		return monitor.Config{}, err
	}
	cooldown, err := config.ParseDurationOrDefault("monitor.default_cooldown", cfg.DefaultCooldown, 5*time.Minute)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		Enabled:         cfg.Enabled,
		Tick:            tick,
		DefaultCooldown: cooldown,
	}, nil
}

func mapNotifierConfig(cfg config.NotifierConfig) (notify.Config, error) {
	// Omitted section means enabled; the dispatcher applies its own
	// worker/queue defaults.
	enabled := true
	if cfg.Enabled != nil {
		enabled = *cfg.Enabled
	}
	retryBase, err := config.ParseDurationField("notifier.retry_base", cfg.RetryBase)
	if err != nil {
		return notify.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notifier.retry_max_delay", cfg.RetryMaxDelay)
	if err != nil {
		return notify.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("notifier.dedup_window", cfg.DedupWindow)
	if err != nil {
		return notify.Config{}, err
	}
	if cfg.Workers < 0 || cfg.QueueSize < 0 || cfg.RatePerSec < 0 || cfg.RetryMax < 0 || cfg.DedupMaxEntries < 0 {
		return notify.Config{}, fmt.Errorf("notifier: counts must be >= 0")
	}
	return notify.Config{
		Enabled:         enabled,
		Workers:         cfg.Workers,
		QueueSize:       cfg.QueueSize,
		RatePerSec:      cfg.RatePerSec,
		RetryMax:        cfg.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: cfg.DedupMaxEntries,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// validateChannelConfig checks a channel declaration without constructing
// the transport (construction may touch the network).
func validateChannelConfig(cfg config.ChannelConfig) error {
	switch cfg.Type {
	case "email":
		if cfg.Host == "" || cfg.Port <= 0 {
			return fmt.Errorf("channel %q: host and port are required", channelName(cfg))
		}
		if len(cfg.To) == 0 {
			return fmt.Errorf("channel %q: at least one recipient is required", channelName(cfg))
		}
	case "sendgrid":
		if cfg.APIKey == "" || cfg.From == "" || len(cfg.To) == 0 {
			return fmt.Errorf("channel %q: api_key, from and to are required", channelName(cfg))
		}
	case "slack":
		if cfg.WebhookURL == "" {
			return fmt.Errorf("channel %q: webhook_url is required", channelName(cfg))
		}
	case "webhook":
		if cfg.WebhookURL == "" {
			return fmt.Errorf("channel %q: webhook_url is required", channelName(cfg))
		}
	case "telegram":
		if strings.TrimSpace(cfg.BotToken) == "" || cfg.ChatID == 0 {
			return fmt.Errorf("channel %q: bot_token and chat_id are required", channelName(cfg))
		}
	default:
		return fmt.Errorf("unknown channel type %q", cfg.Type)
	}
	return nil
}

func buildChannel(cfg config.ChannelConfig) (notify.Channel, error) {
	if err := validateChannelConfig(cfg); err != nil {
		return nil, err
	}
	name := channelName(cfg)
	switch cfg.Type {
	case "email":
		return notify.NewEmail(name, cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.From, cfg.To)
	case "sendgrid":
		return notify.NewSendGrid(name, cfg.APIKey, cfg.From, cfg.To)
	case "slack":
		return notify.NewSlack(name, cfg.WebhookURL, cfg.Username, cfg.IconEmoji)
	case "webhook":
		return notify.NewWebhook(name, cfg.WebhookURL)
	case "telegram":
		return notify.NewTelegram(name, cfg.BotToken, cfg.ChatID)
	default:
		return nil, fmt.Errorf("unknown channel type %q", cfg.Type)
	}
}

func channelName(cfg config.ChannelConfig) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return cfg.Type
}

// monitorEntrySpec is a validated config-declared monitor, ready to
// register.
type monitorEntrySpec struct {
	name     string
	interval time.Duration
	cooldown time.Duration

	check config.CheckConfig

	alertTitle    string
	alertBody     string
	alertPriority int
}

func mapMonitorEntry(cfg config.MonitorEntryConfig) (monitorEntrySpec, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return monitorEntrySpec{}, fmt.Errorf("monitor entry: name is required")
	}
	interval, err := config.ParseDurationField("monitors."+cfg.Name+".interval", cfg.Interval)
	if err != nil {
		return monitorEntrySpec{}, err
	}
	if interval <= 0 {
		return monitorEntrySpec{}, fmt.Errorf("monitors.%s.interval must be > 0", cfg.Name)
	}
	cooldown, err := config.ParseDurationField("monitors."+cfg.Name+".cooldown", cfg.Cooldown)
	if err != nil {
		return monitorEntrySpec{}, err
	}

	title := cfg.AlertTitle
	if title == "" {
		title = fmt.Sprintf("monitor %s failing", cfg.Name)
	}
	priority := cfg.AlertPriority
	if priority == 0 {
		priority = 7
	}
	return monitorEntrySpec{
		name:          cfg.Name,
		interval:      interval,
		cooldown:      cooldown,
		check:         cfg.Check,
		alertTitle:    title,
		alertBody:     cfg.AlertBody,
		alertPriority: priority,
	}, nil
}
