package monitor

import (
	"context"
	"errors"
	"time"
)

// ErrConfig marks registrations rejected for invalid parameters. The entry
// is not added; check with errors.Is.
var ErrConfig = errors.New("invalid monitor entry")

// CheckFunc reports whether the monitored resource is healthy. Returning an
// error counts as a failed check: inability to verify health is treated as
// unhealthy.
type CheckFunc func(ctx context.Context) (bool, error)

// AlertFunc is the action fired when a failing check is outside its
// cooldown window.
type AlertFunc func(ctx context.Context)

type Config struct {
	Enabled         bool
	Tick            time.Duration
	DefaultCooldown time.Duration
}

type entry struct {
	id       string
	name     string
	check    CheckFunc
	alert    AlertFunc
	interval time.Duration
	cooldown time.Duration

	nextCheck time.Time
	lastOK    time.Time
	lastAlert time.Time
	lastErr   error
	failures  uint64
}

// EntryInfo is a read-only snapshot of one registered entry.
type EntryInfo struct {
	ID        string
	Name      string
	Interval  time.Duration
	Cooldown  time.Duration
	NextCheck time.Time
	LastOK    time.Time
	LastAlert time.Time
	LastError string
	Failures  uint64
}

// Alert is one fired alert, kept in the in-memory alert log.
type Alert struct {
	EntryID string
	Name    string
	Time    time.Time
	Reason  string
}

// AlertEvent is the eventbus payload for monitor.alert.
type AlertEvent Alert

// CheckErrorEvent is the eventbus payload for monitor.check_error.
type CheckErrorEvent struct {
	EntryID string
	Name    string
	Time    time.Time
	Error   string
}

type Snapshot struct {
	Enabled bool
	Running bool
	Entries []EntryInfo
	Alerts  []Alert
}
