package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is the persisted summary of one workflow/pipeline run.
// Keep it compact and schema-stable.
type RunRecord struct {
	At         time.Time
	RunID      string
	Name       string
	Status     string
	Steps      int
	DurationMS int64
	Error      string
}

// AlertRecord is one fired monitor alert.
type AlertRecord struct {
	At      time.Time
	EntryID string
	Name    string
	Reason  string
}
