package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrConfig marks registration-time rejections (bad interval, malformed
// time-of-day, invalid cron spec). The job is not added.
var ErrConfig = errors.New("invalid schedule")

// JobFunc is one unit of recurring work. A returned error (or panic) is
// recorded on the job and the job is retried at its next due time.
type JobFunc func(ctx context.Context) error

// Unit names an interval granularity for AddTask.
type Unit string

const (
	Seconds Unit = "seconds"
	Minutes Unit = "minutes"
	Hours   Unit = "hours"
	Days    Unit = "days"
	Weeks   Unit = "weeks"
)

// Config controls the scheduler loop.
type Config struct {
	Enabled     bool
	Tick        time.Duration // due-scan granularity; default 1s
	Timezone    string        // IANA TZ for daily/weekly/cron jobs; empty = Local
	HistorySize int
}

// job is the scheduler-owned record for one registered callable.
//
// Exactly one of every/sched is set: fixed-interval jobs advance NextRun by
// arithmetic (drift-free), calendar jobs ask the cron schedule.
type job struct {
	id   string
	name string
	run  JobFunc

	every time.Duration
	sched cron.Schedule
	spec  string

	nextRun time.Time
	lastRun time.Time
	lastErr error
}

// JobInfo is a point-in-time snapshot of a job, for callers to inspect.
type JobInfo struct {
	ID        string
	Name      string
	Spec      string
	NextRun   time.Time
	LastRun   time.Time
	LastError string
}

type HistoryItem struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// JobEvent is the eventbus payload for job.ok / job.failed.
type JobEvent struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// Snapshot is a point-in-time view of the whole scheduler.
type Snapshot struct {
	Enabled  bool
	Running  bool
	Timezone string
	Jobs     []JobInfo
	History  []HistoryItem
}
