package storage

// Package storage persists execution history that outlives the process:
//
//   - workflow run summaries
//   - fired monitor alerts
//
// Schedules themselves are never persisted; jobs are re-registered on
// startup.
