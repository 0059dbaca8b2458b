package storage

import (
	"context"
	"fmt"
	"strings"

	logx "autoflow/pkg/logx"
)

// Store is the minimal persistence API used by the app layer.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	AppendAlert(ctx context.Context, a AlertRecord) error
	Close() error
}

// Open initializes the store named by cfg.Driver. An empty or "none"
// driver means persistence is off; Open then returns (nil, nil) and the
// caller skips the sink entirely.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
