//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	logx "autoflow/pkg/logx"
)

// Stub when the binary is built without the sqlite tag; the file driver
// stays available.
func openSQLite(Config, logx.Logger) (Store, error) {
	return nil, errors.New("sqlite driver unavailable: rebuild with -tags sqlite")
}
