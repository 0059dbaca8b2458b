// Package logx is a small structured-logging facade over zerolog.
//
// The core services log through log/slog (see internal/logging); logx exists
// for the leaf packages that must not depend on the logging service itself
// (config manager, storage drivers) and for bootstrap output before the
// service is up. The zero value is a safe no-op logger.
package logx
