// Package logging assembles structured slog loggers and formatting helpers used
// across discarchive.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so engine code can tag log lines
// with the drive path and insertion cycle. The package also provides a no-op
// logger for tests and wiring code that cannot fail.
//
// Daemon runs write a timestamped log file per process; discarchive.log in the
// log directory always points at the newest one.
package logging
