// Package logging assembles the structured slog loggers shared by telecine
// services.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and provides context-aware helpers so worker code automatically
// tags log lines with file IDs, job IDs, and correlation IDs. A no-op logger
// is available for tests and wiring code that cannot fail.
package logging
