// Package logging assembles the structured slog loggers shared by every
// medley component.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes attribute helpers so daemon code tags log lines
// with engine IDs, media paths, and component names in a uniform shape.
// A no-op logger is provided for tests and wiring code that cannot fail.
package logging
