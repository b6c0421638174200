// Package logging configures structured slog output for dirindex.
// Without --debug, logs go to stderr only. With --debug, JSON logs are
// also written to ~/.dirindex/logs/server.log with size-based rotation.
package logging
