// Package log provides slog constructors and attribute helpers shared by the
// engine, the HTTP server, and the trace store
package log
