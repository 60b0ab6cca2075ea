package isolate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/kode4food/conduit/pkg/api"
)

type (
	// Console captures output written by a handler and forwards it to the
	// orchestrator as console messages
	Console struct {
		emit func(api.LogKind, string)
	}

	consoleHandler struct {
		console *Console
		attrs   []slog.Attr
		group   string
	}
)

func (c *Console) Log(args ...any)   { c.emit(api.LogLog, formatArgs(args)) }
func (c *Console) Info(args ...any)  { c.emit(api.LogInfo, formatArgs(args)) }
func (c *Console) Warn(args ...any)  { c.emit(api.LogWarn, formatArgs(args)) }
func (c *Console) Debug(args ...any) { c.emit(api.LogDebug, formatArgs(args)) }
func (c *Console) Error(args ...any) { c.emit(api.LogError, formatArgs(args)) }

// Trace writes args followed by the current goroutine stack at debug level
func (c *Console) Trace(args ...any) {
	msg := formatArgs(args)
	c.emit(api.LogDebug, strings.TrimSpace(msg+"\n"+string(debug.Stack())))
}

// Printf writes a formatted line at log level
func (c *Console) Printf(format string, args ...any) {
	c.emit(api.LogLog, fmt.Sprintf(format, args...))
}

func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = formatArg(a)
	}
	return strings.Join(parts, " ")
}

func formatArg(a any) string {
	switch v := a.(type) {
	case string:
		return v
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	case nil:
		return "null"
	}
	if data, err := json.Marshal(a); err == nil {
		return string(data)
	}
	return fmt.Sprint(a)
}

func (h *consoleHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(r.Message)
	write := func(a slog.Attr) {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&sb, " %s=%s", key, a.Value.Resolve().String())
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})
	h.console.emit(levelKind(r.Level), sb.String())
	return nil
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	res := *h
	res.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &res
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	res := *h
	if res.group != "" {
		name = res.group + "." + name
	}
	res.group = name
	return &res
}

func levelKind(l slog.Level) api.LogKind {
	switch {
	case l >= slog.LevelError:
		return api.LogError
	case l >= slog.LevelWarn:
		return api.LogWarn
	case l >= slog.LevelInfo:
		return api.LogInfo
	default:
		return api.LogDebug
	}
}
