package logging

import (
	"context"
	"log/slog"
	"time"
)

// LogCallback receives every buffered entry. main uses it to put log lines on
// the event bus without this package importing events.
type LogCallback func(entry LogEntry)

// BufferHandler records entries into the package ring buffer and hands them
// to the registered LogCallback. The sink is resolved per record, so loggers
// created before Initialize start recording once it runs.
type BufferHandler struct {
	level  slog.Leveler
	attrs  []scopedAttr
	prefix string
}

// scopedAttr is an attribute added through WithAttrs together with the
// group path that was open at the time.
type scopedAttr struct {
	prefix string
	attr   slog.Attr
}

func appendScoped(dst []scopedAttr, prefix string, attrs []slog.Attr) []scopedAttr {
	out := make([]scopedAttr, len(dst), len(dst)+len(attrs))
	copy(out, dst)
	for _, a := range attrs {
		out = append(out, scopedAttr{prefix: prefix, attr: a})
	}
	return out
}

// NewBufferHandler creates a buffer handler at the given level.
func NewBufferHandler(level slog.Leveler) *BufferHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &BufferHandler{level: level}
}

func (h *BufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *BufferHandler) Handle(_ context.Context, r slog.Record) error {
	buffer, callback := currentSink()
	if buffer == nil && callback == nil {
		return nil
	}

	entry := LogEntry{
		Timestamp:  r.Time,
		Level:      levelToString(r.Level),
		Module:     "app",
		Message:    r.Message,
		Attributes: make(map[string]any),
	}
	collect := func(prefix string, a slog.Attr) {
		if a.Key == "module" && prefix == "" {
			entry.Module = a.Value.String()
			return
		}
		flattenAttr(entry.Attributes, prefix, a)
	}
	for _, sa := range h.attrs {
		collect(sa.prefix, sa.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(h.prefix, a)
		return true
	})

	if buffer != nil {
		entry = buffer.Write(entry)
	}
	if callback != nil {
		callback(entry)
	}
	return nil
}

func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = appendScoped(h.attrs, h.prefix, attrs)
	return &next
}

func (h *BufferHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// flattenAttr stores a under its dotted group path, with values the JSON
// encoder of the log stream can render.
func flattenAttr(attrs map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	switch a.Value.Kind() {
	case slog.KindGroup:
		inner := prefix
		if a.Key != "" {
			inner += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			flattenAttr(attrs, inner, ga)
		}
	case slog.KindTime:
		attrs[prefix+a.Key] = a.Value.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		attrs[prefix+a.Key] = a.Value.Duration().String()
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			attrs[prefix+a.Key] = err.Error()
			return
		}
		attrs[prefix+a.Key] = a.Value.Any()
	default:
		attrs[prefix+a.Key] = a.Value.Any()
	}
}

func levelToString(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
