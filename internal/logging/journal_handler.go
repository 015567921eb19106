package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

// Attributes promoted to LIVECAST_* journal fields so a single stream can be
// followed with e.g. journalctl LIVECAST_PODCAST_ID=pod_42.
var indexedAttrs = map[string]string{
	"podcast_id": "LIVECAST_PODCAST_ID",
	"stream_id":  "LIVECAST_STREAM_ID",
	"request_id": "LIVECAST_REQUEST_ID",
	"module":     "LIVECAST_MODULE",
}

// JournalHandler is a slog.Handler that sends logs to the systemd journal.
type JournalHandler struct {
	level  slog.Leveler
	attrs  []scopedAttr
	prefix string
}

// NewJournalHandler creates a journal handler gated by level.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &JournalHandler{level: level}
}

func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	priority := mapLevelToPriority(r.Level)
	fields := journalFields(h.prefix, h.attrs, r)
	fields["PRIORITY"] = strconv.Itoa(int(priority))
	fields["SYSLOG_IDENTIFIER"] = Identifier

	if err := journal.Send(r.Message, priority, fields); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to send to journal: %v\n", err)
		return err
	}
	return nil
}

func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = appendScoped(h.attrs, h.prefix, attrs)
	return &next
}

func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + journalKey(name) + "_"
	return &next
}

// journalFields flattens handler and record attributes into journal fields.
func journalFields(prefix string, attrs []scopedAttr, r slog.Record) map[string]string {
	fields := make(map[string]string, len(attrs)+r.NumAttrs()+2)
	for _, sa := range attrs {
		addJournalField(fields, sa.prefix, sa.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		addJournalField(fields, prefix, a)
		return true
	})
	return fields
}

func addJournalField(fields map[string]string, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if attr.Value.Kind() == slog.KindGroup {
		inner := prefix
		if attr.Key != "" {
			inner += journalKey(attr.Key) + "_"
		}
		for _, a := range attr.Value.Group() {
			addJournalField(fields, inner, a)
		}
		return
	}

	value := journalValue(attr.Value)
	if prefix == "" {
		if indexed, ok := indexedAttrs[attr.Key]; ok {
			fields[indexed] = value
			return
		}
	}
	if key := prefix + journalKey(attr.Key); key != "" {
		fields[key] = value
	}
}

// journalKey converts an attribute key to a valid journal field name:
// uppercase ASCII letters, digits and underscores, not starting with an
// underscore or digit.
func journalKey(key string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(key) {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), "_0123456789")
}

func journalValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	default:
		return v.String()
	}
}

func mapLevelToPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// IsJournalAvailable reports whether the systemd journal socket is reachable.
func IsJournalAvailable() bool {
	return journal.Enabled()
}
