package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func resetState() {
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	globalConfig = Config{}
	logBuffer = nil
	logCallback = nil
	mutex.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetState()

	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"controller": "debug",
			"api":        "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"controller", true, true, true},
		{"api", false, false, true},
		{"other", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()

			gotDebug := handler.Enabled(context.Background(), slog.LevelDebug)
			gotInfo := handler.Enabled(context.Background(), slog.LevelInfo)
			gotWarn := handler.Enabled(context.Background(), slog.LevelWarn)

			if gotDebug != tt.wantDebug {
				t.Errorf("module %q: Debug enabled = %v, want %v", tt.module, gotDebug, tt.wantDebug)
			}
			if gotInfo != tt.wantInfo {
				t.Errorf("module %q: Info enabled = %v, want %v", tt.module, gotInfo, tt.wantInfo)
			}
			if gotWarn != tt.wantWarn {
				t.Errorf("module %q: Warn enabled = %v, want %v", tt.module, gotWarn, tt.wantWarn)
			}
		})
	}
}

func TestFanoutHandlerDebugOutput(t *testing.T) {
	var buf bytes.Buffer

	debugHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(newFanoutHandler(debugHandler, infoHandler)).With("module", "test")
	logger.Debug("debug only message")

	output := buf.String()
	if count := strings.Count(output, "debug only message"); count != 1 {
		t.Errorf("Expected 1 debug message, got %d. Output: %s", count, output)
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	resetState()

	loggerBefore := GetLogger("poller")
	handlerBefore := loggerBefore.Handler()

	if handlerBefore.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Logger created before Initialize should NOT have debug enabled")
	}

	Initialize(Config{
		Level:   "info",
		Format:  "text",
		Modules: map[string]string{"poller": "debug"},
	})

	// Loggers handed out earlier share the module LevelVar.
	if !handlerBefore.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Old logger should follow the module level after Initialize")
	}
	if !GetLogger("poller").Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Logger should have debug enabled after Initialize")
	}
}

func TestSetLevelsUpdatesExistingLoggers(t *testing.T) {
	resetState()
	Initialize(Config{Level: "info", Format: "text"})

	logger := GetLogger("studio")
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("Expected debug disabled at info")
	}

	SetLevels("warn", map[string]string{"studio": "debug"})
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected studio debug enabled after SetLevels")
	}
	if GetLogger("api").Handler().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Expected api to use global warn level")
	}

	SetLevels("info", nil)
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected studio back to info once override removed")
	}
}

func TestBufferHandlerRecordsAndCallsBack(t *testing.T) {
	resetState()
	Initialize(Config{Level: "debug", Format: "text"})

	var (
		mu  sync.Mutex
		got []LogEntry
	)
	SetLogCallback(func(e LogEntry) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	defer SetLogCallback(nil)

	logger := slog.New(NewBufferHandler(slog.LevelDebug)).With("module", "controller")
	logger.WithGroup("req").Info("Command accepted",
		"command", "start",
		"error", errors.New("boom"),
		"took", 150*time.Millisecond,
	)

	entries := GetBuffer().ReadAll()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Module != "controller" || e.Level != "info" || e.Message != "Command accepted" {
		t.Errorf("Unexpected entry: %+v", e)
	}
	if e.Attributes["req.command"] != "start" || e.Attributes["req.error"] != "boom" || e.Attributes["req.took"] != "150ms" {
		t.Errorf("Unexpected attributes: %v", e.Attributes)
	}
	if e.Seq == 0 {
		t.Error("Expected sequence number assigned")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Seq != e.Seq {
		t.Errorf("Expected callback with seq %d, got %+v", e.Seq, got)
	}
}

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := range 5 {
		rb.Write(LogEntry{Message: string(rune('a' + i))})
	}

	entries := rb.ReadAll()
	if rb.Count() != 3 || len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	var msgs []string
	for _, e := range entries {
		msgs = append(msgs, e.Message)
	}
	if strings.Join(msgs, "") != "cde" {
		t.Errorf("Expected oldest-first cde, got %v", msgs)
	}
	if entries[2].Seq != 5 {
		t.Errorf("Expected last seq 5, got %d", entries[2].Seq)
	}
}

func TestRingBufferSinceFiltersModule(t *testing.T) {
	rb := NewRingBuffer(4)
	for _, module := range []string{"poller", "api", "poller", "studio", "poller"} {
		rb.Write(LogEntry{Module: module})
	}

	got := rb.Since(2, "poller")
	if len(got) != 2 || got[0].Seq != 3 || got[1].Seq != 5 {
		t.Errorf("Expected poller entries 3 and 5, got %+v", got)
	}
	if all := rb.Since(0, ""); len(all) != 4 || all[0].Seq != 2 {
		t.Errorf("Expected the 4 newest entries starting at seq 2, got %+v", all)
	}
}

func TestParseLevelValues(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		isNil bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input)
			if tt.isNil {
				if got != nil {
					t.Errorf("parseLevel(%q) = %v, want nil", tt.input, *got)
				}
				return
			}
			if got == nil {
				t.Errorf("parseLevel(%q) = nil, want %v", tt.input, tt.want)
			} else if *got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, *got, tt.want)
			}
		})
	}
}

func TestJournalFields(t *testing.T) {
	r := slog.NewRecord(time.Now(), slog.LevelWarn, "poll failed", 0)
	r.AddAttrs(
		slog.String("podcast_id", "pod_42"),
		slog.String("remote-addr", "10.0.0.1"),
		slog.Group("snapshot", slog.Int("viewer_count", 12)),
		slog.Float64("ratio", 0.5),
	)

	fields := journalFields("", appendScoped(nil, "", []slog.Attr{slog.String("module", "poller")}), r)

	want := map[string]string{
		"LIVECAST_PODCAST_ID":   "pod_42",
		"LIVECAST_MODULE":       "poller",
		"REMOTE_ADDR":           "10.0.0.1",
		"SNAPSHOT_VIEWER_COUNT": "12",
		"RATIO":                 "0.5",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %s = %q, want %q (all: %v)", k, fields[k], v, fields)
		}
	}
	if _, ok := fields["PODCAST_ID"]; ok {
		t.Error("podcast_id should only appear as LIVECAST_PODCAST_ID")
	}
}

func TestJournalKey(t *testing.T) {
	tests := map[string]string{
		"stream_id": "STREAM_ID",
		"_private":  "PRIVATE",
		"9lives":    "LIVES",
		"a.b-c":     "A_B_C",
	}
	for in, want := range tests {
		if got := journalKey(in); got != want {
			t.Errorf("journalKey(%q) = %q, want %q", in, got, want)
		}
	}
}
