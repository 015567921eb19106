package cmd

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/livecast/internal/sandbox"
	"github.com/smazurov/livecast/internal/sandbox/store"
)

func newSandbox(t *testing.T) string {
	t.Helper()
	s := sandbox.New(&sandbox.Options{
		Store:    store.NewTOML(filepath.Join(t.TempDir(), "sandbox.toml")),
		Warmup:   50 * time.Millisecond,
		Cooldown: 50 * time.Millisecond,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func runStream(t *testing.T, studioURL string, args ...string) (string, error) {
	t.Helper()
	cmd := CreateStreamCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	base := []string{
		"--config", filepath.Join(t.TempDir(), "missing.toml"),
		"--studio-base-url", studioURL,
		"--poll-interval", "20ms",
	}
	cmd.SetArgs(append(append([]string{args[0]}, base...), args[1:]...))
	err := cmd.Execute()
	return out.String(), err
}

func decodeProjection(t *testing.T, out string) projection {
	t.Helper()
	var p projection
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		t.Fatalf("Failed to decode output: %v\n%s", err, out)
	}
	return p
}

func TestStreamCommandsLifecycle(t *testing.T) {
	url := newSandbox(t)

	out, err := runStream(t, url, "show", "pod_1")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if p := decodeProjection(t, out); p.Stream != nil {
		t.Fatalf("Expected no stream, got %+v", p.Stream)
	}

	out, err = runStream(t, url, "create", "pod_1", "--quality", "1080p", "--language", "en,pt-br", "--auto-record")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p := decodeProjection(t, out)
	if p.Stream == nil || p.Stream.Quality != "1080p" || !p.Stream.Recording.Enabled {
		t.Fatalf("Unexpected created stream: %+v", p.Stream)
	}
	if len(p.Stream.Languages) != 2 || p.Stream.Languages[1] != "pt-BR" {
		t.Errorf("Expected canonical languages, got %v", p.Stream.Languages)
	}

	if _, err = runStream(t, url, "stop", "pod_1"); err == nil {
		t.Error("Expected stop on offline to fail")
	}

	out, err = runStream(t, url, "start", "pod_1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if p = decodeProjection(t, out); p.Stream.Status != "starting" {
		t.Errorf("Expected starting, got %s", p.Stream.Status)
	}

	time.Sleep(80 * time.Millisecond)
	if _, err = runStream(t, url, "stop", "pod_1"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	out, err = runStream(t, url, "watch", "pod_1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if !strings.Contains(out, "offline   settled") {
		t.Errorf("Expected watch to end offline, got:\n%s", out)
	}
}

func TestPrefsCommandSendsOnlyGivenFlags(t *testing.T) {
	url := newSandbox(t)
	if _, err := runStream(t, url, "create", "pod_1", "--quality", "720p"); err != nil {
		t.Fatal(err)
	}

	out, err := runStream(t, url, "prefs", "pod_1", "--retention-days", "14", "--post-processing", "transcription")
	if err != nil {
		t.Fatalf("prefs: %v", err)
	}
	p := decodeProjection(t, out)
	if p.Stream.Recording.RetentionDays != 14 {
		t.Errorf("Expected retention 14, got %d", p.Stream.Recording.RetentionDays)
	}
	if len(p.Stream.Recording.PostProcessing) != 1 || p.Stream.Recording.PostProcessing[0] != "transcription" {
		t.Errorf("Unexpected post-processing: %v", p.Stream.Recording.PostProcessing)
	}
	if p.Stream.Quality != "720p" {
		t.Errorf("Untouched quality changed to %s", p.Stream.Quality)
	}

	if _, err := runStream(t, url, "prefs", "pod_1"); err == nil {
		t.Error("Expected an empty edit to be rejected")
	}
	if _, err := runStream(t, url, "prefs", "pod_1", "--retention-days=-1"); err == nil {
		t.Error("Expected negative retention to be rejected")
	}
}

func TestWatchWithoutStream(t *testing.T) {
	url := newSandbox(t)
	if _, err := runStream(t, url, "watch", "pod_1"); err == nil {
		t.Error("Expected watch without a stream to fail")
	}
}
