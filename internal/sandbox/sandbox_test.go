package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/livecast/internal/controller"
	"github.com/smazurov/livecast/internal/events"
	"github.com/smazurov/livecast/internal/livestream"
	"github.com/smazurov/livecast/internal/sandbox/store"
	"github.com/smazurov/livecast/internal/studio"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 5, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testStudio struct {
	studio *Studio
	client *studio.Client
	clock  *fakeClock
	path   string
	url    string
}

func newTestStudio(t *testing.T) *testStudio {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sandbox.toml")
	clock := newFakeClock()
	s := New(&Options{
		Store:    store.NewTOML(path),
		Warmup:   5 * time.Second,
		Cooldown: 3 * time.Second,
		Clock:    clock.Now,
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &testStudio{
		studio: s,
		client: studio.NewClient(ts.URL, 5*time.Second),
		clock:  clock,
		path:   path,
		url:    ts.URL,
	}
}

func defaultCreate() livestream.CreateInput {
	return livestream.CreateInput{
		AutoRecord: true,
		Languages:  []string{"en"},
		Quality:    livestream.Quality1080p,
	}
}

func TestFetchMissingStreamIsNil(t *testing.T) {
	ts := newTestStudio(t)

	s, err := ts.client.Fetch(context.Background(), "pod_1")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if s != nil {
		t.Errorf("Expected nil stream, got %+v", s)
	}
}

func TestCreateAssignsIngest(t *testing.T) {
	ts := newTestStudio(t)
	ctx := context.Background()

	created, err := ts.client.Create(ctx, "pod_1", defaultCreate())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.HasPrefix(created.ID, "ls_") || !strings.HasPrefix(created.StreamKey, "sk_") {
		t.Errorf("Unexpected identifiers: id=%s key=%s", created.ID, created.StreamKey)
	}
	if created.ServerURL != DefaultIngestURL {
		t.Errorf("Expected ingest %s, got %s", DefaultIngestURL, created.ServerURL)
	}
	if created.Status != livestream.StatusOffline || !created.Recording.Enabled {
		t.Errorf("Unexpected initial state: %+v", created)
	}
	if created.Recording.PostProcessing == nil {
		t.Error("Expected empty post-processing, got nil")
	}

	fetched, err := ts.client.Fetch(ctx, "pod_1")
	if err != nil || fetched == nil || fetched.ID != created.ID {
		t.Fatalf("Fetch after create = %+v, %v", fetched, err)
	}

	_, err = ts.client.Create(ctx, "pod_1", defaultCreate())
	if !livestream.IsConflict(err) {
		t.Errorf("Expected conflict on second create, got %v", err)
	}
}

func TestCreateRejectsInvalidLanguage(t *testing.T) {
	ts := newTestStudio(t)

	in := defaultCreate()
	in.Languages = []string{"not a tag"}
	_, err := ts.client.Create(context.Background(), "pod_1", in)
	if !livestream.IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestLifecycleProgression(t *testing.T) {
	ts := newTestStudio(t)
	ctx := context.Background()

	created, err := ts.client.Create(ctx, "pod_1", defaultCreate())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ts.client.Stop(ctx, created.ID); !livestream.IsConflict(err) {
		t.Errorf("Stop on offline: expected conflict, got %v", err)
	}

	started, err := ts.client.Start(ctx, created.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if started.Status != livestream.StatusStarting || started.LastStartedAt == nil {
		t.Errorf("Expected starting with last_started_at, got %+v", started)
	}

	snap, err := ts.client.Status(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != livestream.StatusStarting || snap.ViewerCount == nil || *snap.ViewerCount != 0 {
		t.Errorf("Unexpected starting snapshot: %+v", snap)
	}

	ts.clock.Advance(5 * time.Second)
	snap, err = ts.client.Status(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != livestream.StatusLive {
		t.Fatalf("Expected live after warmup, got %s", snap.Status)
	}
	if snap.ViewerCount == nil || *snap.ViewerCount != 120 || snap.AverageBitrateKbps == nil {
		t.Errorf("Unexpected live telemetry: %+v", snap)
	}

	ts.clock.Advance(20 * time.Second)
	stopped, err := ts.client.Stop(ctx, created.ID)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if stopped.Status != livestream.StatusStopping {
		t.Errorf("Expected stopping, got %s", stopped.Status)
	}
	if stopped.LatestViewerCount == nil || *stopped.LatestViewerCount != 122 {
		t.Errorf("Expected latest viewer count 122, got %v", stopped.LatestViewerCount)
	}

	ts.clock.Advance(2 * time.Second)
	if snap, _ = ts.client.Status(ctx, created.ID); snap.Status != livestream.StatusStopping {
		t.Errorf("Expected still stopping before cooldown, got %s", snap.Status)
	}
	ts.clock.Advance(time.Second)
	if snap, _ = ts.client.Status(ctx, created.ID); snap.Status != livestream.StatusOffline {
		t.Errorf("Expected offline after cooldown, got %s", snap.Status)
	}
}

func TestPreferencesPartialUpdate(t *testing.T) {
	ts := newTestStudio(t)
	ctx := context.Background()

	created, err := ts.client.Create(ctx, "pod_1", defaultCreate())
	if err != nil {
		t.Fatal(err)
	}

	retention := 7
	updated, err := ts.client.UpdatePreferences(ctx, created.ID, livestream.PreferencesPatch{
		Recording: &livestream.RecordingPatch{
			RetentionDays:  &retention,
			PostProcessing: []livestream.PostProcessing{livestream.PostTranscription},
		},
		Languages: []string{"pt-br", "en"},
	})
	if err != nil {
		t.Fatalf("UpdatePreferences failed: %v", err)
	}

	if !updated.Recording.Enabled {
		t.Error("Untouched recording.enabled was clobbered")
	}
	if updated.Recording.RetentionDays != 7 {
		t.Errorf("Expected retention 7, got %d", updated.Recording.RetentionDays)
	}
	if len(updated.Recording.PostProcessing) != 1 || updated.Recording.PostProcessing[0] != livestream.PostTranscription {
		t.Errorf("Unexpected post-processing: %v", updated.Recording.PostProcessing)
	}
	if updated.PrimaryLanguage() != "pt-BR" {
		t.Errorf("Expected canonical primary pt-BR, got %v", updated.Languages)
	}
	if updated.Quality != livestream.Quality1080p {
		t.Errorf("Untouched quality changed to %s", updated.Quality)
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	ts := newTestStudio(t)
	ctx := context.Background()

	created, err := ts.client.Create(ctx, "pod_1", defaultCreate())
	if err != nil {
		t.Fatal(err)
	}
	started, err := ts.client.Start(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if started.LastStartedAt == nil {
		t.Fatal("Expected last_started_at stamped on start")
	}

	st := store.NewTOML(ts.path)
	if err := st.Load(); err != nil {
		t.Fatal(err)
	}
	restarted := New(&Options{Store: st, Warmup: 5 * time.Second, Clock: ts.clock.Now})
	srv := httptest.NewServer(restarted.Handler())
	defer srv.Close()
	client := studio.NewClient(srv.URL, 5*time.Second)

	ts.clock.Advance(6 * time.Second)
	got, err := client.Fetch(ctx, "pod_1")
	if err != nil || got == nil {
		t.Fatalf("Fetch after restart = %v, %v", got, err)
	}
	if got.ID != created.ID || got.Status != livestream.StatusLive {
		t.Errorf("Expected %s live after restart, got %s %s", created.ID, got.ID, got.Status)
	}
	if got.LastStartedAt == nil || !got.LastStartedAt.Equal(started.LastStartedAt.UTC()) {
		t.Errorf("Expected last_started_at %v after restart, got %v", started.LastStartedAt, got.LastStartedAt)
	}
}

func TestForceStatus(t *testing.T) {
	ts := newTestStudio(t)
	ctx := context.Background()

	created, err := ts.client.Create(ctx, "pod_1", defaultCreate())
	if err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest(http.MethodPut, ts.url+"/sandbox/live-streams/"+created.ID+"/status",
		strings.NewReader(`{"status": "failed"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	snap, err := ts.client.Status(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != livestream.StatusFailed {
		t.Errorf("Expected failed, got %s", snap.Status)
	}
	if _, err := ts.client.Start(ctx, created.ID); !livestream.IsConflict(err) {
		t.Errorf("Start on failed: expected conflict, got %v", err)
	}
}

func TestUnknownStreamIsTransportError(t *testing.T) {
	ts := newTestStudio(t)

	_, err := ts.client.Status(context.Background(), "ls_missing")
	if !livestream.IsTransport(err) {
		t.Errorf("Expected transport error, got %v", err)
	}
}

// TestControllerAgainstSandbox drives a full start/stop cycle through the
// registry, with the poller confirming each transition.
func TestControllerAgainstSandbox(t *testing.T) {
	s := New(&Options{
		Store:    store.NewTOML(filepath.Join(t.TempDir(), "sandbox.toml")),
		Warmup:   60 * time.Millisecond,
		Cooldown: 60 * time.Millisecond,
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	bus := events.New()
	registry := controller.NewRegistry(&controller.RegistryOptions{
		Repository:   studio.NewClient(srv.URL, 5*time.Second),
		Bus:          bus,
		PollInterval: 20 * time.Millisecond,
	})
	defer registry.Close()

	ctx := context.Background()
	c, release, err := registry.Acquire(ctx, "pod_1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	if v := c.View(); v.Stream != nil || !v.CanCreate() {
		t.Fatalf("Expected create-only state, got %+v", v)
	}
	if _, err := c.Create(ctx, defaultCreate()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForStatus(t, c, livestream.StatusLive)

	if _, err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitForStatus(t, c, livestream.StatusOffline)

	v := c.View()
	if v.Stream.LastStartedAt == nil || v.Stream.LatestViewerCount == nil {
		t.Errorf("Expected last_started_at and latest_viewer_count, got %+v", v.Stream)
	}
}

func waitForStatus(t *testing.T, c *controller.Controller, want livestream.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v := c.View(); v.Stream != nil && v.Stream.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s, last view %+v", want, c.View().Stream)
}
