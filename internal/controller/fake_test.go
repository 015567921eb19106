package controller

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/livecast/internal/livestream"
)

var baseTime = time.Date(2025, 5, 1, 20, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStream(status livestream.Status) *livestream.LiveStream {
	return &livestream.LiveStream{
		ID:          "ls_1",
		PodcastID:   "pod_1",
		ServerURL:   "rtmp://ingest.example.com/live",
		StreamKey:   "sk_secret",
		PlaybackURL: "https://play.example.com/ls_1",
		Status:      status,
		Recording: livestream.Recording{
			StorageLocation: livestream.StorageCloud,
			PostProcessing:  []livestream.PostProcessing{},
		},
		Languages: []string{"en"},
		Quality:   livestream.Quality720p,
		CreatedAt: baseTime,
	}
}

func snap(status livestream.Status, offset time.Duration, viewers *int) livestream.StatusSnapshot {
	return livestream.StatusSnapshot{Status: status, UpdatedAt: baseTime.Add(offset), ViewerCount: viewers}
}

// fakeRepo is a scripted livestream.Repository. Gates make a call block
// until the test closes them.
type fakeRepo struct {
	mu sync.Mutex

	fetchResult *livestream.LiveStream
	fetchErr    error
	fetchGate   chan struct{}

	createResult *livestream.LiveStream
	startResult  *livestream.LiveStream
	startErr     error
	startGate    chan struct{}
	stopResult   *livestream.LiveStream
	stopErr      error

	prefsResult *livestream.LiveStream
	prefsGate   chan struct{}
	patches     []livestream.PreferencesPatch

	statuses   []livestream.StatusSnapshot
	statusErr  error
	statusGate chan struct{} // blocks the first Status call only

	calls       map[string]int
	inFlight    int
	maxInFlight int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{calls: make(map[string]int)}
}

func (f *fakeRepo) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRepo) enterMutation(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
}

func (f *fakeRepo) leaveMutation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
}

func wait(gate chan struct{}) {
	if gate != nil {
		<-gate
	}
}

func (f *fakeRepo) Fetch(_ context.Context, _ string) (*livestream.LiveStream, error) {
	f.mu.Lock()
	f.calls["fetch"]++
	gate := f.fetchGate
	f.mu.Unlock()
	wait(gate)

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchResult.Clone(), f.fetchErr
}

func (f *fakeRepo) Create(_ context.Context, _ string, _ livestream.CreateInput) (*livestream.LiveStream, error) {
	f.enterMutation("create")
	defer f.leaveMutation()
	return f.createResult.Clone(), nil
}

func (f *fakeRepo) Start(_ context.Context, _ string) (*livestream.LiveStream, error) {
	f.enterMutation("start")
	defer f.leaveMutation()
	wait(f.startGate)
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.startResult.Clone(), nil
}

func (f *fakeRepo) Stop(_ context.Context, _ string) (*livestream.LiveStream, error) {
	f.enterMutation("stop")
	defer f.leaveMutation()
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	return f.stopResult.Clone(), nil
}

func (f *fakeRepo) Status(ctx context.Context, _ string) (*livestream.StatusSnapshot, error) {
	f.mu.Lock()
	f.calls["status"]++
	n := f.calls["status"]
	var gate chan struct{}
	if n == 1 {
		gate = f.statusGate
	}
	var result *livestream.StatusSnapshot
	if len(f.statuses) > 0 {
		idx := min(n-1, len(f.statuses)-1)
		s := f.statuses[idx]
		result = &s
	}
	err := f.statusErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, livestream.TransportError("status", ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	return result.Clone(), nil
}

func (f *fakeRepo) UpdatePreferences(_ context.Context, _ string, patch livestream.PreferencesPatch) (*livestream.LiveStream, error) {
	f.mu.Lock()
	f.calls["update_preferences"]++
	f.patches = append(f.patches, patch)
	gate := f.prefsGate
	f.mu.Unlock()
	wait(gate)
	return f.prefsResult.Clone(), nil
}

func newLoaded(t *testing.T, repo *fakeRepo, interval time.Duration) *Controller {
	t.Helper()
	c := New(&Options{
		PodcastID:    "pod_1",
		Repository:   repo,
		PollInterval: interval,
		Logger:       testLogger(),
	})
	t.Cleanup(c.Close)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
