package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/livecast/internal/api/models"
	"github.com/smazurov/livecast/internal/controller"
	"github.com/smazurov/livecast/internal/events"
	"github.com/smazurov/livecast/internal/history"
	"github.com/smazurov/livecast/internal/livestream"
)

// memoryRepo is an in-memory livestream.Repository for handler tests.
type memoryRepo struct {
	mu       sync.Mutex
	streams  map[string]*livestream.LiveStream
	creates  []livestream.CreateInput
	patches  []livestream.PreferencesPatch
	startErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{streams: make(map[string]*livestream.LiveStream)}
}

func (m *memoryRepo) byID(streamID string) *livestream.LiveStream {
	for _, s := range m.streams {
		if s.ID == streamID {
			return s
		}
	}
	return nil
}

func (m *memoryRepo) Fetch(_ context.Context, podcastID string) (*livestream.LiveStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[podcastID].Clone(), nil
}

func (m *memoryRepo) Create(_ context.Context, podcastID string, in livestream.CreateInput) (*livestream.LiveStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates = append(m.creates, in)
	s := &livestream.LiveStream{
		ID:          "ls_" + podcastID,
		PodcastID:   podcastID,
		ServerURL:   "rtmp://ingest.test/live",
		StreamKey:   "sk_test",
		PlaybackURL: "https://play.test/" + podcastID,
		Status:      livestream.StatusOffline,
		Recording: livestream.Recording{
			Enabled:         in.AutoRecord,
			StorageLocation: livestream.StorageCloud,
			PostProcessing:  []livestream.PostProcessing{},
		},
		Languages: in.Languages,
		Quality:   in.Quality,
		CreatedAt: time.Date(2025, 5, 1, 20, 0, 0, 0, time.UTC),
	}
	m.streams[podcastID] = s
	return s.Clone(), nil
}

func (m *memoryRepo) setStatus(streamID string, status livestream.Status) (*livestream.LiveStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byID(streamID)
	if s == nil {
		return nil, livestream.TransportError("not found", errors.New("404"))
	}
	s.Status = status
	return s.Clone(), nil
}

func (m *memoryRepo) Start(_ context.Context, streamID string) (*livestream.LiveStream, error) {
	m.mu.Lock()
	err := m.startErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.setStatus(streamID, livestream.StatusStarting)
}

func (m *memoryRepo) Stop(_ context.Context, streamID string) (*livestream.LiveStream, error) {
	return m.setStatus(streamID, livestream.StatusStopping)
}

func (m *memoryRepo) Status(_ context.Context, streamID string) (*livestream.StatusSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byID(streamID)
	if s == nil {
		return nil, livestream.TransportError("not found", errors.New("404"))
	}
	return &livestream.StatusSnapshot{Status: s.Status, UpdatedAt: time.Now()}, nil
}

func (m *memoryRepo) UpdatePreferences(_ context.Context, streamID string, patch livestream.PreferencesPatch) (*livestream.LiveStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patches = append(m.patches, patch)
	s := m.byID(streamID)
	if s == nil {
		return nil, livestream.TransportError("not found", errors.New("404"))
	}
	if patch.Recording != nil && patch.Recording.Enabled != nil {
		s.Recording.Enabled = *patch.Recording.Enabled
	}
	if patch.Quality != nil {
		s.Quality = *patch.Quality
	}
	return s.Clone(), nil
}

type testServer struct {
	repo *memoryRepo
	ts   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := newMemoryRepo()
	bus := events.New()
	registry := controller.NewRegistry(&controller.RegistryOptions{
		Repository:   repo,
		Bus:          bus,
		PollInterval: time.Hour,
	})
	t.Cleanup(registry.Close)

	server := NewServer(&Options{
		Registry: registry,
		EventBus: bus,
		Catalog: Catalog{
			Languages: []string{"en", "pt-br", "not a tag"},
			Defaults: livestream.CreateInput{
				Languages: []string{"en"},
				Quality:   livestream.Quality720p,
			},
		},
		CommandTimeout: 5 * time.Second,
	})
	ts := httptest.NewServer(server.GetMux())
	t.Cleanup(ts.Close)
	return &testServer{repo: repo, ts: ts}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func decodeLiveStream(t *testing.T, data []byte) models.LiveStreamData {
	t.Helper()
	var out models.LiveStreamData
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Failed to decode projection: %v\n%s", err, data)
	}
	return out
}

const podcastPath = "/api/podcasts/pod_1/live-stream"

func TestGetLiveStreamWithoutStream(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodGet, podcastPath, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, data)
	}
	out := decodeLiveStream(t, data)
	if out.Stream != nil {
		t.Errorf("Expected null stream, got %+v", out.Stream)
	}
	if !out.Actions.CanCreate || out.Actions.CanStart || out.Actions.CanStop {
		t.Errorf("Unexpected actions: %+v", out.Actions)
	}
	if !bytes.Contains(data, []byte(`"stream":null`)) {
		t.Errorf("Expected explicit null stream in %s", data)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Error("Expected request ID header")
	}
}

func TestCreateUsesDefaultsAndExposesIngest(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodPost, podcastPath, `{"auto_record": true}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", resp.StatusCode, data)
	}
	out := decodeLiveStream(t, data)
	if out.Stream == nil || out.Stream.ServerURL != "rtmp://ingest.test/live" || out.Stream.StreamKey != "sk_test" {
		t.Fatalf("Expected ingest details, got %+v", out.Stream)
	}
	if !out.Actions.CanStart || out.Actions.CanCreate {
		t.Errorf("Unexpected actions after create: %+v", out.Actions)
	}

	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	if len(s.repo.creates) != 1 {
		t.Fatalf("Expected one create, got %d", len(s.repo.creates))
	}
	got := s.repo.creates[0]
	if !got.AutoRecord || got.Quality != livestream.Quality720p || len(got.Languages) != 1 || got.Languages[0] != "en" {
		t.Errorf("Expected defaults merged with body, got %+v", got)
	}
}

func TestCreateTwiceConflicts(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, podcastPath, `{}`)

	resp, data := s.do(t, http.MethodPost, podcastPath, `{}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409, got %d: %s", resp.StatusCode, data)
	}
}

func TestCreateRejectsBadLanguage(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodPost, podcastPath, `{"languages": ["??"]}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422, got %d: %s", resp.StatusCode, data)
	}
}

func TestStartAndStopGuards(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, podcastPath, `{}`)

	resp, data := s.do(t, http.MethodPost, podcastPath+"/stop", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Stop on offline: expected 409, got %d: %s", resp.StatusCode, data)
	}

	resp, data = s.do(t, http.MethodPost, podcastPath+"/start", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Start: expected 200, got %d: %s", resp.StatusCode, data)
	}
	if out := decodeLiveStream(t, data); out.Stream.Status != string(livestream.StatusStarting) {
		t.Errorf("Expected starting, got %s", out.Stream.Status)
	}

	resp, data = s.do(t, http.MethodPost, podcastPath+"/start", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Second start: expected 409, got %d: %s", resp.StatusCode, data)
	}

	resp, data = s.do(t, http.MethodPost, podcastPath+"/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Stop on starting: expected 200, got %d: %s", resp.StatusCode, data)
	}
}

func TestStartTransportFailureMapsToBadGateway(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, podcastPath, `{}`)
	s.repo.mu.Lock()
	s.repo.startErr = livestream.TransportError("studio unavailable", errors.New("connection refused"))
	s.repo.mu.Unlock()

	resp, data := s.do(t, http.MethodPost, podcastPath+"/start", "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d: %s", resp.StatusCode, data)
	}

	_, data = s.do(t, http.MethodGet, podcastPath, "")
	if out := decodeLiveStream(t, data); out.Stream.Status != string(livestream.StatusOffline) {
		t.Errorf("Failed start must leave status offline, got %s", out.Stream.Status)
	}
}

func TestPreferencesSendsOnlyTouchedGroups(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, podcastPath, `{}`)

	resp, data := s.do(t, http.MethodPatch, podcastPath+"/preferences", `{"recording": {"enabled": true}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, data)
	}
	if out := decodeLiveStream(t, data); !out.Stream.Recording.Enabled {
		t.Error("Expected recording enabled in response")
	}

	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	if len(s.repo.patches) != 1 {
		t.Fatalf("Expected one patch, got %d", len(s.repo.patches))
	}
	patch := s.repo.patches[0]
	if groups := patch.Groups(); len(groups) != 1 || groups[0] != "recording" {
		t.Errorf("Expected only the recording group, got %v", groups)
	}
	if patch.Recording.PostProcessing == nil || len(patch.Recording.PostProcessing) != 0 {
		t.Errorf("Expected explicit empty post-processing, got %#v", patch.Recording.PostProcessing)
	}
}

func TestPreferencesValidation(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, podcastPath, `{}`)

	tests := []struct {
		name string
		body string
	}{
		{"empty edit", `{}`},
		{"unknown quality", `{"quality": "4k"}`},
		{"negative retention", `{"recording": {"retention_days": -1}}`},
		{"unknown step", `{"recording": {"post_processing": ["autotune"]}}`},
		{"empty languages", `{"languages": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := s.do(t, http.MethodPatch, podcastPath+"/preferences", tt.body)
			if resp.StatusCode != http.StatusUnprocessableEntity {
				t.Errorf("Expected 422, got %d: %s", resp.StatusCode, data)
			}
		})
	}

	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	if len(s.repo.patches) != 0 {
		t.Errorf("Invalid edits must not reach the studio, got %d patches", len(s.repo.patches))
	}
}

func TestOptionsEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodGet, "/api/live-stream/options", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, data)
	}
	var out models.OptionsData
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}

	if len(out.Qualities) != 3 || out.Qualities[0] != "1080p" {
		t.Errorf("Unexpected qualities: %v", out.Qualities)
	}
	if len(out.PostProcessing) != len(livestream.PostProcessingSteps) {
		t.Errorf("Unexpected post-processing: %v", out.PostProcessing)
	}
	if len(out.Languages) != 2 {
		t.Fatalf("Expected invalid tag skipped, got %+v", out.Languages)
	}
	if out.Languages[1].Tag != "pt-BR" || out.Languages[1].Name == "" || out.Languages[1].NativeName == "" {
		t.Errorf("Unexpected language option: %+v", out.Languages[1])
	}
	if out.Defaults.Quality != "720p" {
		t.Errorf("Expected default quality 720p, got %q", out.Defaults.Quality)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodOptions, podcastPath+"/start", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected allow-origin *, got %q", got)
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Methods"), "PATCH") {
		t.Error("Expected PATCH in allowed methods")
	}
}

func TestLiveStreamEventsStream(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, podcastPath, `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.ts.URL+podcastPath+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to connect to SSE: %v", err)
	}
	defer resp.Body.Close()

	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("Expected SSE content type, got %s", resp.Header.Get("Content-Type"))
	}

	lines := make(chan string, 32)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data:") {
				lines <- strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
		close(lines)
	}()

	next := func() models.LiveStreamData {
		t.Helper()
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("SSE stream closed")
			}
			return decodeLiveStream(t, []byte(line))
		case <-time.After(2 * time.Second):
			t.Fatal("Timeout waiting for SSE message")
		}
		return models.LiveStreamData{}
	}

	if first := next(); first.Stream == nil || first.Stream.Status != string(livestream.StatusOffline) {
		t.Fatalf("Expected initial offline projection, got %+v", first.Stream)
	}

	resp2, data := s.do(t, http.MethodPost, podcastPath+"/start", "")
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("Start failed: %d %s", resp2.StatusCode, data)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("Never observed starting over SSE")
		default:
		}
		if msg := next(); msg.Stream != nil && msg.Stream.Status == string(livestream.StatusStarting) {
			return
		}
	}
}

type fakeHistory struct {
	podcastID string
	limit     int
}

func (f *fakeHistory) List(_ context.Context, podcastID string, limit int) ([]history.Transition, error) {
	f.podcastID = podcastID
	f.limit = limit
	return []history.Transition{{
		PodcastID:  podcastID,
		StreamID:   "ls_1",
		FromStatus: "starting",
		ToStatus:   "live",
		Reason:     "observed",
		OccurredAt: time.Date(2025, 5, 1, 20, 1, 0, 0, time.UTC),
	}}, nil
}

func TestHistoryRoute(t *testing.T) {
	repo := newMemoryRepo()
	bus := events.New()
	registry := controller.NewRegistry(&controller.RegistryOptions{Repository: repo, Bus: bus, PollInterval: time.Hour})
	defer registry.Close()
	reader := &fakeHistory{}
	server := NewServer(&Options{Registry: registry, EventBus: bus, History: reader})
	ts := httptest.NewServer(server.GetMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + podcastPath + "/history?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var out models.HistoryData
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if reader.podcastID != "pod_1" || reader.limit != 5 {
		t.Errorf("reader called with %q, %d", reader.podcastID, reader.limit)
	}
	if len(out.Transitions) != 1 || out.Transitions[0].ToStatus != "live" {
		t.Errorf("unexpected transitions: %+v", out.Transitions)
	}
}

func TestHistoryRouteAbsentWithoutReader(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodGet, podcastPath+"/history", "")
	if resp.StatusCode == http.StatusOK {
		t.Error("Expected no history route without a reader")
	}
}

func TestNewServerDescribesProjection(t *testing.T) {
	repo := newMemoryRepo()
	bus := events.New()
	registry := controller.NewRegistry(&controller.RegistryOptions{Repository: repo, Bus: bus, PollInterval: time.Hour})
	defer registry.Close()

	var server *Server
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("NewServer panicked: %v", r)
			}
		}()
		server = NewServer(&Options{Registry: registry, EventBus: bus, History: &fakeHistory{}})
	}()

	ts := httptest.NewServer(server.GetMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/openapi.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for the OpenAPI document, got %d", resp.StatusCode)
	}

	var doc struct {
		Components struct {
			Schemas map[string]struct {
				Properties map[string]json.RawMessage `json:"properties"`
			} `json:"schemas"`
		} `json:"components"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	projection, ok := doc.Components.Schemas["LiveStreamData"]
	if !ok {
		t.Fatal("LiveStreamData schema missing")
	}
	for _, field := range []string{"stream", "snapshot", "pending", "actions"} {
		if _, ok := projection.Properties[field]; !ok {
			t.Errorf("LiveStreamData schema lacks %q", field)
		}
	}
}

func TestHealthAndVersion(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodGet, "/api/health", "")
	if resp.StatusCode != http.StatusOK || !bytes.Contains(data, []byte(`"ok"`)) {
		t.Errorf("health: %d %s", resp.StatusCode, data)
	}

	resp, data = s.do(t, http.MethodGet, "/api/version", "")
	if resp.StatusCode != http.StatusOK || !bytes.Contains(data, []byte(`"version"`)) {
		t.Errorf("version: %d %s", resp.StatusCode, data)
	}
}
