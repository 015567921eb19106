// Package sandbox emulates the remote studio's live-stream contract for
// local development and integration tests. No media is handled; status
// progresses on a clock: a started stream goes live after the warmup and a
// stopped stream goes offline after the cooldown.
package sandbox

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/google/uuid"
	"github.com/smazurov/livecast/internal/livestream"
	"github.com/smazurov/livecast/internal/logging"
	"github.com/smazurov/livecast/internal/sandbox/store"
	"github.com/smazurov/livecast/internal/version"
)

// Defaults for Options fields left zero.
const (
	DefaultWarmup      = 3 * time.Second
	DefaultCooldown    = 2 * time.Second
	DefaultIngestURL   = "rtmp://localhost:1935/live"
	DefaultPlaybackURL = "http://localhost:8091/play"
)

// Options configures the sandbox studio.
type Options struct {
	Store       store.Store
	Warmup      time.Duration
	Cooldown    time.Duration
	IngestURL   string
	PlaybackURL string

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Studio serves the emulated studio API.
type Studio struct {
	mu          sync.Mutex
	store       store.Store
	warmup      time.Duration
	cooldown    time.Duration
	ingestURL   string
	playbackURL string
	now         func() time.Time
	logger      *slog.Logger
}

// New creates a sandbox studio. The store must already be loaded.
func New(opts *Options) *Studio {
	s := &Studio{
		store:       opts.Store,
		warmup:      opts.Warmup,
		cooldown:    opts.Cooldown,
		ingestURL:   opts.IngestURL,
		playbackURL: strings.TrimRight(opts.PlaybackURL, "/"),
		now:         opts.Clock,
		logger:      logging.GetLogger("sandbox"),
	}
	if s.store == nil {
		s.store = store.NewTOML("")
	}
	if s.warmup <= 0 {
		s.warmup = DefaultWarmup
	}
	if s.cooldown <= 0 {
		s.cooldown = DefaultCooldown
	}
	if s.ingestURL == "" {
		s.ingestURL = DefaultIngestURL
	}
	if s.playbackURL == "" {
		s.playbackURL = DefaultPlaybackURL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Handler returns an HTTP handler serving the studio routes.
func (s *Studio) Handler() http.Handler {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("Livecast Sandbox Studio", version.Version)
	config.Info.Description = "Local emulation of the studio live-stream API"
	config.Servers = []*huma.Server{}

	api := humago.New(mux, config)
	s.Register(api)
	return mux
}

// advanceLocked moves transient statuses along once their duration has
// elapsed. It reports whether the record changed.
func (s *Studio) advanceLocked(rec *store.Stream, now time.Time) bool {
	switch livestream.Status(rec.Status) {
	case livestream.StatusStarting:
		if now.Sub(rec.StatusSince) >= s.warmup {
			rec.Status = string(livestream.StatusLive)
			rec.StatusSince = rec.StatusSince.Add(s.warmup)
			return true
		}
	case livestream.StatusStopping:
		if now.Sub(rec.StatusSince) >= s.cooldown {
			rec.Status = string(livestream.StatusOffline)
			rec.StatusSince = rec.StatusSince.Add(s.cooldown)
			return true
		}
	}
	return false
}

// currentLocked loads a stream by ID and applies any due progression.
func (s *Studio) currentLocked(streamID string) (store.Stream, error) {
	rec, ok := s.store.GetByID(streamID)
	if !ok {
		return store.Stream{}, huma.Error404NotFound("live stream " + streamID + " not found")
	}
	if s.advanceLocked(&rec, s.now()) {
		s.logger.Info("Stream progressed", "stream_id", rec.ID, "status", rec.Status)
		if err := s.store.Put(rec); err != nil {
			s.logger.Warn("Failed to persist progression", "stream_id", rec.ID, "error", err)
		}
	}
	return rec, nil
}

func (s *Studio) saveLocked(rec store.Stream) error {
	if err := s.store.Put(rec); err != nil {
		s.logger.Error("Failed to persist sandbox state", "stream_id", rec.ID, "error", err)
		return huma.Error500InternalServerError("failed to persist state", err)
	}
	return nil
}

func (s *Studio) newStream(podcastID string, in livestream.CreateInput, now time.Time) store.Stream {
	id := "ls_" + uuid.NewString()
	return store.Stream{
		ID:          id,
		PodcastID:   podcastID,
		ServerURL:   s.ingestURL,
		StreamKey:   "sk_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		PlaybackURL: s.playbackURL + "/" + id,
		Status:      string(livestream.StatusOffline),
		StatusSince: now,
		Recording: store.Recording{
			Enabled:         in.AutoRecord,
			RetentionDays:   30,
			StorageLocation: string(livestream.StorageCloud),
			PostProcessing:  []string{},
		},
		Languages: in.Languages,
		Quality:   string(in.Quality),
		CreatedAt: now,
	}
}

// applyPatch merges a partial preference update into a record.
func applyPatch(rec *store.Stream, p livestream.PreferencesPatch) {
	if r := p.Recording; r != nil {
		if r.Enabled != nil {
			rec.Recording.Enabled = *r.Enabled
		}
		if r.RetentionDays != nil {
			rec.Recording.RetentionDays = *r.RetentionDays
		}
		if r.StorageLocation != nil {
			rec.Recording.StorageLocation = string(*r.StorageLocation)
		}
		steps := make([]string, 0, len(r.PostProcessing))
		for _, step := range r.PostProcessing {
			steps = append(steps, string(step))
		}
		rec.Recording.PostProcessing = steps
	}
	if p.Languages != nil {
		rec.Languages = append([]string{}, p.Languages...)
	}
	if p.Quality != nil {
		rec.Quality = string(*p.Quality)
	}
	if p.AutoTranslate != nil {
		rec.AutoTranslate = *p.AutoTranslate
	}
	if p.Subtitles != nil {
		rec.Subtitles = *p.Subtitles
	}
}
