// Package store persists the sandbox studio's streams.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Recording is the persisted recording preferences of a stream.
type Recording struct {
	Enabled         bool     `toml:"enabled"`
	RetentionDays   int      `toml:"retention_days"`
	StorageLocation string   `toml:"storage_location"`
	PostProcessing  []string `toml:"post_processing"`
}

// Stream is one persisted stream. StatusSince records when the current
// status was entered so the progression survives restarts.
type Stream struct {
	ID                string    `toml:"id"`
	PodcastID         string    `toml:"podcast_id"`
	ServerURL         string    `toml:"server_url"`
	StreamKey         string    `toml:"stream_key"`
	PlaybackURL       string    `toml:"playback_url"`
	Status            string    `toml:"status"`
	StatusSince       time.Time `toml:"status_since"`
	Recording         Recording `toml:"recording"`
	Languages         []string  `toml:"languages"`
	Quality           string    `toml:"quality"`
	AutoTranslate     bool      `toml:"auto_translate"`
	Subtitles         bool      `toml:"subtitles"`
	CreatedAt         time.Time `toml:"created_at"`
	LastStarted       string    `toml:"last_started_at,omitempty"`
	LatestViewerCount *int      `toml:"latest_viewer_count,omitempty"`
}

// LastStartedAt returns when the stream was last started, nil if never.
// LastStarted holds RFC 3339 text: go-toml writes a *time.Time as a string
// it cannot decode back.
func (s Stream) LastStartedAt() *time.Time {
	if s.LastStarted == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.LastStarted)
	if err != nil {
		return nil
	}
	return &t
}

// SetLastStartedAt records the last start time, clearing it when t is nil.
func (s *Stream) SetLastStartedAt(t *time.Time) {
	if t == nil {
		s.LastStarted = ""
		return
	}
	s.LastStarted = t.UTC().Format(time.RFC3339Nano)
}

// Store holds streams keyed by podcast ID.
type Store interface {
	Load() error
	Save() error
	Put(stream Stream) error
	Get(podcastID string) (Stream, bool)
	GetByID(streamID string) (Stream, bool)
	All() map[string]Stream
}

// config represents the complete state file for TOML marshaling.
type config struct {
	Version int               `toml:"version"`
	Streams map[string]Stream `toml:"streams"`
}

// tomlStore implements Store using TOML file storage. It is not safe for
// concurrent use; callers serialize access.
type tomlStore struct {
	path   string
	config *config
}

// NewTOML creates a new TOML-based store.
func NewTOML(path string) Store {
	if path == "" {
		path = "sandbox.toml"
	}

	return &tomlStore{
		path: path,
		config: &config{
			Version: 1,
			Streams: make(map[string]Stream),
		},
	}
}

// Load reads the state file. A missing file leaves the store empty.
func (s *tomlStore) Load() error {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read sandbox state: %w", err)
	}

	if unmarshalErr := toml.Unmarshal(data, s.config); unmarshalErr != nil {
		return fmt.Errorf("failed to parse sandbox state: %w", unmarshalErr)
	}

	if s.config.Streams == nil {
		s.config.Streams = make(map[string]Stream)
	}
	if s.config.Version == 0 {
		s.config.Version = 1
	}

	return nil
}

// Save writes the state file.
func (s *tomlStore) Save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := toml.Marshal(s.config)
	if err != nil {
		return fmt.Errorf("failed to marshal sandbox state: %w", err)
	}

	if writeErr := os.WriteFile(s.path, data, 0o644); writeErr != nil {
		return fmt.Errorf("failed to write sandbox state: %w", writeErr)
	}

	return nil
}

// Put inserts or replaces the podcast's stream and saves.
func (s *tomlStore) Put(stream Stream) error {
	s.config.Streams[stream.PodcastID] = stream
	return s.Save()
}

// Get returns the podcast's stream.
func (s *tomlStore) Get(podcastID string) (Stream, bool) {
	stream, exists := s.config.Streams[podcastID]
	return stream, exists
}

// GetByID looks a stream up by its own ID.
func (s *tomlStore) GetByID(streamID string) (Stream, bool) {
	for _, stream := range s.config.Streams {
		if stream.ID == streamID {
			return stream, true
		}
	}
	return Stream{}, false
}

// All returns every stream keyed by podcast ID.
func (s *tomlStore) All() map[string]Stream {
	return s.config.Streams
}
