// Package livestream holds the domain model shared by the lifecycle
// controller, the studio client and the presentation API.
package livestream

import (
	"slices"
	"time"
)

// Quality is the broadcast resolution preset.
type Quality string

// Supported quality presets.
const (
	Quality1080p Quality = "1080p"
	Quality720p  Quality = "720p"
	Quality480p  Quality = "480p"
)

// Qualities lists every quality preset, highest first.
var Qualities = []Quality{Quality1080p, Quality720p, Quality480p}

// Valid reports whether q is a known preset.
func (q Quality) Valid() bool {
	return slices.Contains(Qualities, q)
}

// StorageLocation is where recordings are kept.
type StorageLocation string

// Recording storage locations.
const (
	StorageCloud StorageLocation = "cloud"
	StorageLocal StorageLocation = "local"
)

// StorageLocations lists every storage location.
var StorageLocations = []StorageLocation{StorageCloud, StorageLocal}

// Valid reports whether s is a known storage location.
func (s StorageLocation) Valid() bool {
	return slices.Contains(StorageLocations, s)
}

// PostProcessing is a step applied to a recording after the broadcast ends.
// Values come from a closed set.
type PostProcessing string

// Post-processing steps.
const (
	PostNoiseReduction        PostProcessing = "noise_reduction"
	PostLoudnessNormalization PostProcessing = "loudness_normalization"
	PostTranscription         PostProcessing = "transcription"
	PostChapterMarkers        PostProcessing = "chapter_markers"
	PostSilenceTrimming       PostProcessing = "silence_trimming"
)

// PostProcessingSteps lists the closed set of post-processing steps.
var PostProcessingSteps = []PostProcessing{
	PostNoiseReduction,
	PostLoudnessNormalization,
	PostTranscription,
	PostChapterMarkers,
	PostSilenceTrimming,
}

// Valid reports whether p belongs to the closed set.
func (p PostProcessing) Valid() bool {
	return slices.Contains(PostProcessingSteps, p)
}

// Recording holds the recording preferences of a stream.
type Recording struct {
	Enabled         bool             `json:"enabled"`
	RetentionDays   int              `json:"retention_days"`
	StorageLocation StorageLocation  `json:"storage_location"`
	PostProcessing  []PostProcessing `json:"post_processing"` // ordered set
}

// LiveStream is the authoritative configuration and status record for one
// podcast's broadcast. ServerURL and StreamKey never change after creation.
type LiveStream struct {
	ID                string     `json:"id"`
	PodcastID         string     `json:"podcast_id"`
	ServerURL         string     `json:"server_url"`
	StreamKey         string     `json:"stream_key"`
	PlaybackURL       string     `json:"playback_url"`
	Status            Status     `json:"status"`
	Recording         Recording  `json:"recording"`
	Languages         []string   `json:"languages"` // first entry is the primary language
	Quality           Quality    `json:"quality"`
	AutoTranslate     bool       `json:"auto_translate"`
	Subtitles         bool       `json:"subtitles"`
	CreatedAt         time.Time  `json:"created_at"`
	LastStartedAt     *time.Time `json:"last_started_at,omitempty"`
	LatestViewerCount *int       `json:"latest_viewer_count,omitempty"`
}

// PrimaryLanguage returns the first configured language, or "" if none.
func (s *LiveStream) PrimaryLanguage() string {
	if len(s.Languages) == 0 {
		return ""
	}
	return s.Languages[0]
}

// Clone returns a deep copy so callers can never alias controller state.
func (s *LiveStream) Clone() *LiveStream {
	if s == nil {
		return nil
	}
	dup := *s
	dup.Recording.PostProcessing = slices.Clone(s.Recording.PostProcessing)
	dup.Languages = slices.Clone(s.Languages)
	if s.LastStartedAt != nil {
		t := *s.LastStartedAt
		dup.LastStartedAt = &t
	}
	if s.LatestViewerCount != nil {
		n := *s.LatestViewerCount
		dup.LatestViewerCount = &n
	}
	return &dup
}

// StatusSnapshot is an ephemeral, non-authoritative status sample.
type StatusSnapshot struct {
	Status             Status    `json:"status"`
	UpdatedAt          time.Time `json:"updated_at"`
	ViewerCount        *int      `json:"viewer_count,omitempty"`
	AverageBitrateKbps *int      `json:"average_bitrate_kbps,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (s *StatusSnapshot) Clone() *StatusSnapshot {
	if s == nil {
		return nil
	}
	dup := *s
	if s.ViewerCount != nil {
		n := *s.ViewerCount
		dup.ViewerCount = &n
	}
	if s.AverageBitrateKbps != nil {
		n := *s.AverageBitrateKbps
		dup.AverageBitrateKbps = &n
	}
	return &dup
}

// CreateInput contains the parameters for creating a stream.
type CreateInput struct {
	AutoRecord bool
	Languages  []string
	Quality    Quality
}

// RecordingPatch carries the touched recording sub-fields. Nil pointers are
// omitted from the request. PostProcessing is always sent once the
// recording group is present.
type RecordingPatch struct {
	Enabled         *bool
	RetentionDays   *int
	StorageLocation *StorageLocation
	PostProcessing  []PostProcessing
}

// PreferencesPatch is the minimal partial update sent to the studio. Only
// non-nil groups are submitted.
type PreferencesPatch struct {
	Recording     *RecordingPatch
	Languages     []string // nil means untouched
	Quality       *Quality
	AutoTranslate *bool
	Subtitles     *bool
}

// Empty reports whether the patch touches no group at all.
func (p PreferencesPatch) Empty() bool {
	return p.Recording == nil && p.Languages == nil && p.Quality == nil &&
		p.AutoTranslate == nil && p.Subtitles == nil
}

// Groups returns the names of the touched top-level groups, in wire order.
func (p PreferencesPatch) Groups() []string {
	var groups []string
	if p.Recording != nil {
		groups = append(groups, "recording")
	}
	if p.Languages != nil {
		groups = append(groups, "languages")
	}
	if p.Quality != nil {
		groups = append(groups, "quality")
	}
	if p.AutoTranslate != nil {
		groups = append(groups, "auto_translate")
	}
	if p.Subtitles != nil {
		groups = append(groups, "subtitles")
	}
	return groups
}

// Pending reports which commands are in flight for a stream.
type Pending struct {
	Create            bool `json:"create"`
	Start             bool `json:"start"`
	Stop              bool `json:"stop"`
	UpdatePreferences bool `json:"update_preferences"`
}

// Any reports whether any command is in flight.
func (p Pending) Any() bool {
	return p.Create || p.Start || p.Stop || p.UpdatePreferences
}
