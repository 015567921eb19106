package studio

import (
	"fmt"
	"time"

	"github.com/smazurov/livecast/internal/livestream"
)

// RecordingRecord is the wire form of the recording preferences.
type RecordingRecord struct {
	Enabled         bool     `json:"enabled" doc:"Whether the broadcast is recorded"`
	RetentionDays   int      `json:"retention_days" minimum:"0" doc:"Days a recording is kept"`
	StorageLocation string   `json:"storage_location" enum:"cloud,local" doc:"Where recordings are stored"`
	PostProcessing  []string `json:"post_processing" doc:"Ordered post-processing steps"`
}

// StreamRecord is the wire form of a live stream.
type StreamRecord struct {
	ID                string          `json:"id" example:"ls_0b5e" doc:"Stream identifier"`
	PodcastID         string          `json:"podcast_id" example:"pod_42" doc:"Owning podcast"`
	ServerURL         string          `json:"server_url" example:"rtmp://ingest.example.com/live" doc:"Ingest server URL"`
	StreamKey         string          `json:"stream_key" doc:"Ingest stream key"`
	PlaybackURL       string          `json:"playback_url" doc:"Public playback URL"`
	Status            string          `json:"status" enum:"offline,starting,live,stopping,failed,error" doc:"Lifecycle status"`
	Recording         RecordingRecord `json:"recording"`
	Languages         []string        `json:"languages" doc:"BCP 47 language tags, primary first"`
	Quality           string          `json:"quality" enum:"1080p,720p,480p" doc:"Broadcast quality"`
	AutoTranslate     bool            `json:"auto_translate" doc:"Automatic translation"`
	Subtitles         bool            `json:"subtitles" doc:"Live subtitles"`
	CreatedAt         time.Time       `json:"created_at" doc:"Creation time"`
	LastStartedAt     *time.Time      `json:"last_started_at" nullable:"true" doc:"Last time the broadcast was started"`
	LatestViewerCount *int            `json:"latest_viewer_count" nullable:"true" doc:"Viewer count of the latest broadcast"`
}

// SnapshotRecord is the wire form of a status sample.
type SnapshotRecord struct {
	Status             string    `json:"status" enum:"offline,starting,live,stopping,failed,error" doc:"Observed status"`
	UpdatedAt          time.Time `json:"updated_at" doc:"Sample time"`
	ViewerCount        *int      `json:"viewer_count" nullable:"true" doc:"Current viewers"`
	AverageBitrateKbps *int      `json:"average_bitrate_kbps" nullable:"true" doc:"Average ingest bitrate"`
}

// CreateRequest is the body of a create call.
type CreateRequest struct {
	AutoRecord bool     `json:"auto_record" doc:"Enable recording from the start"`
	Languages  []string `json:"languages" minItems:"1" doc:"BCP 47 language tags, primary first"`
	Quality    string   `json:"quality" enum:"1080p,720p,480p" doc:"Broadcast quality"`
}

// RecordingPreferences is the recording group of a preferences patch.
// PostProcessing is always present, possibly empty.
type RecordingPreferences struct {
	Enabled         *bool    `json:"enabled,omitempty"`
	RetentionDays   *int     `json:"retention_days,omitempty" minimum:"0"`
	StorageLocation *string  `json:"storage_location,omitempty" enum:"cloud,local"`
	PostProcessing  []string `json:"post_processing"`
}

// PreferencesRequest is the partial body of a preferences call. Absent
// groups are left untouched by the studio.
type PreferencesRequest struct {
	Recording     *RecordingPreferences `json:"recording,omitempty"`
	Languages     []string              `json:"languages,omitempty"`
	Quality       *string               `json:"quality,omitempty" enum:"1080p,720p,480p"`
	AutoTranslate *bool                 `json:"auto_translate,omitempty"`
	Subtitles     *bool                 `json:"subtitles,omitempty"`
}

// EncodeStream converts a domain stream to its wire form.
func EncodeStream(s *livestream.LiveStream) StreamRecord {
	rec := StreamRecord{
		ID:          s.ID,
		PodcastID:   s.PodcastID,
		ServerURL:   s.ServerURL,
		StreamKey:   s.StreamKey,
		PlaybackURL: s.PlaybackURL,
		Status:      string(s.Status),
		Recording: RecordingRecord{
			Enabled:         s.Recording.Enabled,
			RetentionDays:   s.Recording.RetentionDays,
			StorageLocation: string(s.Recording.StorageLocation),
			PostProcessing:  make([]string, 0, len(s.Recording.PostProcessing)),
		},
		Languages:     append([]string{}, s.Languages...),
		Quality:       string(s.Quality),
		AutoTranslate: s.AutoTranslate,
		Subtitles:     s.Subtitles,
		CreatedAt:     s.CreatedAt,
	}
	for _, p := range s.Recording.PostProcessing {
		rec.Recording.PostProcessing = append(rec.Recording.PostProcessing, string(p))
	}
	if s.LastStartedAt != nil {
		t := *s.LastStartedAt
		rec.LastStartedAt = &t
	}
	if s.LatestViewerCount != nil {
		n := *s.LatestViewerCount
		rec.LatestViewerCount = &n
	}
	return rec
}

// DecodeStream converts a wire record to a domain stream, rejecting values
// outside the known enums. A null languages or post_processing array is not
// valid on the wire and decodes as an empty list, so it re-encodes as [].
func DecodeStream(rec StreamRecord) (*livestream.LiveStream, error) {
	status := livestream.Status(rec.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", rec.Status)
	}
	quality := livestream.Quality(rec.Quality)
	if !quality.Valid() {
		return nil, fmt.Errorf("unknown quality %q", rec.Quality)
	}
	storage := livestream.StorageLocation(rec.Recording.StorageLocation)
	if !storage.Valid() {
		return nil, fmt.Errorf("unknown storage location %q", rec.Recording.StorageLocation)
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("missing stream id")
	}

	steps := make([]livestream.PostProcessing, 0, len(rec.Recording.PostProcessing))
	for _, raw := range rec.Recording.PostProcessing {
		p := livestream.PostProcessing(raw)
		if !p.Valid() {
			return nil, fmt.Errorf("unknown post-processing step %q", raw)
		}
		steps = append(steps, p)
	}

	s := &livestream.LiveStream{
		ID:          rec.ID,
		PodcastID:   rec.PodcastID,
		ServerURL:   rec.ServerURL,
		StreamKey:   rec.StreamKey,
		PlaybackURL: rec.PlaybackURL,
		Status:      status,
		Recording: livestream.Recording{
			Enabled:         rec.Recording.Enabled,
			RetentionDays:   rec.Recording.RetentionDays,
			StorageLocation: storage,
			PostProcessing:  steps,
		},
		Languages:     append([]string{}, rec.Languages...),
		Quality:       quality,
		AutoTranslate: rec.AutoTranslate,
		Subtitles:     rec.Subtitles,
		CreatedAt:     rec.CreatedAt,
	}
	if rec.LastStartedAt != nil {
		t := *rec.LastStartedAt
		s.LastStartedAt = &t
	}
	if rec.LatestViewerCount != nil {
		n := *rec.LatestViewerCount
		s.LatestViewerCount = &n
	}
	return s, nil
}

// EncodeSnapshot converts a domain snapshot to its wire form.
func EncodeSnapshot(s *livestream.StatusSnapshot) SnapshotRecord {
	snap := s.Clone()
	return SnapshotRecord{
		Status:             string(snap.Status),
		UpdatedAt:          snap.UpdatedAt,
		ViewerCount:        snap.ViewerCount,
		AverageBitrateKbps: snap.AverageBitrateKbps,
	}
}

// DecodeSnapshot converts a wire snapshot to the domain form.
func DecodeSnapshot(rec SnapshotRecord) (*livestream.StatusSnapshot, error) {
	status := livestream.Status(rec.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", rec.Status)
	}
	snap := &livestream.StatusSnapshot{
		Status:             status,
		UpdatedAt:          rec.UpdatedAt,
		ViewerCount:        rec.ViewerCount,
		AverageBitrateKbps: rec.AverageBitrateKbps,
	}
	return snap.Clone(), nil
}

// EncodeCreate converts create parameters to the wire body.
func EncodeCreate(in livestream.CreateInput) CreateRequest {
	return CreateRequest{
		AutoRecord: in.AutoRecord,
		Languages:  append([]string{}, in.Languages...),
		Quality:    string(in.Quality),
	}
}

// EncodePreferences converts a domain patch to the wire body. Only touched
// groups are emitted.
func EncodePreferences(p livestream.PreferencesPatch) PreferencesRequest {
	var req PreferencesRequest
	if p.Recording != nil {
		rec := &RecordingPreferences{
			Enabled:        p.Recording.Enabled,
			RetentionDays:  p.Recording.RetentionDays,
			PostProcessing: make([]string, 0, len(p.Recording.PostProcessing)),
		}
		if p.Recording.StorageLocation != nil {
			loc := string(*p.Recording.StorageLocation)
			rec.StorageLocation = &loc
		}
		for _, step := range p.Recording.PostProcessing {
			rec.PostProcessing = append(rec.PostProcessing, string(step))
		}
		req.Recording = rec
	}
	if p.Languages != nil {
		req.Languages = append([]string{}, p.Languages...)
	}
	if p.Quality != nil {
		q := string(*p.Quality)
		req.Quality = &q
	}
	req.AutoTranslate = p.AutoTranslate
	req.Subtitles = p.Subtitles
	return req
}

// DecodePreferences converts a wire patch to the domain form.
func DecodePreferences(req PreferencesRequest) (livestream.PreferencesPatch, error) {
	var p livestream.PreferencesPatch
	if req.Recording != nil {
		rec := &livestream.RecordingPatch{
			Enabled:        req.Recording.Enabled,
			RetentionDays:  req.Recording.RetentionDays,
			PostProcessing: make([]livestream.PostProcessing, 0, len(req.Recording.PostProcessing)),
		}
		if req.Recording.StorageLocation != nil {
			loc := livestream.StorageLocation(*req.Recording.StorageLocation)
			if !loc.Valid() {
				return p, fmt.Errorf("unknown storage location %q", loc)
			}
			rec.StorageLocation = &loc
		}
		for _, raw := range req.Recording.PostProcessing {
			step := livestream.PostProcessing(raw)
			if !step.Valid() {
				return p, fmt.Errorf("unknown post-processing step %q", raw)
			}
			rec.PostProcessing = append(rec.PostProcessing, step)
		}
		p.Recording = rec
	}
	if req.Languages != nil {
		p.Languages = append([]string{}, req.Languages...)
	}
	if req.Quality != nil {
		q := livestream.Quality(*req.Quality)
		if !q.Valid() {
			return p, fmt.Errorf("unknown quality %q", q)
		}
		p.Quality = &q
	}
	p.AutoTranslate = req.AutoTranslate
	p.Subtitles = req.Subtitles
	return p, nil
}
