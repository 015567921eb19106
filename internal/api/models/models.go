package models

import (
	"github.com/smazurov/livecast/internal/history"
	"github.com/smazurov/livecast/internal/livestream"
	"github.com/smazurov/livecast/internal/studio"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"a1b2c3d4" doc:"Unique build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Compiler used"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// PodcastInput addresses a podcast's live stream.
type PodcastInput struct {
	PodcastID string `path:"podcast_id" example:"pod_42" doc:"Podcast identifier"`
}

// ActionsData tells the panel which commands are currently allowed.
type ActionsData struct {
	CanCreate bool `json:"can_create" doc:"Create would be accepted"`
	CanStart  bool `json:"can_start" doc:"Start would be accepted"`
	CanStop   bool `json:"can_stop" doc:"Stop would be accepted"`
}

// LiveStreamData is the read-only projection of a podcast's live stream.
type LiveStreamData struct {
	PodcastID string                 `json:"podcast_id" example:"pod_42" doc:"Podcast identifier"`
	Stream    *studio.StreamRecord   `json:"stream" doc:"Canonical stream record, null when none exists"`
	Snapshot  *studio.SnapshotRecord `json:"snapshot" doc:"Latest status sample of the current stream"`
	Pending   livestream.Pending     `json:"pending" doc:"Commands in flight"`
	Actions   ActionsData            `json:"actions" doc:"Commands currently allowed"`
}

type LiveStreamResponse struct {
	Body LiveStreamData
}

// CreateLiveStreamBody is the create payload. Omitted fields use the
// configured defaults.
type CreateLiveStreamBody struct {
	AutoRecord *bool    `json:"auto_record,omitempty" doc:"Enable recording from the start"`
	Languages  []string `json:"languages,omitempty" doc:"BCP 47 language tags, primary first"`
	Quality    string   `json:"quality,omitempty" enum:"1080p,720p,480p" doc:"Broadcast quality"`
}

type CreateLiveStreamRequest struct {
	PodcastID string `path:"podcast_id" example:"pod_42" doc:"Podcast identifier"`
	Body      CreateLiveStreamBody
}

// RecordingEditBody holds the recording fields of a preference edit. When the
// group is present, post_processing replaces the whole set.
type RecordingEditBody struct {
	Enabled         *bool    `json:"enabled,omitempty" doc:"Whether the broadcast is recorded"`
	RetentionDays   *int     `json:"retention_days,omitempty" doc:"Days a recording is kept"`
	StorageLocation string   `json:"storage_location,omitempty" enum:"cloud,local" doc:"Where recordings are stored"`
	PostProcessing  []string `json:"post_processing,omitempty" doc:"Post-processing steps; omitted means none"`
}

// PreferencesBody is a partial preference edit. Only present groups change.
type PreferencesBody struct {
	Recording     *RecordingEditBody `json:"recording,omitempty" doc:"Recording settings"`
	Languages     []string           `json:"languages,omitempty" doc:"BCP 47 language tags, primary first"`
	Quality       string             `json:"quality,omitempty" enum:"1080p,720p,480p" doc:"Broadcast quality"`
	AutoTranslate *bool              `json:"auto_translate,omitempty" doc:"Automatic translation"`
	Subtitles     *bool              `json:"subtitles,omitempty" doc:"Live subtitles"`
}

type PreferencesRequest struct {
	PodcastID string `path:"podcast_id" example:"pod_42" doc:"Podcast identifier"`
	Body      PreferencesBody
}

// LanguageOption is a selectable broadcast language.
type LanguageOption struct {
	Tag        string `json:"tag" example:"pt-BR" doc:"BCP 47 tag"`
	Name       string `json:"name" example:"Brazilian Portuguese" doc:"English display name"`
	NativeName string `json:"native_name" example:"português (Brasil)" doc:"Name in the language itself"`
}

// CreateDefaults are applied to create requests that omit a field.
type CreateDefaults struct {
	AutoRecord bool     `json:"auto_record" doc:"Default recording flag"`
	Languages  []string `json:"languages" doc:"Default languages"`
	Quality    string   `json:"quality" doc:"Default quality"`
}

// OptionsData lists everything the preference panel may offer.
type OptionsData struct {
	Qualities        []string         `json:"qualities" doc:"Selectable qualities"`
	StorageLocations []string         `json:"storage_locations" doc:"Recording storage locations"`
	PostProcessing   []string         `json:"post_processing" doc:"Available post-processing steps"`
	Languages        []LanguageOption `json:"languages" doc:"Selectable languages"`
	Defaults         CreateDefaults   `json:"defaults" doc:"Defaults used by create"`
}

type OptionsResponse struct {
	Body OptionsData
}

// HistoryData lists recorded status transitions.
type HistoryData struct {
	Transitions []history.Transition `json:"transitions" doc:"Most recent first"`
}

type HistoryResponse struct {
	Body HistoryData
}
