package events

import "github.com/smazurov/livecast/internal/livestream"

// Event type constants for kelindar/event.
const (
	TypeStreamChanged uint32 = iota + 1
	TypeSnapshotUpdated
	TypePendingChanged
	TypeCommandFailed
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Reasons carried by StreamChangedEvent.
const (
	ReasonLoaded      = "loaded"
	ReasonCreated     = "created"
	ReasonStarted     = "started"
	ReasonStopped     = "stopped"
	ReasonPreferences = "preferences"
	ReasonObserved    = "observed"
)

// StreamChangedEvent is published whenever the canonical stream record of a
// podcast is replaced.
type StreamChangedEvent struct {
	PodcastID      string                 `json:"podcast_id" example:"pod_42" doc:"Podcast identifier"`
	Stream         *livestream.LiveStream `json:"stream" doc:"New canonical stream record, null when none exists"`
	PreviousStatus livestream.Status      `json:"previous_status,omitempty" example:"starting" doc:"Status before the change"`
	Reason         string                 `json:"reason" example:"started" doc:"What caused the change: loaded, created, started, stopped, preferences, observed"`
	Timestamp      string                 `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamChangedEvent.
func (e StreamChangedEvent) Type() uint32 { return TypeStreamChanged }

// SnapshotUpdatedEvent is published when a status sample is merged.
type SnapshotUpdatedEvent struct {
	PodcastID string                     `json:"podcast_id" example:"pod_42" doc:"Podcast identifier"`
	StreamID  string                     `json:"stream_id" example:"ls_0b5e" doc:"Stream identifier"`
	Snapshot  *livestream.StatusSnapshot `json:"snapshot" doc:"Latest status sample"`
	Timestamp string                     `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SnapshotUpdatedEvent.
func (e SnapshotUpdatedEvent) Type() uint32 { return TypeSnapshotUpdated }

// PendingChangedEvent is published when a command starts or finishes.
type PendingChangedEvent struct {
	PodcastID string             `json:"podcast_id" example:"pod_42" doc:"Podcast identifier"`
	Pending   livestream.Pending `json:"pending" doc:"Commands currently in flight"`
	Timestamp string             `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PendingChangedEvent.
func (e PendingChangedEvent) Type() uint32 { return TypePendingChanged }

// CommandFailedEvent is published when a command is rejected or fails.
type CommandFailedEvent struct {
	PodcastID string `json:"podcast_id" example:"pod_42" doc:"Podcast identifier"`
	Command   string `json:"command" example:"start" doc:"Command name"`
	Code      string `json:"code" example:"TRANSPORT" doc:"Error code: VALIDATION, TRANSPORT, STATE_CONFLICT"`
	Error     string `json:"error" doc:"Error message"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CommandFailedEvent.
func (e CommandFailedEvent) Type() uint32 { return TypeCommandFailed }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
