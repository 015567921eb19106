package controller

import "github.com/smazurov/livecast/internal/livestream"

// View is the read-only projection handed to presentation code. It is a
// deep copy and never aliases controller state.
type View struct {
	PodcastID string                     `json:"podcast_id"`
	Loaded    bool                       `json:"loaded"`
	Stream    *livestream.LiveStream     `json:"stream"`
	Snapshot  *livestream.StatusSnapshot `json:"snapshot"`
	Pending   livestream.Pending         `json:"pending"`
}

// CanCreate reports whether a create command would pass the guards.
func (v View) CanCreate() bool {
	return v.Loaded && v.Stream == nil && !v.Pending.Create && !v.Pending.Start && !v.Pending.Stop
}

// CanStart reports whether a start command would pass the guards.
func (v View) CanStart() bool {
	return v.Stream != nil && v.Stream.Status.CanStart() && !v.Pending.Create && !v.Pending.Start && !v.Pending.Stop
}

// CanStop reports whether a stop command would pass the guards.
func (v View) CanStop() bool {
	return v.Stream != nil && v.Stream.Status.CanStop() && !v.Pending.Create && !v.Pending.Start && !v.Pending.Stop
}

type pendingOp int

const (
	pendingNone pendingOp = iota
	pendingCreate
	pendingStart
	pendingStop
)

func (p pendingOp) String() string {
	switch p {
	case pendingCreate:
		return "create"
	case pendingStart:
		return "start"
	case pendingStop:
		return "stop"
	default:
		return "none"
	}
}
