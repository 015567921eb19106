package livestream

// Status is the lifecycle state of a stream.
type Status string

// Lifecycle states.
const (
	StatusOffline  Status = "offline"  // Initial, and after a confirmed stop
	StatusStarting Status = "starting" // Start accepted, waiting for ingest
	StatusLive     Status = "live"     // Broadcasting
	StatusStopping Status = "stopping" // Stop accepted, waiting for teardown
	StatusFailed   Status = "failed"   // Terminal until manual recovery
	StatusError    Status = "error"    // Terminal until manual recovery
)

// Statuses lists every lifecycle state.
var Statuses = []Status{StatusOffline, StatusStarting, StatusLive, StatusStopping, StatusFailed, StatusError}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOffline, StatusStarting, StatusLive, StatusStopping, StatusFailed, StatusError:
		return true
	}
	return false
}

// Active reports whether the status is one during which polling must run.
func (s Status) Active() bool {
	return s == StatusStarting || s == StatusLive || s == StatusStopping
}

// Terminal reports whether the stream needs manual recovery.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusError
}

// CanStart reports whether Start is a valid command from s.
func (s Status) CanStart() bool {
	return s == StatusOffline
}

// CanStop reports whether Stop is a valid command from s.
func (s Status) CanStop() bool {
	return s == StatusLive || s == StatusStarting
}

// CanAdvanceTo reports whether a server-observed status may move the
// canonical record from s to next. Observations may confirm an in-progress
// transition, end a broadcast, abort a start or report a failure. They never
// move a stream back into a state a mutation already left.
func (s Status) CanAdvanceTo(next Status) bool {
	if s == next || !next.Valid() {
		return false
	}
	if next.Terminal() {
		return true
	}
	switch s {
	case StatusStarting:
		return next == StatusLive || next == StatusOffline
	case StatusLive:
		return next == StatusStopping || next == StatusOffline
	case StatusStopping:
		return next == StatusOffline
	}
	return false
}
