package poller

// State represents the poller lifecycle state.
type State int

const (
	// StateIdle means nothing is armed or in flight.
	StateIdle State = iota
	// StateArmed means a timer is waiting to fire.
	StateArmed
	// StatePolling means a fetch is in flight.
	StatePolling
	// StateCancelled means the chain was stopped for good.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StatePolling:
		return "polling"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
