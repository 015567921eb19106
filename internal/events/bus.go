package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(StreamChangedEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event dispatches on the static type, so resolve it here
	switch e := ev.(type) {
	case StreamChangedEvent:
		event.Publish(b.dispatcher, e)
	case SnapshotUpdatedEvent:
		event.Publish(b.dispatcher, e)
	case PendingChangedEvent:
		event.Publish(b.dispatcher, e)
	case CommandFailedEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e StreamChangedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(StreamChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SnapshotUpdatedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PendingChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CommandFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}
