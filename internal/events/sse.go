package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges callback subscriptions to a channel for the
// select loops of SSE handlers. Events are dropped when ch is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}

// SubscribeFiltered is SubscribeToChannel restricted to events accepted by keep.
func SubscribeFiltered[T Event](bus *Bus, ch chan<- any, keep func(T) bool) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		if !keep(e) {
			return
		}
		select {
		case ch <- e:
		default:
		}
	})
}
