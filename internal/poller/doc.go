// Package poller provides a self-cancelling chain of deferred fetches.
//
// A Poller never runs on a fixed ticker. After each state-changing event the
// owner calls Trigger; when the subject is active and the poller is idle,
// one timer is armed. When the timer fires the fetch runs, and on return the
// poller calls Trigger again with whatever the subject's state is by then.
//
// States:
//   - idle: nothing armed or in flight
//   - armed: one timer pending
//   - polling: one fetch in flight
//   - cancelled: terminal, Trigger is a no-op
//
// Example usage:
//
//	p := poller.New(&poller.Options{
//	    Poll:     func(ctx context.Context) { refresh(ctx) },
//	    Active:   func() bool { return status().Active() },
//	    Interval: 5 * time.Second,
//	})
//	p.Trigger()
//	defer p.Cancel()
//
// Active is called with the poller's lock held, so it must not call back
// into the poller.
package poller
