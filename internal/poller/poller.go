package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/livecast/internal/logging"
)

// DefaultInterval is the delay between two status fetches.
const DefaultInterval = 5 * time.Second

// PollFunc performs one fetch. The context is cancelled by Cancel.
type PollFunc func(ctx context.Context)

// ActiveFunc reports whether the watched subject still needs polling.
type ActiveFunc func() bool

// Options configures a new Poller.
type Options struct {
	// Poll performs one status fetch (required).
	Poll PollFunc

	// Active is consulted before arming and again before a fired timer
	// fetches (required).
	Active ActiveFunc

	// Interval between fetches. Zero uses DefaultInterval.
	Interval time.Duration

	// Logger for poller operations. If nil, uses slog.Default().
	Logger logging.Logger
}

// Poller runs a chain of deferred fetches. Each fetch is armed from the
// outcome of the previous one, so at most one timer or fetch exists at a
// time.
type Poller struct {
	opts     Options
	interval atomic.Int64
	logger   logging.Logger

	mu     sync.Mutex
	state  State
	timer  *time.Timer
	ctx    context.Context
	cancel context.CancelFunc
	polls  int
}

// New creates an idle poller.
func New(opts *Options) *Poller {
	if opts == nil || opts.Poll == nil || opts.Active == nil {
		panic("poller Options with Poll and Active are required")
	}

	var logger logging.Logger = slog.Default()
	if opts.Logger != nil {
		logger = opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		opts:   *opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	p.SetInterval(opts.Interval)
	return p
}

// SetInterval changes the delay used for the next armed fetch.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	p.interval.Store(int64(d))
}

// Interval returns the current delay between fetches.
func (p *Poller) Interval() time.Duration {
	return time.Duration(p.interval.Load())
}

// State returns the current poller state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Polls returns how many fetches were started.
func (p *Poller) Polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

// Trigger arms one deferred fetch if the subject is active and nothing is
// armed or in flight. It reports whether a fetch was armed.
func (p *Poller) Trigger() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return false
	}
	if !p.opts.Active() {
		return false
	}

	interval := p.Interval()
	p.state = StateArmed
	p.timer = time.AfterFunc(interval, p.fire)
	p.logger.Debug("Poll armed", "interval", interval)
	return true
}

// Cancel stops the chain permanently. An armed timer never fires and an
// in-flight fetch sees its context cancelled. Cancel does not wait for the
// fetch to return.
func (p *Poller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateCancelled {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.state = StateCancelled
	p.cancel()
	p.logger.Debug("Poller cancelled")
}

func (p *Poller) fire() {
	p.mu.Lock()
	if p.state != StateArmed {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	if !p.opts.Active() {
		p.state = StateIdle
		p.mu.Unlock()
		p.logger.Debug("Poll skipped, subject no longer active")
		return
	}
	p.state = StatePolling
	p.polls++
	ctx := p.ctx
	p.mu.Unlock()

	p.opts.Poll(ctx)

	p.mu.Lock()
	if p.state == StatePolling {
		p.state = StateIdle
	}
	p.mu.Unlock()

	p.Trigger()
}
