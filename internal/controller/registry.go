package controller

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/livecast/internal/events"
	"github.com/smazurov/livecast/internal/livestream"
	"github.com/smazurov/livecast/internal/logging"
	"github.com/smazurov/livecast/internal/metrics"
)

// RegistryOptions configures a new Registry.
type RegistryOptions struct {
	// Repository shared by all controllers (required).
	Repository livestream.Repository

	// Bus shared by all controllers (optional).
	Bus *events.Bus

	// PollInterval for new and existing controllers.
	PollInterval time.Duration

	// Linger keeps a controller alive after its last release so short-lived
	// holders (one HTTP request) do not tear down polling. Zero closes at once.
	Linger time.Duration

	// Logger for registry operations. If nil, uses the "controller" module logger.
	Logger *slog.Logger
}

// Registry maps podcasts to controllers. A controller is created and loaded
// by the first Acquire and closed when its last holder releases it.
type Registry struct {
	repo     livestream.Repository
	bus      *events.Bus
	logger   *slog.Logger
	linger   time.Duration
	interval atomic.Int64

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	ctrl   *Controller
	refs   int
	ready  chan struct{}
	err    error
	expiry *time.Timer
}

// NewRegistry creates an empty registry.
func NewRegistry(opts *RegistryOptions) *Registry {
	if opts == nil || opts.Repository == nil {
		panic("RegistryOptions with Repository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("controller")
	}
	r := &Registry{
		repo:    opts.Repository,
		bus:     opts.Bus,
		logger:  logger,
		linger:  opts.Linger,
		entries: make(map[string]*entry),
	}
	r.interval.Store(int64(opts.PollInterval))
	return r
}

// Acquire returns the podcast's controller, creating and loading it if
// needed. Concurrent acquirers of a loading controller wait for the initial
// fetch and share its outcome. The returned release func must be called
// exactly once; extra calls are ignored.
func (r *Registry) Acquire(ctx context.Context, podcastID string) (*Controller, func(), error) {
	podcastID = strings.TrimSpace(podcastID)
	if podcastID == "" {
		return nil, nil, livestream.ValidationError("podcast id is required")
	}

	r.mu.Lock()
	if e, ok := r.entries[podcastID]; ok {
		e.refs++
		if e.expiry != nil {
			e.expiry.Stop()
			e.expiry = nil
		}
		r.mu.Unlock()

		select {
		case <-e.ready:
		case <-ctx.Done():
			r.release(podcastID, e)
			return nil, nil, livestream.TransportError("waiting for initial fetch", ctx.Err())
		}
		if e.err != nil {
			return nil, nil, e.err
		}
		return e.ctrl, r.releaser(podcastID, e), nil
	}

	e := &entry{
		ctrl: New(&Options{
			PodcastID:    podcastID,
			Repository:   r.repo,
			Bus:          r.bus,
			PollInterval: time.Duration(r.interval.Load()),
		}),
		refs:  1,
		ready: make(chan struct{}),
	}
	r.entries[podcastID] = e
	r.mu.Unlock()

	err := e.ctrl.Load(ctx)

	r.mu.Lock()
	if err != nil {
		e.err = err
		if r.entries[podcastID] == e {
			delete(r.entries, podcastID)
		}
		close(e.ready)
		r.mu.Unlock()

		e.ctrl.Close()
		r.logger.Warn("Controller load failed", "podcast_id", podcastID, "error", err)
		return nil, nil, err
	}
	close(e.ready)
	n := len(r.entries)
	r.mu.Unlock()

	metrics.SetControllers(n)
	r.logger.Debug("Controller acquired", "podcast_id", podcastID)
	return e.ctrl, r.releaser(podcastID, e), nil
}

func (r *Registry) releaser(podcastID string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() { r.release(podcastID, e) })
	}
}

func (r *Registry) release(podcastID string, e *entry) {
	r.mu.Lock()
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}
	if r.linger > 0 && e.err == nil && r.entries[podcastID] == e {
		e.expiry = time.AfterFunc(r.linger, func() { r.expire(podcastID, e) })
		r.mu.Unlock()
		return
	}
	r.drop(podcastID, e)
}

// expire closes a lingering controller unless it was acquired again.
func (r *Registry) expire(podcastID string, e *entry) {
	r.mu.Lock()
	if e.refs > 0 || r.entries[podcastID] != e {
		r.mu.Unlock()
		return
	}
	e.expiry = nil
	r.drop(podcastID, e)
}

// drop removes and closes an entry. Called with r.mu held; releases it.
func (r *Registry) drop(podcastID string, e *entry) {
	if r.entries[podcastID] == e {
		delete(r.entries, podcastID)
	}
	n := len(r.entries)
	r.mu.Unlock()

	e.ctrl.Close()
	metrics.SetControllers(n)
	r.logger.Debug("Controller released", "podcast_id", podcastID)
}

// Refs returns how many holders the podcast's controller has.
func (r *Registry) Refs(podcastID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[podcastID]; ok {
		return e.refs
	}
	return 0
}

// Podcasts returns the podcasts with a live controller, sorted.
func (r *Registry) Podcasts() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// SetPollInterval applies a new poll interval to every controller.
func (r *Registry) SetPollInterval(d time.Duration) {
	r.interval.Store(int64(d))

	r.mu.Lock()
	ctrls := make([]*Controller, 0, len(r.entries))
	for _, e := range r.entries {
		ctrls = append(ctrls, e.ctrl)
	}
	r.mu.Unlock()

	for _, c := range ctrls {
		c.SetPollInterval(d)
	}
	r.logger.Info("Poll interval updated", "interval", d, "controllers", len(ctrls))
}

// Close closes every controller regardless of holders.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		if e.expiry != nil {
			e.expiry.Stop()
		}
		e.ctrl.Close()
	}
	metrics.SetControllers(0)
}
