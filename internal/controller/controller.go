package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/livecast/internal/events"
	"github.com/smazurov/livecast/internal/livestream"
	"github.com/smazurov/livecast/internal/logging"
	"github.com/smazurov/livecast/internal/metrics"
	"github.com/smazurov/livecast/internal/poller"
	"github.com/smazurov/livecast/internal/preferences"
)

// followUpTimeout bounds the status fetch that follows a start or stop.
const followUpTimeout = 10 * time.Second

// Command names used in logs, events and metrics.
const (
	CommandCreate            = "create"
	CommandStart             = "start"
	CommandStop              = "stop"
	CommandUpdatePreferences = "update_preferences"
)

// Options configures a new Controller.
type Options struct {
	// PodcastID identifies the owning podcast (required).
	PodcastID string

	// Repository is the studio boundary (required).
	Repository livestream.Repository

	// Bus receives state change events (optional).
	Bus *events.Bus

	// PollInterval between status polls. Zero uses poller.DefaultInterval.
	PollInterval time.Duration

	// Logger for controller operations. If nil, uses the "controller" module logger.
	Logger *slog.Logger
}

// Controller owns the canonical stream record of one podcast. It enforces
// the lifecycle state machine and the in-flight command guards, and keeps
// the status snapshot fresh while the stream is active.
//
// The mutex is never held across a repository call, so commands, polls and
// preference updates interleave at every remote call.
type Controller struct {
	podcastID string
	repo      livestream.Repository
	bus       *events.Bus
	logger    *slog.Logger
	poller    *poller.Poller
	ctx       context.Context
	cancel    context.CancelFunc

	mu           sync.Mutex
	stream       *livestream.LiveStream
	snapshot     *livestream.StatusSnapshot
	pending      pendingOp
	prefsPending bool
	generation   uint64
	loaded       bool
	closed       bool
}

// New creates a controller. Call Load before issuing commands.
func New(opts *Options) *Controller {
	if opts == nil || opts.Repository == nil || opts.PodcastID == "" {
		panic("controller Options with PodcastID and Repository are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("controller")
	}
	logger = logger.With("podcast_id", opts.PodcastID)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		podcastID: opts.PodcastID,
		repo:      opts.Repository,
		bus:       opts.Bus,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	c.poller = poller.New(&poller.Options{
		Poll:     c.poll,
		Active:   c.active,
		Interval: opts.PollInterval,
		Logger:   logging.GetLogger("poller").With("podcast_id", opts.PodcastID),
	})
	return c
}

// PodcastID returns the owning podcast.
func (c *Controller) PodcastID() string {
	return c.podcastID
}

// View returns the current projection.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// SetPollInterval changes the delay before the next armed poll.
func (c *Controller) SetPollInterval(d time.Duration) {
	c.poller.SetInterval(d)
}

// PollerState exposes the poller state for diagnostics.
func (c *Controller) PollerState() poller.State {
	return c.poller.State()
}

// Load performs the initial fetch. It runs once; later calls are no-ops.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.loaded {
		c.mu.Unlock()
		return nil
	}
	if c.closed {
		c.mu.Unlock()
		return livestream.ConflictError("controller is closed")
	}
	c.mu.Unlock()

	s, err := c.repo.Fetch(ctx, c.podcastID)
	if err != nil {
		c.logger.Warn("Initial fetch failed", "error", err)
		return err
	}

	c.mu.Lock()
	if c.loaded {
		c.mu.Unlock()
		return nil
	}
	c.loaded = true
	changed := c.applyLocked(s, events.ReasonLoaded)
	c.mu.Unlock()

	if s == nil {
		c.logger.Info("No live stream yet")
	} else {
		c.logger.Info("Live stream loaded", "stream_id", s.ID, "status", s.Status)
	}
	c.publish(changed)
	c.poller.Trigger()
	return nil
}

// Create creates the podcast's stream. Only valid while none exists.
func (c *Controller) Create(ctx context.Context, input livestream.CreateInput) (View, error) {
	input, err := preferences.NormalizeCreate(input)
	if err != nil {
		return c.reject(CommandCreate, err)
	}
	return c.mutate(ctx, pendingCreate, events.ReasonCreated,
		func(s *livestream.LiveStream) error {
			if s != nil {
				return livestream.ConflictError("cannot create: stream %s already exists", s.ID)
			}
			return nil
		},
		func(ctx context.Context, _ string) (*livestream.LiveStream, error) {
			return c.repo.Create(ctx, c.podcastID, input)
		})
}

// Start requests the broadcast to start. Valid only from offline with no
// other lifecycle command in flight.
func (c *Controller) Start(ctx context.Context) (View, error) {
	return c.mutate(ctx, pendingStart, events.ReasonStarted,
		func(s *livestream.LiveStream) error {
			if s == nil {
				return livestream.ConflictError("cannot start: no stream exists")
			}
			if !s.Status.CanStart() {
				return livestream.ConflictError("cannot start: stream is %s", s.Status)
			}
			return nil
		},
		c.repo.Start)
}

// Stop requests the broadcast to stop. Valid only from live or starting
// with no other lifecycle command in flight.
func (c *Controller) Stop(ctx context.Context) (View, error) {
	return c.mutate(ctx, pendingStop, events.ReasonStopped,
		func(s *livestream.LiveStream) error {
			if s == nil {
				return livestream.ConflictError("cannot stop: no stream exists")
			}
			if !s.Status.CanStop() {
				return livestream.ConflictError("cannot stop: stream is %s", s.Status)
			}
			return nil
		},
		c.repo.Stop)
}

// UpdatePreferences submits a partial preference edit. It is valid in any
// lifecycle status and only guarded against a concurrent preference update.
func (c *Controller) UpdatePreferences(ctx context.Context, edit preferences.Edit) (View, error) {
	patch, err := preferences.Build(edit)
	if err != nil {
		return c.reject(CommandUpdatePreferences, err)
	}

	c.mu.Lock()
	if err := c.commonGuardLocked(); err != nil {
		c.mu.Unlock()
		return c.reject(CommandUpdatePreferences, err)
	}
	if c.stream == nil {
		c.mu.Unlock()
		return c.reject(CommandUpdatePreferences, livestream.ConflictError("cannot update preferences: no stream exists"))
	}
	if c.prefsPending {
		c.mu.Unlock()
		return c.reject(CommandUpdatePreferences, livestream.ConflictError("preference update already in progress"))
	}
	c.prefsPending = true
	streamID := c.stream.ID
	issuedAt := c.generation
	pending := c.pendingLocked()
	c.mu.Unlock()

	c.publishPending(pending)
	c.logger.Debug("Updating preferences", "stream_id", streamID, "groups", patch.Groups())

	s, err := c.repo.UpdatePreferences(ctx, streamID, patch)
	if err == nil && s == nil {
		err = livestream.TransportError("malformed response", errors.New("empty stream record"))
	}

	c.mu.Lock()
	c.prefsPending = false
	var changed *events.StreamChangedEvent
	if err == nil {
		if issuedAt != c.generation && c.stream != nil {
			// A lifecycle response landed while this update was in flight and
			// is newer for status.
			s = s.Clone()
			s.Status = c.stream.Status
			s.LastStartedAt = nil
			if c.stream.LastStartedAt != nil {
				t := *c.stream.LastStartedAt
				s.LastStartedAt = &t
			}
		}
		changed = c.applyLocked(s, events.ReasonPreferences)
	}
	view := c.viewLocked()
	pending = c.pendingLocked()
	c.mu.Unlock()

	c.publishPending(pending)
	if err != nil {
		c.fail(CommandUpdatePreferences, err)
		return view, err
	}

	metrics.RecordCommand(CommandUpdatePreferences, metrics.ResultOK)
	c.logger.Info("Preferences updated", "stream_id", streamID, "groups", patch.Groups())
	c.publish(changed)
	c.poller.Trigger()
	return view, nil
}

// Close cancels polling and any follow-up fetch. It does not wait for an
// in-flight repository call to return.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.poller.Cancel()
	c.cancel()
	metrics.DeleteStream(c.podcastID)
	c.logger.Debug("Controller closed")
}

// mutate runs one lifecycle command under the single pending flag.
func (c *Controller) mutate(
	ctx context.Context,
	op pendingOp,
	reason string,
	guard func(*livestream.LiveStream) error,
	call func(context.Context, string) (*livestream.LiveStream, error),
) (View, error) {
	command := op.String()

	c.mu.Lock()
	if err := c.commonGuardLocked(); err != nil {
		c.mu.Unlock()
		return c.reject(command, err)
	}
	if c.pending != pendingNone {
		err := livestream.ConflictError("cannot %s: %s already in progress", command, c.pending)
		c.mu.Unlock()
		return c.reject(command, err)
	}
	if err := guard(c.stream); err != nil {
		c.mu.Unlock()
		return c.reject(command, err)
	}
	streamID := ""
	if c.stream != nil {
		streamID = c.stream.ID
	}
	c.pending = op
	pending := c.pendingLocked()
	c.mu.Unlock()

	c.publishPending(pending)
	c.logger.Debug("Command issued", "command", command, "stream_id", streamID)

	s, err := call(ctx, streamID)
	if err == nil && s == nil {
		err = livestream.TransportError("malformed response", errors.New("empty stream record"))
	}

	c.mu.Lock()
	c.pending = pendingNone
	var changed *events.StreamChangedEvent
	if err == nil {
		changed = c.applyLocked(s, reason)
	}
	generation := c.generation
	view := c.viewLocked()
	pending = c.pendingLocked()
	c.mu.Unlock()

	c.publishPending(pending)
	if err != nil {
		c.fail(command, err)
		return view, err
	}

	metrics.RecordCommand(command, metrics.ResultOK)
	c.logger.Info("Command succeeded", "command", command, "stream_id", s.ID, "status", s.Status)
	c.publish(changed)

	if op == pendingStart || op == pendingStop {
		go c.followUp(s.ID, generation)
	}
	c.poller.Trigger()
	return view, nil
}

// followUp performs the best-effort status fetch after start or stop. The
// result only refreshes the snapshot.
func (c *Controller) followUp(streamID string, generation uint64) {
	ctx, cancel := context.WithTimeout(c.ctx, followUpTimeout)
	defer cancel()

	snap, err := c.repo.Status(ctx, streamID)
	if err != nil {
		if !errors.Is(ctx.Err(), context.Canceled) {
			c.logger.Warn("Follow-up status fetch failed", "stream_id", streamID, "error", err)
		}
		return
	}
	c.mergeSnapshot(streamID, generation, snap, false)
}

// poll is the poller's fetch. Failures keep the previous snapshot.
func (c *Controller) poll(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.stream == nil {
		c.mu.Unlock()
		return
	}
	streamID := c.stream.ID
	generation := c.generation
	c.mu.Unlock()

	snap, err := c.repo.Status(ctx, streamID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.RecordPoll(metrics.PollError)
		c.logger.Warn("Status poll failed", "stream_id", streamID, "error", err)
		return
	}
	c.mergeSnapshot(streamID, generation, snap, true)
}

// mergeSnapshot stores a status sample. When advance is set and no mutation
// response was applied since the sample was requested, the observed status
// may move the canonical record along an allowed edge.
func (c *Controller) mergeSnapshot(streamID string, generation uint64, snap *livestream.StatusSnapshot, advance bool) {
	if snap == nil {
		return
	}
	c.mu.Lock()
	if c.closed || c.stream == nil || c.stream.ID != streamID {
		c.mu.Unlock()
		metrics.RecordPoll(metrics.PollStale)
		return
	}
	if c.snapshot != nil && snap.UpdatedAt.Before(c.snapshot.UpdatedAt) {
		c.mu.Unlock()
		metrics.RecordPoll(metrics.PollStale)
		c.logger.Debug("Dropped out-of-order snapshot", "stream_id", streamID, "updated_at", snap.UpdatedAt)
		return
	}
	c.snapshot = snap.Clone()

	var changed *events.StreamChangedEvent
	current := c.stream.Status
	if advance && generation == c.generation && current.CanAdvanceTo(snap.Status) {
		next := c.stream.Clone()
		next.Status = snap.Status
		c.stream = next
		c.generation++
		changed = &events.StreamChangedEvent{
			PodcastID:      c.podcastID,
			Stream:         next.Clone(),
			PreviousStatus: current,
			Reason:         events.ReasonObserved,
			Timestamp:      timestamp(),
		}
		metrics.SetStreamStatus(c.podcastID, next.Status)
	} else if advance && snap.Status != current && generation == c.generation {
		c.logger.Debug("Observed status not applied", "stream_id", streamID, "status", current, "observed", snap.Status)
	}
	published := c.snapshot.Clone()
	c.mu.Unlock()

	metrics.RecordPoll(metrics.PollOK)
	metrics.SetSnapshot(c.podcastID, published)
	c.publishEvent(events.SnapshotUpdatedEvent{
		PodcastID: c.podcastID,
		StreamID:  streamID,
		Snapshot:  published,
		Timestamp: timestamp(),
	})
	if changed != nil {
		c.logger.Info("Status changed", "stream_id", streamID, "from", current, "to", changed.Stream.Status)
		c.publish(changed)
	}
}

// active reports whether polling should continue. It is called by the
// poller with its lock held.
func (c *Controller) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.stream != nil && c.stream.Status.Active()
}

// applyLocked replaces the canonical record wholesale.
func (c *Controller) applyLocked(next *livestream.LiveStream, reason string) *events.StreamChangedEvent {
	prev := c.stream
	if prev != nil && next != nil {
		if prev.ServerURL != next.ServerURL || prev.StreamKey != next.StreamKey {
			c.logger.Warn("Studio changed immutable ingest settings", "stream_id", next.ID)
		}
		if prev.ID != next.ID {
			c.snapshot = nil
		}
	}
	if next == nil {
		c.snapshot = nil
	}

	c.stream = next.Clone()
	c.generation++

	ev := &events.StreamChangedEvent{
		PodcastID: c.podcastID,
		Stream:    next.Clone(),
		Reason:    reason,
		Timestamp: timestamp(),
	}
	if prev != nil {
		ev.PreviousStatus = prev.Status
	}
	if next != nil {
		metrics.SetStreamStatus(c.podcastID, next.Status)
	}
	return ev
}

func (c *Controller) commonGuardLocked() error {
	if c.closed {
		return livestream.ConflictError("controller is closed")
	}
	if !c.loaded {
		return livestream.ConflictError("stream not loaded yet")
	}
	return nil
}

func (c *Controller) viewLocked() View {
	return View{
		PodcastID: c.podcastID,
		Loaded:    c.loaded,
		Stream:    c.stream.Clone(),
		Snapshot:  c.snapshot.Clone(),
		Pending:   c.pendingLocked(),
	}
}

func (c *Controller) pendingLocked() livestream.Pending {
	return livestream.Pending{
		Create:            c.pending == pendingCreate,
		Start:             c.pending == pendingStart,
		Stop:              c.pending == pendingStop,
		UpdatePreferences: c.prefsPending,
	}
}

// reject reports a command refused before any repository call.
func (c *Controller) reject(command string, err error) (View, error) {
	c.fail(command, err)
	return c.View(), err
}

func (c *Controller) fail(command string, err error) {
	result := metrics.CommandResult(err)
	metrics.RecordCommand(command, result)
	if result == metrics.ResultRejected {
		c.logger.Info("Command rejected", "command", command, "error", err)
	} else {
		c.logger.Warn("Command failed", "command", command, "error", err)
	}
	c.publishEvent(events.CommandFailedEvent{
		PodcastID: c.podcastID,
		Command:   command,
		Code:      livestream.CodeOf(err),
		Error:     err.Error(),
		Timestamp: timestamp(),
	})
}

func (c *Controller) publish(ev *events.StreamChangedEvent) {
	if ev != nil {
		c.publishEvent(*ev)
	}
}

func (c *Controller) publishPending(p livestream.Pending) {
	c.publishEvent(events.PendingChangedEvent{
		PodcastID: c.podcastID,
		Pending:   p,
		Timestamp: timestamp(),
	})
}

func (c *Controller) publishEvent(ev events.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
