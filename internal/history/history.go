// Package history records live stream status transitions in Postgres.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/smazurov/livecast/internal/events"
	"github.com/smazurov/livecast/internal/logging"
)

const writeTimeout = 5 * time.Second

// Transition is one recorded status change. FromStatus is empty for the
// creation of a stream.
type Transition struct {
	PodcastID  string    `json:"podcast_id" example:"pod_42" doc:"Podcast identifier"`
	StreamID   string    `json:"stream_id" example:"ls_0b5e" doc:"Stream identifier"`
	FromStatus string    `json:"from_status" example:"starting" doc:"Status before the change, empty on creation"`
	ToStatus   string    `json:"to_status" example:"live" doc:"Status after the change"`
	Reason     string    `json:"reason" example:"observed" doc:"What caused the change"`
	OccurredAt time.Time `json:"occurred_at" doc:"When the controller applied the change"`
}

// NewPool connects to Postgres. A `schema` query parameter on the URL
// becomes the connection's search_path.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	normalizedURL, schema := normalizeDatabaseURL(databaseURL)
	cfg, err := pgxpool.ParseConfig(normalizedURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if schema != "" {
		if cfg.ConnConfig.RuntimeParams == nil {
			cfg.ConnConfig.RuntimeParams = map[string]string{}
		}
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	// Simple protocol so the multi-statement schema runs in one Exec.
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return p, nil
}

func normalizeDatabaseURL(databaseURL string) (string, string) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return databaseURL, ""
	}
	q := u.Query()
	schema := q.Get("schema")
	if schema == "" {
		return databaseURL, ""
	}
	q.Del("schema")
	u.RawQuery = q.Encode()
	return u.String(), schema
}

// ApplySchema creates the table and index if missing.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("nil pool")
	}
	if _, err := pool.Exec(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Recorder follows StreamChangedEvents and inserts a row per transition.
type Recorder struct {
	pool   *pgxpool.Pool
	bus    *events.Bus
	logger *slog.Logger

	mu    sync.Mutex
	unsub func()
}

// NewRecorder creates a recorder. Call Start to begin following the bus.
func NewRecorder(pool *pgxpool.Pool, bus *events.Bus) *Recorder {
	return &Recorder{
		pool:   pool,
		bus:    bus,
		logger: logging.GetLogger("history"),
	}
}

// Start subscribes to stream changes.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsub != nil {
		return
	}
	r.unsub = r.bus.Subscribe(func(e events.StreamChangedEvent) {
		t, ok := transitionFrom(e)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.Insert(ctx, t); err != nil {
			r.logger.Warn("Failed to record transition", "podcast_id", t.PodcastID, "error", err)
			return
		}
		r.logger.Debug("Transition recorded",
			"podcast_id", t.PodcastID,
			"from", t.FromStatus,
			"to", t.ToStatus,
			"reason", t.Reason)
	})
	r.logger.Info("Transition history started")
}

// Stop unsubscribes from the bus. It does not close the pool.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}

// Insert stores one transition.
func (r *Recorder) Insert(ctx context.Context, t Transition) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO live_stream_transitions (
			podcast_id,
			stream_id,
			from_status,
			to_status,
			reason,
			occurred_at
		) VALUES ($1,$2,$3,$4,$5,$6)
	`, t.PodcastID, t.StreamID, t.FromStatus, t.ToStatus, t.Reason, t.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert transition (podcast=%s to=%s): %w", t.PodcastID, t.ToStatus, err)
	}
	return nil
}

// List returns the most recent transitions of a podcast, newest first.
func (r *Recorder) List(ctx context.Context, podcastID string, limit int) ([]Transition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT podcast_id, stream_id, from_status, to_status, reason, occurred_at
		FROM live_stream_transitions
		WHERE podcast_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`, podcastID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	out := []Transition{}
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.PodcastID, &t.StreamID, &t.FromStatus, &t.ToStatus, &t.Reason, &t.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate transitions: %w", rows.Err())
	}
	return out, nil
}

// transitionFrom extracts a transition from a stream change. Loads and
// preference updates that keep the status are not transitions.
func transitionFrom(e events.StreamChangedEvent) (Transition, bool) {
	if e.Stream == nil || e.Reason == events.ReasonLoaded {
		return Transition{}, false
	}
	if e.Reason != events.ReasonCreated && e.PreviousStatus == e.Stream.Status {
		return Transition{}, false
	}

	occurred := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
		occurred = ts
	}
	return Transition{
		PodcastID:  e.PodcastID,
		StreamID:   e.Stream.ID,
		FromStatus: string(e.PreviousStatus),
		ToStatus:   string(e.Stream.Status),
		Reason:     e.Reason,
		OccurredAt: occurred,
	}, true
}
