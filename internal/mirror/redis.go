// Package mirror copies each podcast's live stream and latest status sample
// into Redis so that other services can read them without going through the
// controller. Every write refreshes the key's TTL and is announced on a
// pub/sub channel.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smazurov/livecast/internal/events"
	"github.com/smazurov/livecast/internal/livestream"
	"github.com/smazurov/livecast/internal/logging"
	"github.com/smazurov/livecast/internal/studio"
)

// Channel receives a Notification after every write.
const Channel = "livecast:live_stream_events"

// Hash fields of a podcast key.
const (
	FieldStream   = "stream"
	FieldSnapshot = "snapshot"
)

const (
	// DefaultTTL applies when Options.TTL is zero.
	DefaultTTL   = 24 * time.Hour
	writeTimeout = 5 * time.Second
)

// KeyForPodcast returns the hash key of a podcast. The braces keep a
// podcast's key in one Redis Cluster hash slot.
func KeyForPodcast(podcastID string) string {
	return fmt.Sprintf("livecast:live_stream:{%s}", podcastID)
}

// Notification is published on Channel after a write.
type Notification struct {
	PodcastID string `json:"podcast_id"`
	Field     string `json:"field"`
	Status    string `json:"status,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Options configures a Mirror.
type Options struct {
	Client *redis.Client
	Bus    *events.Bus
	TTL    time.Duration
}

// Mirror writes controller events to Redis.
type Mirror struct {
	client *redis.Client
	bus    *events.Bus
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	unsubs []func()
}

// New creates a mirror. Call Start to begin following the bus.
func New(opts *Options) *Mirror {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Mirror{
		client: opts.Client,
		bus:    opts.Bus,
		ttl:    ttl,
		logger: logging.GetLogger("mirror"),
	}
}

// Start subscribes to stream and snapshot events.
func (m *Mirror) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubs != nil {
		return
	}

	m.unsubs = []func(){
		m.bus.Subscribe(func(e events.StreamChangedEvent) {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if err := m.WriteStream(ctx, e.PodcastID, e.Stream, e.Reason); err != nil {
				m.logger.Warn("Failed to mirror stream", "podcast_id", e.PodcastID, "error", err)
			}
		}),
		m.bus.Subscribe(func(e events.SnapshotUpdatedEvent) {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if err := m.WriteSnapshot(ctx, e.PodcastID, e.Snapshot); err != nil {
				m.logger.Warn("Failed to mirror snapshot", "podcast_id", e.PodcastID, "error", err)
			}
		}),
	}
	m.logger.Info("Redis mirror started", "ttl", m.ttl)
}

// Stop unsubscribes from the bus. It does not close the client.
func (m *Mirror) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
}

// WriteStream stores the stream record. A nil stream clears the key.
func (m *Mirror) WriteStream(ctx context.Context, podcastID string, stream *livestream.LiveStream, reason string) error {
	key := KeyForPodcast(podcastID)
	note := Notification{PodcastID: podcastID, Field: FieldStream, Reason: reason}

	pipe := m.client.TxPipeline()
	if stream == nil {
		pipe.Del(ctx, key)
	} else {
		value, err := encodeStream(stream)
		if err != nil {
			return err
		}
		note.Status = string(stream.Status)
		pipe.HSet(ctx, key, FieldStream, value)
		pipe.Expire(ctx, key, m.ttl)
	}
	if err := m.publish(ctx, pipe, note); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline exec %s: %w", key, err)
	}
	return nil
}

// WriteSnapshot stores the latest status sample.
func (m *Mirror) WriteSnapshot(ctx context.Context, podcastID string, snap *livestream.StatusSnapshot) error {
	if snap == nil {
		return nil
	}
	key := KeyForPodcast(podcastID)
	value, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, key, FieldSnapshot, value)
	pipe.Expire(ctx, key, m.ttl)
	note := Notification{PodcastID: podcastID, Field: FieldSnapshot, Status: string(snap.Status)}
	if err := m.publish(ctx, pipe, note); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline exec %s: %w", key, err)
	}
	return nil
}

// Read returns the mirrored records of a podcast. Missing fields are nil.
func (m *Mirror) Read(ctx context.Context, podcastID string) (*studio.StreamRecord, *studio.SnapshotRecord, error) {
	key := KeyForPodcast(podcastID)
	fields, err := m.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis HGETALL %s: %w", key, err)
	}

	var stream *studio.StreamRecord
	if raw, ok := fields[FieldStream]; ok {
		stream = &studio.StreamRecord{}
		if err := json.Unmarshal([]byte(raw), stream); err != nil {
			return nil, nil, fmt.Errorf("decode mirrored stream: %w", err)
		}
	}
	var snap *studio.SnapshotRecord
	if raw, ok := fields[FieldSnapshot]; ok {
		snap = &studio.SnapshotRecord{}
		if err := json.Unmarshal([]byte(raw), snap); err != nil {
			return nil, nil, fmt.Errorf("decode mirrored snapshot: %w", err)
		}
	}
	return stream, snap, nil
}

func (m *Mirror) publish(ctx context.Context, pipe redis.Pipeliner, note Notification) error {
	note.Timestamp = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	pipe.Publish(ctx, Channel, string(payload))
	return nil
}

func encodeStream(stream *livestream.LiveStream) (string, error) {
	b, err := json.Marshal(studio.EncodeStream(stream))
	if err != nil {
		return "", fmt.Errorf("marshal stream %s: %w", stream.ID, err)
	}
	return string(b), nil
}

func encodeSnapshot(snap *livestream.StatusSnapshot) (string, error) {
	b, err := json.Marshal(studio.EncodeSnapshot(snap))
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(b), nil
}
