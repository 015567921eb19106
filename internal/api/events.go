package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/livecast/internal/api/models"
	"github.com/smazurov/livecast/internal/events"
	"github.com/smazurov/livecast/internal/livestream"
)

// StreamErrorData is sent when the event stream cannot be served.
type StreamErrorData struct {
	Code    string `json:"code" example:"TRANSPORT" doc:"Error code: VALIDATION, TRANSPORT, STATE_CONFLICT"`
	Message string `json:"message" doc:"Error message"`
}

// registerEventRoutes registers the per-podcast live stream SSE endpoint.
func (s *Server) registerEventRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "live-stream-events",
		Method:      http.MethodGet,
		Path:        liveStreamPath + "/events",
		Summary:     "Live Stream Events",
		Description: "Holds the podcast's controller for the connection lifetime. Sends the projection first, then a fresh projection after every change, plus command failures.",
		Tags:        []string{"events"},
	}, map[string]any{
		"live-stream":    models.LiveStreamData{},
		"command-failed": events.CommandFailedEvent{},
		"error":          StreamErrorData{},
	}, func(ctx context.Context, input *models.PodcastInput, send sse.Sender) {
		c, release, err := s.registry.Acquire(ctx, input.PodcastID)
		if err != nil {
			_ = send.Data(StreamErrorData{Code: livestream.CodeOf(err), Message: err.Error()})
			return
		}
		defer release()

		podcastID := c.PodcastID()
		eventCh := make(chan any, 32)
		unsubscribers := []func(){
			events.SubscribeFiltered(s.eventBus, eventCh, func(e events.StreamChangedEvent) bool { return e.PodcastID == podcastID }),
			events.SubscribeFiltered(s.eventBus, eventCh, func(e events.SnapshotUpdatedEvent) bool { return e.PodcastID == podcastID }),
			events.SubscribeFiltered(s.eventBus, eventCh, func(e events.PendingChangedEvent) bool { return e.PodcastID == podcastID }),
			events.SubscribeFiltered(s.eventBus, eventCh, func(e events.CommandFailedEvent) bool { return e.PodcastID == podcastID }),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		if err := send.Data(toLiveStreamData(c.View())); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if failed, ok := event.(events.CommandFailedEvent); ok {
					if err := send.Data(failed); err != nil {
						return
					}
					continue
				}
				// Events may arrive out of order; the view is always current.
				if err := send.Data(toLiveStreamData(c.View())); err != nil {
					return
				}
			}
		}
	})
}
