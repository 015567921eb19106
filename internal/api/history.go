package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/livecast/internal/api/models"
	"github.com/smazurov/livecast/internal/history"
)

// HistoryReader lists recorded status transitions.
type HistoryReader interface {
	List(ctx context.Context, podcastID string, limit int) ([]history.Transition, error)
}

type historyInput struct {
	PodcastID string `path:"podcast_id" example:"pod_42" doc:"Podcast identifier"`
	Limit     int    `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Maximum number of transitions"`
}

// registerHistoryRoutes registers the transition history endpoint when a
// reader is configured.
func (s *Server) registerHistoryRoutes() {
	if s.options.History == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "get-live-stream-history",
		Method:      http.MethodGet,
		Path:        liveStreamPath + "/history",
		Summary:     "Live Stream History",
		Description: "Recorded status transitions of the podcast's live stream, newest first.",
		Tags:        []string{"live-stream"},
		Errors:      []int{502},
	}, func(ctx context.Context, input *historyInput) (*models.HistoryResponse, error) {
		rows, err := s.options.History.List(ctx, input.PodcastID, input.Limit)
		if err != nil {
			s.logger.Warn("Failed to list transitions", "podcast_id", input.PodcastID, "error", err)
			return nil, huma.Error502BadGateway("history unavailable", err)
		}
		return &models.HistoryResponse{Body: models.HistoryData{Transitions: rows}}, nil
	})
}
