package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/livecast/internal/api/models"
	"github.com/smazurov/livecast/internal/controller"
	"github.com/smazurov/livecast/internal/livestream"
	"github.com/smazurov/livecast/internal/preferences"
	"github.com/smazurov/livecast/internal/studio"
)

const liveStreamPath = "/api/podcasts/{podcast_id}/live-stream"

// registerLiveStreamRoutes registers the projection and command endpoints.
func (s *Server) registerLiveStreamRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-live-stream",
		Method:      http.MethodGet,
		Path:        liveStreamPath,
		Summary:     "Get Live Stream",
		Description: "Get the podcast's live stream projection. The stream is null when none has been created.",
		Tags:        []string{"live-stream"},
		Errors:      []int{422, 502},
	}, func(ctx context.Context, input *models.PodcastInput) (*models.LiveStreamResponse, error) {
		return s.withController(ctx, input.PodcastID, func(_ context.Context, c *controller.Controller) (controller.View, error) {
			return c.View(), nil
		})
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-live-stream",
		Method:        http.MethodPost,
		Path:          liveStreamPath,
		Summary:       "Create Live Stream",
		Description:   "Create the podcast's live stream. Omitted fields use the configured defaults.",
		Tags:          []string{"live-stream"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{409, 422, 502},
	}, func(ctx context.Context, input *models.CreateLiveStreamRequest) (*models.LiveStreamResponse, error) {
		in := s.createInput(input.Body)
		return s.withController(ctx, input.PodcastID, func(ctx context.Context, c *controller.Controller) (controller.View, error) {
			return c.Create(ctx, in)
		})
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-live-stream",
		Method:      http.MethodPost,
		Path:        liveStreamPath + "/start",
		Summary:     "Start Live Stream",
		Description: "Start broadcasting. Only an offline stream can be started.",
		Tags:        []string{"live-stream"},
		Errors:      []int{409, 422, 502},
	}, func(ctx context.Context, input *models.PodcastInput) (*models.LiveStreamResponse, error) {
		return s.withController(ctx, input.PodcastID, func(ctx context.Context, c *controller.Controller) (controller.View, error) {
			return c.Start(ctx)
		})
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-live-stream",
		Method:      http.MethodPost,
		Path:        liveStreamPath + "/stop",
		Summary:     "Stop Live Stream",
		Description: "Stop broadcasting. Only a starting or live stream can be stopped.",
		Tags:        []string{"live-stream"},
		Errors:      []int{409, 422, 502},
	}, func(ctx context.Context, input *models.PodcastInput) (*models.LiveStreamResponse, error) {
		return s.withController(ctx, input.PodcastID, func(ctx context.Context, c *controller.Controller) (controller.View, error) {
			return c.Stop(ctx)
		})
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-live-stream-preferences",
		Method:      http.MethodPatch,
		Path:        liveStreamPath + "/preferences",
		Summary:     "Update Preferences",
		Description: "Apply a partial preference edit. Only the groups present in the body are sent to the studio.",
		Tags:        []string{"live-stream"},
		Errors:      []int{409, 422, 502},
	}, func(ctx context.Context, input *models.PreferencesRequest) (*models.LiveStreamResponse, error) {
		edit := editFromBody(input.Body)
		return s.withController(ctx, input.PodcastID, func(ctx context.Context, c *controller.Controller) (controller.View, error) {
			return c.UpdatePreferences(ctx, edit)
		})
	})
}

// withController runs fn against the podcast's controller for the duration
// of one request.
func (s *Server) withController(
	ctx context.Context,
	podcastID string,
	fn func(context.Context, *controller.Controller) (controller.View, error),
) (*models.LiveStreamResponse, error) {
	c, release, err := s.registry.Acquire(ctx, podcastID)
	if err != nil {
		return nil, s.mapLiveStreamError(err)
	}
	defer release()

	if s.options.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.options.CommandTimeout)
		defer cancel()
	}

	view, err := fn(ctx, c)
	if err != nil {
		return nil, s.mapLiveStreamError(err)
	}
	return &models.LiveStreamResponse{Body: toLiveStreamData(view)}, nil
}

// createInput fills omitted create fields from the catalog defaults.
func (s *Server) createInput(body models.CreateLiveStreamBody) livestream.CreateInput {
	defaults := s.options.Catalog.Defaults
	in := livestream.CreateInput{
		AutoRecord: defaults.AutoRecord,
		Languages:  append([]string{}, defaults.Languages...),
		Quality:    defaults.Quality,
	}
	if body.AutoRecord != nil {
		in.AutoRecord = *body.AutoRecord
	}
	if len(body.Languages) > 0 {
		in.Languages = append([]string{}, body.Languages...)
	}
	if body.Quality != "" {
		in.Quality = livestream.Quality(body.Quality)
	}
	return in
}

// editFromBody converts the request body to a preference edit. Enum values
// are passed through unchecked; preferences.Build rejects unknown ones.
func editFromBody(body models.PreferencesBody) preferences.Edit {
	var edit preferences.Edit
	if body.Recording != nil {
		rec := &preferences.RecordingEdit{
			Enabled:       body.Recording.Enabled,
			RetentionDays: body.Recording.RetentionDays,
		}
		if body.Recording.StorageLocation != "" {
			loc := livestream.StorageLocation(body.Recording.StorageLocation)
			rec.StorageLocation = &loc
		}
		for _, step := range body.Recording.PostProcessing {
			rec.PostProcessing = append(rec.PostProcessing, livestream.PostProcessing(step))
		}
		edit.Recording = rec
	}
	if body.Languages != nil {
		edit.Languages = append([]string{}, body.Languages...)
	}
	if body.Quality != "" {
		q := livestream.Quality(body.Quality)
		edit.Quality = &q
	}
	edit.AutoTranslate = body.AutoTranslate
	edit.Subtitles = body.Subtitles
	return edit
}

// toLiveStreamData converts a controller view to the API projection.
func toLiveStreamData(v controller.View) models.LiveStreamData {
	data := models.LiveStreamData{
		PodcastID: v.PodcastID,
		Pending:   v.Pending,
		Actions: models.ActionsData{
			CanCreate: v.CanCreate(),
			CanStart:  v.CanStart(),
			CanStop:   v.CanStop(),
		},
	}
	if v.Stream != nil {
		rec := studio.EncodeStream(v.Stream)
		data.Stream = &rec
	}
	if v.Snapshot != nil {
		snap := studio.EncodeSnapshot(v.Snapshot)
		data.Snapshot = &snap
	}
	return data
}

// mapLiveStreamError maps domain errors to HTTP errors
func (s *Server) mapLiveStreamError(err error) error {
	var lsErr *livestream.Error
	if errors.As(err, &lsErr) {
		switch lsErr.Code {
		case livestream.ErrCodeValidation:
			return huma.Error422UnprocessableEntity(lsErr.Message, err)
		case livestream.ErrCodeStateConflict:
			return huma.Error409Conflict(lsErr.Message, err)
		case livestream.ErrCodeTransport:
			return huma.Error502BadGateway(lsErr.Message, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return huma.Error502BadGateway("studio request timed out", err)
	}
	s.logger.Error("Unexpected live stream error", "error", err)
	return huma.Error500InternalServerError("internal server error", err)
}
