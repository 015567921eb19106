package sandbox

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/livecast/internal/livestream"
	"github.com/smazurov/livecast/internal/preferences"
	"github.com/smazurov/livecast/internal/sandbox/store"
	"github.com/smazurov/livecast/internal/studio"
)

type podcastInput struct {
	PodcastID string `path:"podcast_id" example:"pod_42" doc:"Podcast identifier"`
}

type createInput struct {
	PodcastID string `path:"podcast_id" example:"pod_42" doc:"Podcast identifier"`
	Body      studio.CreateRequest
}

type streamInput struct {
	StreamID string `path:"stream_id" doc:"Stream identifier"`
}

type preferencesInput struct {
	StreamID string `path:"stream_id" doc:"Stream identifier"`
	Body     studio.PreferencesRequest
}

type forceStatusBody struct {
	Status string `json:"status" enum:"offline,failed,error" doc:"Status to force"`
}

type forceStatusInput struct {
	StreamID string `path:"stream_id" doc:"Stream identifier"`
	Body     forceStatusBody
}

type streamResponse struct {
	Body studio.StreamRecord
}

type snapshotResponse struct {
	Body studio.SnapshotRecord
}

// Register mounts the studio routes on api.
func (s *Studio) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "studio-fetch-live-stream",
		Method:      http.MethodGet,
		Path:        "/v1/podcasts/{podcast_id}/live-stream",
		Summary:     "Fetch Live Stream",
		Tags:        []string{"studio"},
		Errors:      []int{404},
	}, func(_ context.Context, input *podcastInput) (*streamResponse, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		rec, ok := s.store.Get(input.PodcastID)
		if !ok {
			return nil, huma.Error404NotFound("podcast " + input.PodcastID + " has no live stream")
		}
		rec, err := s.currentLocked(rec.ID)
		if err != nil {
			return nil, err
		}
		return &streamResponse{Body: toRecord(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "studio-create-live-stream",
		Method:        http.MethodPost,
		Path:          "/v1/podcasts/{podcast_id}/live-stream",
		Summary:       "Create Live Stream",
		Tags:          []string{"studio"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{409, 422},
	}, func(_ context.Context, input *createInput) (*streamResponse, error) {
		in, err := preferences.NormalizeCreate(livestream.CreateInput{
			AutoRecord: input.Body.AutoRecord,
			Languages:  input.Body.Languages,
			Quality:    livestream.Quality(input.Body.Quality),
		})
		if err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if existing, ok := s.store.Get(input.PodcastID); ok {
			return nil, huma.Error409Conflict("podcast " + input.PodcastID + " already has live stream " + existing.ID)
		}
		rec := s.newStream(input.PodcastID, in, s.now())
		if err := s.saveLocked(rec); err != nil {
			return nil, err
		}
		s.logger.Info("Live stream created", "podcast_id", rec.PodcastID, "stream_id", rec.ID)
		return &streamResponse{Body: toRecord(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "studio-start-live-stream",
		Method:      http.MethodPost,
		Path:        "/v1/live-streams/{stream_id}/start",
		Summary:     "Start Live Stream",
		Tags:        []string{"studio"},
		Errors:      []int{404, 409},
	}, func(_ context.Context, input *streamInput) (*streamResponse, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		rec, err := s.currentLocked(input.StreamID)
		if err != nil {
			return nil, err
		}
		if !livestream.Status(rec.Status).CanStart() {
			return nil, huma.Error409Conflict("cannot start a " + rec.Status + " stream")
		}

		now := s.now()
		rec.Status = string(livestream.StatusStarting)
		rec.StatusSince = now
		rec.SetLastStartedAt(&now)
		if err := s.saveLocked(rec); err != nil {
			return nil, err
		}
		s.logger.Info("Live stream starting", "stream_id", rec.ID)
		return &streamResponse{Body: toRecord(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "studio-stop-live-stream",
		Method:      http.MethodPost,
		Path:        "/v1/live-streams/{stream_id}/stop",
		Summary:     "Stop Live Stream",
		Tags:        []string{"studio"},
		Errors:      []int{404, 409},
	}, func(_ context.Context, input *streamInput) (*streamResponse, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		rec, err := s.currentLocked(input.StreamID)
		if err != nil {
			return nil, err
		}
		if !livestream.Status(rec.Status).CanStop() {
			return nil, huma.Error409Conflict("cannot stop a " + rec.Status + " stream")
		}

		now := s.now()
		if sample := snapshot(rec, now); sample.ViewerCount != nil {
			n := *sample.ViewerCount
			rec.LatestViewerCount = &n
		}
		rec.Status = string(livestream.StatusStopping)
		rec.StatusSince = now
		if err := s.saveLocked(rec); err != nil {
			return nil, err
		}
		s.logger.Info("Live stream stopping", "stream_id", rec.ID)
		return &streamResponse{Body: toRecord(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "studio-live-stream-status",
		Method:      http.MethodGet,
		Path:        "/v1/live-streams/{stream_id}/status",
		Summary:     "Live Stream Status",
		Tags:        []string{"studio"},
		Errors:      []int{404},
	}, func(_ context.Context, input *streamInput) (*snapshotResponse, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		rec, err := s.currentLocked(input.StreamID)
		if err != nil {
			return nil, err
		}
		return &snapshotResponse{Body: studio.EncodeSnapshot(snapshot(rec, s.now()))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "studio-update-preferences",
		Method:      http.MethodPatch,
		Path:        "/v1/live-streams/{stream_id}/preferences",
		Summary:     "Update Preferences",
		Tags:        []string{"studio"},
		Errors:      []int{404, 422},
	}, func(_ context.Context, input *preferencesInput) (*streamResponse, error) {
		patch, err := studio.DecodePreferences(input.Body)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		if patch.Languages != nil {
			langs, langErr := preferences.CanonicalLanguages(patch.Languages)
			if langErr != nil {
				return nil, huma.Error422UnprocessableEntity(langErr.Error())
			}
			patch.Languages = langs
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		rec, err := s.currentLocked(input.StreamID)
		if err != nil {
			return nil, err
		}
		applyPatch(&rec, patch)
		if err := s.saveLocked(rec); err != nil {
			return nil, err
		}
		s.logger.Info("Preferences updated", "stream_id", rec.ID, "groups", patch.Groups())
		return &streamResponse{Body: toRecord(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sandbox-force-status",
		Method:      http.MethodPut,
		Path:        "/sandbox/live-streams/{stream_id}/status",
		Summary:     "Force Status",
		Description: "Sandbox only. Forces a stream into a terminal failure, or back to offline for manual recovery.",
		Tags:        []string{"sandbox"},
		Errors:      []int{404},
	}, func(_ context.Context, input *forceStatusInput) (*streamResponse, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		rec, err := s.currentLocked(input.StreamID)
		if err != nil {
			return nil, err
		}
		rec.Status = input.Body.Status
		rec.StatusSince = s.now()
		if err := s.saveLocked(rec); err != nil {
			return nil, err
		}
		s.logger.Warn("Status forced", "stream_id", rec.ID, "status", rec.Status)
		return &streamResponse{Body: toRecord(rec)}, nil
	})
}

// toRecord converts a persisted stream to its wire form.
func toRecord(rec store.Stream) studio.StreamRecord {
	out := studio.StreamRecord{
		ID:          rec.ID,
		PodcastID:   rec.PodcastID,
		ServerURL:   rec.ServerURL,
		StreamKey:   rec.StreamKey,
		PlaybackURL: rec.PlaybackURL,
		Status:      rec.Status,
		Recording: studio.RecordingRecord{
			Enabled:         rec.Recording.Enabled,
			RetentionDays:   rec.Recording.RetentionDays,
			StorageLocation: rec.Recording.StorageLocation,
			PostProcessing:  append([]string{}, rec.Recording.PostProcessing...),
		},
		Languages:     append([]string{}, rec.Languages...),
		Quality:       rec.Quality,
		AutoTranslate: rec.AutoTranslate,
		Subtitles:     rec.Subtitles,
		CreatedAt:     rec.CreatedAt,
	}
	out.LastStartedAt = rec.LastStartedAt()
	if rec.LatestViewerCount != nil {
		n := *rec.LatestViewerCount
		out.LatestViewerCount = &n
	}
	return out
}
