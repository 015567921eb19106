package livestream

import "context"

// Repository is the request/response boundary to the remote studio service.
// Implementations hold no local state, never cache and never retry.
type Repository interface {
	// Fetch returns the podcast's stream, or (nil, nil) if none was created yet.
	Fetch(ctx context.Context, podcastID string) (*LiveStream, error)

	// Create creates the podcast's stream.
	Create(ctx context.Context, podcastID string, input CreateInput) (*LiveStream, error)

	// Start requests the broadcast to start. The response only guarantees StatusStarting.
	Start(ctx context.Context, streamID string) (*LiveStream, error)

	// Stop requests the broadcast to stop. The response only guarantees StatusStopping.
	Stop(ctx context.Context, streamID string) (*LiveStream, error)

	// Status samples the current status and telemetry.
	Status(ctx context.Context, streamID string) (*StatusSnapshot, error)

	// UpdatePreferences submits a partial preference update and returns the
	// full merged record.
	UpdatePreferences(ctx context.Context, streamID string, patch PreferencesPatch) (*LiveStream, error)
}
