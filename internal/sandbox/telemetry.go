package sandbox

import (
	"time"

	"github.com/smazurov/livecast/internal/livestream"
	"github.com/smazurov/livecast/internal/sandbox/store"
)

var (
	baseViewers = map[livestream.Quality]int{
		livestream.Quality1080p: 120,
		livestream.Quality720p:  80,
		livestream.Quality480p:  40,
	}
	baseBitrateKbps = map[livestream.Quality]int{
		livestream.Quality1080p: 6000,
		livestream.Quality720p:  3500,
		livestream.Quality480p:  1500,
	}
)

// viewersAt grows the audience by one every ten seconds live, up to three
// times the quality's base.
func viewersAt(quality livestream.Quality, live time.Duration) int {
	base := baseViewers[quality]
	n := base + int(live/(10*time.Second))
	if n > base*3 {
		n = base * 3
	}
	return n
}

// bitrateAt wobbles slightly below the quality's nominal bitrate.
func bitrateAt(quality livestream.Quality, live time.Duration) int {
	return baseBitrateKbps[quality] - int(live/time.Second)%7*10
}

// snapshot samples a record at now.
func snapshot(rec store.Stream, now time.Time) *livestream.StatusSnapshot {
	snap := &livestream.StatusSnapshot{
		Status:    livestream.Status(rec.Status),
		UpdatedAt: now,
	}
	quality := livestream.Quality(rec.Quality)

	switch snap.Status {
	case livestream.StatusStarting:
		zero := 0
		snap.ViewerCount = &zero
	case livestream.StatusLive:
		elapsed := now.Sub(rec.StatusSince)
		viewers := viewersAt(quality, elapsed)
		bitrate := bitrateAt(quality, elapsed)
		snap.ViewerCount = &viewers
		snap.AverageBitrateKbps = &bitrate
	case livestream.StatusStopping:
		if rec.LatestViewerCount != nil {
			n := *rec.LatestViewerCount
			snap.ViewerCount = &n
		}
	}
	return snap
}
