// Package metrics provides Prometheus metrics for the live-stream controllers
// and the studio client.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/livecast/internal/livestream"
)

const namespace = "livecast"

// Command results.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Poll results.
const (
	PollOK    = "ok"
	PollError = "error"
	PollStale = "stale"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "controller",
		Name:      "commands_total",
		Help:      "Lifecycle commands by name and result",
	}, []string{"command", "result"})

	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "polls_total",
		Help:      "Status polls by result",
	}, []string{"result"})

	streamStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "status",
		Help:      "Canonical stream status, 1 for the current status",
	}, []string{"podcast_id", "status"})

	streamViewers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "viewers",
		Help:      "Viewer count from the latest status sample",
	}, []string{"podcast_id"})

	streamBitrate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "average_bitrate_kbps",
		Help:      "Average ingest bitrate from the latest status sample",
	}, []string{"podcast_id"})

	registryControllers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "controllers",
		Help:      "Controllers currently held by at least one subscriber",
	})

	studioRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "studio",
		Name:      "request_duration_seconds",
		Help:      "Studio API request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "code"})
)

// RecordCommand counts one lifecycle command.
func RecordCommand(command, result string) {
	commandsTotal.WithLabelValues(command, result).Inc()
}

// CommandResult maps a command error to its result label.
func CommandResult(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case livestream.IsConflict(err), livestream.IsValidation(err):
		return ResultRejected
	default:
		return ResultError
	}
}

// RecordPoll counts one status poll.
func RecordPoll(result string) {
	pollsTotal.WithLabelValues(result).Inc()
}

// SetStreamStatus marks status as the podcast's current status.
func SetStreamStatus(podcastID string, status livestream.Status) {
	for _, s := range livestream.Statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		streamStatus.WithLabelValues(podcastID, string(s)).Set(v)
	}
}

// SetSnapshot exports the telemetry of a status sample.
func SetSnapshot(podcastID string, snap *livestream.StatusSnapshot) {
	if snap == nil {
		return
	}
	if snap.ViewerCount != nil {
		streamViewers.WithLabelValues(podcastID).Set(float64(*snap.ViewerCount))
	} else {
		streamViewers.DeleteLabelValues(podcastID)
	}
	if snap.AverageBitrateKbps != nil {
		streamBitrate.WithLabelValues(podcastID).Set(float64(*snap.AverageBitrateKbps))
	} else {
		streamBitrate.DeleteLabelValues(podcastID)
	}
}

// DeleteStream removes all per-podcast series.
func DeleteStream(podcastID string) {
	for _, s := range livestream.Statuses {
		streamStatus.DeleteLabelValues(podcastID, string(s))
	}
	streamViewers.DeleteLabelValues(podcastID)
	streamBitrate.DeleteLabelValues(podcastID)
}

// SetControllers sets the number of live controllers.
func SetControllers(n int) {
	registryControllers.Set(float64(n))
}

// ObserveStudioRequest records one studio request. code is the HTTP status,
// or 0 when no response was received.
func ObserveStudioRequest(operation string, code int, d time.Duration) {
	label := "none"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	studioRequestDuration.WithLabelValues(operation, label).Observe(d.Seconds())
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
