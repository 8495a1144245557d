// Package metrics provides Prometheus metrics for the session pool, uploads
// and range streaming.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mediabin"

// Label constants for consistent labeling across metrics.
const (
	LabelResult  = "result"  // success, failure, not_found
	LabelSession = "session" // pool index
	LabelKind    = "kind"    // audio, video, document
)

// Result label values.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultNotFound = "not_found"
)

var (
	// SessionsOnline tracks sessions that completed startup.
	SessionsOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_online",
			Help:      "Number of pool sessions currently online",
		},
	)

	// SessionStartsTotal counts session start attempts.
	SessionStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_starts_total",
			Help:      "Session start attempts by result",
		},
		[]string{LabelResult},
	)

	// FloodWaitsTotal counts rate-limit cool-downs absorbed at startup.
	FloodWaitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flood_waits_total",
			Help:      "Rate-limit cool-downs absorbed while starting sessions",
		},
	)

	// SessionInFlight tracks requests currently using each session.
	SessionInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_in_flight",
			Help:      "Requests currently served by a session",
		},
		[]string{LabelSession},
	)

	// LookupsTotal counts blob lookups by final result.
	LookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Blob metadata lookups by result",
		},
		[]string{LabelResult},
	)

	// FailoversTotal counts lookups served by a session other than the first
	// one tried.
	FailoversTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failovers_total",
			Help:      "Lookups that had to move to another session",
		},
	)

	// CacheRefreshesTotal counts destination cache refreshes during lookups.
	CacheRefreshesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_refreshes_total",
			Help:      "Destination cache refreshes triggered by lookup misses",
		},
	)

	// StreamsActive tracks open range streams.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Range streams currently open",
		},
	)

	// StreamedBytesTotal counts bytes emitted by range streams.
	StreamedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streamed_bytes_total",
			Help:      "Bytes emitted by range streams",
		},
	)

	// StreamErrorsTotal counts streams that failed after starting.
	StreamErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Range streams that failed mid-transfer",
		},
	)

	// UploadsTotal counts uploads by result and content kind.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads by result and content kind",
		},
		[]string{LabelResult, LabelKind},
	)

	// UploadedBytesTotal counts bytes of successful uploads.
	UploadedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes of successfully uploaded files",
		},
	)

	// UploadDuration observes how long successful uploads take.
	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Duration of successful uploads",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
)
