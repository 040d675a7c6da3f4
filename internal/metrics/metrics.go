// Package metrics holds the Prometheus collectors of the scan pipeline.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orion_scan_frames_total",
		Help: "Frames seen by the scan loop by outcome",
	}, []string{"outcome"})

	acquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orion_scan_acquisitions_total",
		Help: "Camera acquisitions by result",
	}, []string{"result"})

	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orion_scan_uploads_total",
		Help: "Uploaded image decodes by result and tier",
	}, []string{"result", "tier"})

	handoffsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orion_scan_handoffs_total",
		Help: "Product references delivered to navigation by extraction method",
	}, []string{"method"})

	decodeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orion_scan_decode_seconds",
		Help:    "Wall time of one decode call (both polarities)",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"source"})
)

// Frame outcomes.
const (
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Decode sources.
const (
	SourceCamera = "camera"
	SourceUpload = "upload"
)

// RecordFrame counts one loop iteration.
func RecordFrame(outcome string) {
	framesTotal.WithLabelValues(normalize(outcome, OutcomeHit, OutcomeMiss, OutcomeSkipped, OutcomeError)).Inc()
}

// RecordAcquisition counts one acquisition attempt. result is "ok" or an error kind.
func RecordAcquisition(result string) {
	if result == "" {
		result = "unknown"
	}
	acquisitionsTotal.WithLabelValues(result).Inc()
}

// RecordUpload counts one upload decode.
func RecordUpload(result, tier string) {
	if result == "" {
		result = "unknown"
	}
	if tier == "" {
		tier = "none"
	}
	uploadsTotal.WithLabelValues(result, tier).Inc()
}

// RecordHandoff counts one delivered product reference.
func RecordHandoff(method string) {
	handoffsTotal.WithLabelValues(normalize(method, "url_pattern", "direct")).Inc()
}

// ObserveDecode records the duration of a decode started at start.
func ObserveDecode(source string, start time.Time) {
	decodeSeconds.WithLabelValues(normalize(source, SourceCamera, SourceUpload)).Observe(time.Since(start).Seconds())
}

func normalize(v string, allowed ...string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return "unknown"
}
