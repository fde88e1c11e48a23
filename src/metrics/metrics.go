package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service counters exposed on /metrics.
type Metrics struct {
	ImagesProcessed atomic.Uint64
	VideosProcessed atomic.Uint64
	FramesProcessed atomic.Uint64
	VideosTruncated atomic.Uint64
	RejectedUploads atomic.Uint64
	FailedRequests  atomic.Uint64
	ReportsRendered atomic.Uint64

	detections        *prometheus.CounterVec
	processingSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	counters := []struct {
		name  string
		help  string
		value *atomic.Uint64
	}{
		{"detection_images_processed_total", "Total images processed", &m.ImagesProcessed},
		{"detection_videos_processed_total", "Total videos processed", &m.VideosProcessed},
		{"detection_frames_processed_total", "Total video frames run through the detector", &m.FramesProcessed},
		{"detection_videos_truncated_total", "Total videos whose decoding stopped early", &m.VideosTruncated},
		{"detection_rejected_uploads_total", "Total uploads rejected as invalid", &m.RejectedUploads},
		{"detection_failed_requests_total", "Total requests that failed with a server error", &m.FailedRequests},
		{"detection_reports_rendered_total", "Total reports rendered", &m.ReportsRendered},
	}
	for _, c := range counters {
		value := c.value
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(value.Load()) },
		))
	}

	m.detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "detection_objects_total",
		Help: "Total detected objects by label",
	}, []string{"label"})
	m.registry.MustRegister(m.detections)

	m.processingSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "detection_processing_seconds",
		Help:    "Time spent on detection and annotation per request",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"kind"})
	m.registry.MustRegister(m.processingSeconds)

	m.registry.MustRegister(collectors.NewGoCollector())
}

// ObserveDetections adds count objects of label.
func (m *Metrics) ObserveDetections(label string, count int) {
	m.detections.WithLabelValues(label).Add(float64(count))
}

// ObserveProcessing records the processing time of an "image" or "video"
// request.
func (m *Metrics) ObserveProcessing(kind string, seconds float64) {
	m.processingSeconds.WithLabelValues(kind).Observe(seconds)
}

// Handler returns the Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
