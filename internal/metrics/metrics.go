package metrics

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame loop counters
	FramesRead        atomic.Uint64
	FramesProcessed   atomic.Uint64
	FramesNoLandmarks atomic.Uint64
	FramesDegenerate  atomic.Uint64
	FramesPublished   atomic.Uint64
	FramesDropped     atomic.Uint64

	// Error counters
	SourceErrors    atomic.Uint64
	EstimatorErrors atomic.Uint64
	OverlayErrors   atomic.Uint64
	SnapshotErrors  atomic.Uint64

	// Session state
	Repetitions  atomic.Uint64
	derivedAngle atomic.Uint64 // float64 bits
	Contracted   atomic.Uint64 // 0 = relaxed, 1 = contracted

	// Snapshot log
	SnapshotsWritten atomic.Uint64

	// Latency tracking
	EstimateLatencyMs atomic.Uint64
	ProcessLatencyMs  atomic.Uint64

	// Viewers
	StreamClients atomic.Uint64
	StatusClients atomic.Uint64
	DataChannels  atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

type gauge struct {
	name string
	help string
	load func() float64
}

func counter(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	gauges := []gauge{
		{"wefit_frames_read_total", "Total frames read from the camera source", counter(&m.FramesRead)},
		{"wefit_frames_processed_total", "Total frames with a joint angle observation", counter(&m.FramesProcessed)},
		{"wefit_frames_no_landmarks_total", "Total frames without usable landmarks", counter(&m.FramesNoLandmarks)},
		{"wefit_frames_degenerate_total", "Total frames skipped for degenerate joint geometry", counter(&m.FramesDegenerate)},
		{"wefit_frames_published_total", "Total frames published to viewers", counter(&m.FramesPublished)},
		{"wefit_frames_dropped_total", "Total frames dropped for slow viewers", counter(&m.FramesDropped)},

		{"wefit_source_errors_total", "Total camera source errors", counter(&m.SourceErrors)},
		{"wefit_estimator_errors_total", "Total pose estimator errors", counter(&m.EstimatorErrors)},
		{"wefit_overlay_errors_total", "Total overlay rendering errors", counter(&m.OverlayErrors)},
		{"wefit_snapshot_errors_total", "Total snapshot sink errors", counter(&m.SnapshotErrors)},

		{"wefit_repetitions", "Repetitions counted in the current session", counter(&m.Repetitions)},
		{"wefit_derived_angle_degrees", "Most recent derived joint angle", m.DerivedAngle},
		{"wefit_contracted", "Detector phase (0=relaxed, 1=contracted)", counter(&m.Contracted)},
		{"wefit_snapshots_written_total", "Total snapshot rows written", counter(&m.SnapshotsWritten)},

		{"wefit_estimate_latency_ms", "Latest pose estimation latency in milliseconds", counter(&m.EstimateLatencyMs)},
		{"wefit_process_latency_ms", "Latest end-to-end frame latency in milliseconds", counter(&m.ProcessLatencyMs)},

		{"wefit_stream_clients", "Connected MJPEG viewers", counter(&m.StreamClients)},
		{"wefit_status_clients", "Connected status stream subscribers", counter(&m.StatusClients)},
		{"wefit_datachannel_clients", "Connected WebRTC data channel clients", counter(&m.DataChannels)},
	}

	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.load,
		))
	}
}

// SetDerivedAngle stores the latest derived angle
func (m *Metrics) SetDerivedAngle(deg float64) {
	m.derivedAngle.Store(math.Float64bits(deg))
}

// DerivedAngle returns the latest derived angle
func (m *Metrics) DerivedAngle() float64 {
	return math.Float64frombits(m.derivedAngle.Load())
}

// UpdateEstimateLatency records the latest estimator round trip
func (m *Metrics) UpdateEstimateLatency(d time.Duration) {
	m.EstimateLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateProcessLatency records the latest frame latency
func (m *Metrics) UpdateProcessLatency(d time.Duration) {
	m.ProcessLatencyMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
