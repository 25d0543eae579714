// Package metrics owns the process counters, including the running call
// count reported by the stats endpoint.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the service. All methods are
// safe on a nil receiver so components can run without instrumentation.
type Metrics struct {
	registry  *prometheus.Registry
	startedAt time.Time
	calls     atomic.Int64

	CallsTotal      prometheus.Counter
	PipelinesActive prometheus.Gauge
	AudioBytesTotal *prometheus.CounterVec
	TranscriptTotal *prometheus.CounterVec
	RepliesTotal    *prometheus.CounterVec
	PlaybackTotal   *prometheus.CounterVec
	UpstreamErrors  *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
}

// New creates and registers every collector under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voicecall"
	}
	registry := prometheus.NewRegistry()

	callsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_total",
		Help:      "Calls placed since process start",
	})
	pipelinesActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pipelines_active",
		Help:      "Per-call pipelines currently running",
	})
	audioBytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_bytes_total",
		Help:      "Audio bytes moved through call pipelines",
	}, []string{"direction"})
	transcripts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcripts_total",
		Help:      "Transcript events by readiness outcome",
	}, []string{"outcome"})
	replies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replies_total",
		Help:      "Reply generation attempts by status",
	}, []string{"status"})
	playback := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "playback_total",
		Help:      "Playback items by status",
	}, []string{"status"})
	upstreamErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_errors_total",
		Help:      "Failed collaborator calls",
	}, []string{"service"})
	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Latency of collaborator calls made by the pipeline",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"stage"})

	registry.MustRegister(
		callsTotal,
		pipelinesActive,
		audioBytes,
		transcripts,
		replies,
		playback,
		upstreamErrors,
		stageDuration,
	)

	return &Metrics{
		registry:        registry,
		startedAt:       time.Now(),
		CallsTotal:      callsTotal,
		PipelinesActive: pipelinesActive,
		AudioBytesTotal: audioBytes,
		TranscriptTotal: transcripts,
		RepliesTotal:    replies,
		PlaybackTotal:   playback,
		UpstreamErrors:  upstreamErrors,
		StageDuration:   stageDuration,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CallInitiated is the only way the call count moves.
func (m *Metrics) CallInitiated() {
	if m == nil {
		return
	}
	m.calls.Add(1)
	m.CallsTotal.Inc()
}

// TotalCalls is the number of calls placed since process start.
func (m *Metrics) TotalCalls() int64 {
	if m == nil {
		return 0
	}
	return m.calls.Load()
}

// Uptime is the time since New.
func (m *Metrics) Uptime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Since(m.startedAt)
}

func (m *Metrics) PipelineStarted() {
	if m != nil {
		m.PipelinesActive.Inc()
	}
}

func (m *Metrics) PipelineEnded() {
	if m != nil {
		m.PipelinesActive.Dec()
	}
}

// AudioBytes records bytes in a direction ("inbound", "recognizer").
func (m *Metrics) AudioBytes(direction string, n int) {
	if m != nil && n > 0 {
		m.AudioBytesTotal.WithLabelValues(direction).Add(float64(n))
	}
}

// Transcript records a readiness outcome ("ready", "low_confidence", "not_ready").
func (m *Metrics) Transcript(outcome string) {
	if m != nil {
		m.TranscriptTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Reply(status string) {
	if m != nil {
		m.RepliesTotal.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Playback(status string) {
	if m != nil {
		m.PlaybackTotal.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) UpstreamError(service string) {
	if m != nil {
		m.UpstreamErrors.WithLabelValues(service).Inc()
	}
}

// ObserveStage records how long a collaborator call took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}
