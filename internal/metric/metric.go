package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline-level Prometheus collectors. Resource-pressure
// degradations (evictions, inference deadlines) are surfaced here rather than
// as errors.
type Metrics struct {
	FramesReceived  *prometheus.CounterVec
	FramesAnalyzed  *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	FramesRejected  *prometheus.CounterVec
	StageFailures   *prometheus.CounterVec
	ProcessingTime  *prometheus.HistogramVec
	ActiveStreams   prometheus.Gauge
	EventsPublished *prometheus.CounterVec
	PublishFailures prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pitchvision",
				Subsystem: "frames",
				Name:      "received_total",
				Help:      "Total frames delivered by the peer transport",
			},
			[]string{"stream_id"},
		),
		FramesAnalyzed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pitchvision",
				Subsystem: "frames",
				Name:      "analyzed_total",
				Help:      "Total frames that produced an analysis result",
			},
			[]string{"stream_id"},
		),
		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pitchvision",
				Subsystem: "frames",
				Name:      "dropped_total",
				Help:      "Frames evicted from the ring before processing",
			},
			[]string{"stream_id"},
		),
		FramesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pitchvision",
				Subsystem: "frames",
				Name:      "rejected_total",
				Help:      "Frames rejected because the stream was not active",
			},
			[]string{"stream_id"},
		),
		StageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pitchvision",
				Subsystem: "pipeline",
				Name:      "stage_failures_total",
				Help:      "Per-stage failures isolated by the pipeline",
			},
			[]string{"stream_id", "stage"},
		),
		ProcessingTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pitchvision",
				Subsystem: "pipeline",
				Name:      "frame_processing_seconds",
				Help:      "End-to-end per-frame processing duration",
				Buckets:   []float64{.005, .01, .025, .033, .05, .1, .25, .5, 1},
			},
			[]string{"stream_id"},
		),
		ActiveStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pitchvision",
				Subsystem: "streams",
				Name:      "active",
				Help:      "Streams currently registered with the orchestrator",
			},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pitchvision",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Domain events published to subscribers",
			},
			[]string{"type"},
		),
		PublishFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pitchvision",
				Subsystem: "events",
				Name:      "publish_failures_total",
				Help:      "Event publish attempts that returned an error",
			},
		),
	}
}

// Register adds all collectors to the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	cs := []prometheus.Collector{
		m.FramesReceived, m.FramesAnalyzed, m.FramesDropped, m.FramesRejected,
		m.StageFailures, m.ProcessingTime, m.ActiveStreams,
		m.EventsPublished, m.PublishFailures,
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
