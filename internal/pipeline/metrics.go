package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pipeline's Prometheus series. A nil *Metrics records nothing.
type Metrics struct {
	chunks      *prometheus.CounterVec
	chunkTime   prometheus.Histogram
	transitions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		chunks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docgraph_pipeline_chunks_total",
			Help: "Chunks extracted, by outcome.",
		}, []string{"outcome"}),
		chunkTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docgraph_pipeline_chunk_duration_seconds",
			Help:    "Time to extract one chunk, both phases.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docgraph_pipeline_state_transitions_total",
			Help: "Pipeline state entries.",
		}, []string{"state"}),
	}
}

func (m *Metrics) chunk(err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.chunks.WithLabelValues(outcome).Inc()
	m.chunkTime.Observe(d.Seconds())
}

func (m *Metrics) state(s State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(s)).Inc()
}
