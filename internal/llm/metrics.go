package llm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are Prometheus collectors for generation calls. A nil *Metrics is a no-op.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	tokens   *prometheus.CounterVec
	retries  *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docgraph",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Generation attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docgraph",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Latency of generation attempts.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"provider"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docgraph",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by kind (prompt, completion).",
		}, []string{"provider", "kind"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docgraph",
			Subsystem: "llm",
			Name:      "retries_total",
			Help:      "Retries by provider and failure kind.",
		}, []string{"provider", "reason"}),
	}
}

func (m *Metrics) observe(provider string, d time.Duration, u Usage, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
	}
	m.requests.WithLabelValues(provider, outcome).Inc()
	m.duration.WithLabelValues(provider).Observe(d.Seconds())
	if u.PromptTokens > 0 {
		m.tokens.WithLabelValues(provider, "prompt").Add(float64(u.PromptTokens))
	}
	if u.CompletionTokens > 0 {
		m.tokens.WithLabelValues(provider, "completion").Add(float64(u.CompletionTokens))
	}
}

func (m *Metrics) retried(provider string, kind ErrorKind) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(provider, kind.String()).Inc()
}
