package metrics

import (
	"net/http"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromRecorder records metrics into a Prometheus registry.
type PromRecorder struct {
	registry         *prom.Registry
	ledgerAppends    *prom.CounterVec
	analyticsSeconds *prom.HistogramVec
	embeddings       *prom.CounterVec
	embeddingSeconds *prom.HistogramVec
}

// NewPromRecorder registers the narrative market collectors on a fresh registry.
func NewPromRecorder() *PromRecorder {
	p := &PromRecorder{
		registry: prom.NewRegistry(),
		ledgerAppends: prom.NewCounterVec(prom.CounterOpts{
			Name: "ledger_appends_total",
			Help: "Total number of activity ledger appends",
		}, []string{"action", "success"}),
		analyticsSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "analytics_seconds",
			Help:    "Market analytics computation duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"op"}),
		embeddings: prom.NewCounterVec(prom.CounterOpts{
			Name: "embeddings_total",
			Help: "Total number of embedding generations",
		}, []string{"provider", "success"}),
		embeddingSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "embedding_seconds",
			Help:    "Embedding generation duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"provider"}),
	}
	p.registry.MustRegister(p.ledgerAppends, p.analyticsSeconds, p.embeddings, p.embeddingSeconds)
	return p
}

func (p *PromRecorder) IncLedgerAppend(action string, success bool) {
	p.ledgerAppends.WithLabelValues(action, strconv.FormatBool(success)).Inc()
}

func (p *PromRecorder) ObserveAnalyticsSeconds(op string, seconds float64) {
	p.analyticsSeconds.WithLabelValues(op).Observe(seconds)
}

func (p *PromRecorder) IncEmbedding(provider string, success bool) {
	p.embeddings.WithLabelValues(provider, strconv.FormatBool(success)).Inc()
}

func (p *PromRecorder) ObserveEmbeddingSeconds(provider string, seconds float64) {
	p.embeddingSeconds.WithLabelValues(provider).Observe(seconds)
}

// Handler exposes the registry in the Prometheus text format.
func (p *PromRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (p *PromRecorder) Registry() *prom.Registry { return p.registry }
