// Package metrics holds the Prometheus collectors for turns and ingestion.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dgchat"

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

type Collector struct {
	registry *prometheus.Registry

	turnsTotal         *prometheus.CounterVec
	turnDuration       prometheus.Histogram
	condenseFallbacks  prometheus.Counter
	enrichmentsTotal   *prometheus.CounterVec
	filesIngestedTotal *prometheus.CounterVec
	chunksIndexedTotal prometheus.Counter
}

// NewCollector registers every collector on a private registry, together with
// the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Answered and failed question turns",
		}, []string{"status"}),
		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End to end duration of a question turn",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}),
		condenseFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "condense_fallbacks_total",
			Help:      "Turns that fell back to the raw question after condensation failed",
		}),
		enrichmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichments_total",
			Help:      "Retrieved hits by whether neighbor context could be attached",
		}, []string{"result"}),
		filesIngestedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_ingested_total",
			Help:      "Files processed by ingestion",
		}, []string{"status"}),
		chunksIndexedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Chunks added to the vector index",
		}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ObserveTurn(status string, d time.Duration) {
	c.turnsTotal.WithLabelValues(status).Inc()
	c.turnDuration.Observe(d.Seconds())
}

func (c *Collector) CondenseFallback() {
	c.condenseFallbacks.Inc()
}

func (c *Collector) ObserveEnrichment(hits, misses int) {
	c.enrichmentsTotal.WithLabelValues("hit").Add(float64(hits))
	c.enrichmentsTotal.WithLabelValues("miss").Add(float64(misses))
}

func (c *Collector) ObserveIngest(succeeded, failed, chunks int) {
	c.filesIngestedTotal.WithLabelValues(StatusOK).Add(float64(succeeded))
	c.filesIngestedTotal.WithLabelValues(StatusFailed).Add(float64(failed))
	c.chunksIndexedTotal.Add(float64(chunks))
}
