// Package metrics exposes prometheus collectors for the reconstruction
// engine and its result cache.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dicomrecon"

// Metrics holds every collector. Collectors are registered on the
// Registerer given to New so that tests and embedders can isolate them.
type Metrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheRejected  prometheus.Counter
	CacheEntries   prometheus.Gauge
	CacheBytes     prometheus.Gauge

	// Reconstructions counts finished requests by kind and outcome
	// (completed, cancelled, failed, cached)
	Reconstructions *prometheus.CounterVec

	// Duration measures compute time of completed reconstructions
	Duration *prometheus.HistogramVec

	// Active is the number of reconstructions currently computing
	Active prometheus.Gauge

	// Coalesced counts requests that shared another request's computation
	Coalesced prometheus.Counter
}

// New creates and registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of result cache hits",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of result cache misses",
		}),
		CacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of entries evicted to stay within the byte budget",
		}),
		CacheRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_rejected_total",
			Help:      "Total number of results larger than the whole cache budget",
		}),
		CacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current number of cached results",
		}),
		CacheBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_bytes",
			Help:      "Current size of cached results in bytes",
		}),
		Reconstructions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconstructions_total",
			Help:      "Total number of reconstruction requests by kind and outcome",
		}, []string{"kind", "outcome"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconstruction_duration_seconds",
			Help:      "Compute time of completed reconstructions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"kind"}),
		Active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconstructions_active",
			Help:      "Current number of reconstructions computing",
		}),
		Coalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_requests_total",
			Help:      "Total number of requests served by another request's computation",
		}),
	}
}

// Hit implements the cache observer
func (m *Metrics) Hit() { m.CacheHits.Inc() }

// Miss implements the cache observer
func (m *Metrics) Miss() { m.CacheMisses.Inc() }

// Evicted implements the cache observer
func (m *Metrics) Evicted(n int) { m.CacheEvictions.Add(float64(n)) }

// Rejected implements the cache observer
func (m *Metrics) Rejected() { m.CacheRejected.Inc() }

// Resized implements the cache observer
func (m *Metrics) Resized(entries int, bytes int64) {
	m.CacheEntries.Set(float64(entries))
	m.CacheBytes.Set(float64(bytes))
}

// RecordReconstruction records the outcome of one request
func (m *Metrics) RecordReconstruction(kind, outcome string, elapsed time.Duration) {
	m.Reconstructions.WithLabelValues(kind, outcome).Inc()
	if outcome == "completed" {
		m.Duration.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
}
