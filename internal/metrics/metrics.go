package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventscope"

// Fetch outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeError   = "error"
)

// Cache lookup results.
const (
	LookupHit   = "hit"
	LookupStale = "stale"
	LookupMiss  = "miss"
)

// Metrics holds every collector the engine reports to. All methods are safe
// on a nil *Metrics so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	lookups       *prometheus.CounterVec
	inflight      *prometheus.GaugeVec
	invalidations *prometheus.CounterVec
	normalized    *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	superseded    prometheus.Counter
	fetchDur      *prometheus.HistogramVec
}

// New creates a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.fetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_total",
		Help:      "Upstream fetch attempts by cache and outcome",
	}, []string{"cache", "outcome"})
	m.lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookup_total",
		Help:      "Cache lookups by cache and result (hit, stale, miss)",
	}, []string{"cache", "result"})
	m.inflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fetch_inflight",
		Help:      "Fetches currently in flight",
	}, []string{"cache"})
	m.invalidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_evictions_total",
		Help:      "Cache entries evicted by cache and reason",
	}, []string{"cache", "reason"})
	m.normalized = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "normalize_records_total",
		Help:      "Raw records normalized into events",
	}, []string{"source"})
	m.dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "normalize_dropped_total",
		Help:      "Raw records dropped because a required field was missing",
	}, []string{"source"})
	m.superseded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "superseded_total",
		Help:      "Fetch results discarded because a newer filter was requested",
	})
	m.fetchDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Time spent per upstream fetch attempt",
		Buckets:   prometheus.DefBuckets,
	}, []string{"cache"})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fetches, m.lookups, m.inflight, m.invalidations,
		m.normalized, m.dropped, m.superseded, m.fetchDur,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Fetch(cache, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(cache, outcome).Inc()
	m.fetchDur.WithLabelValues(cache).Observe(seconds)
}

func (m *Metrics) Lookup(cache, result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) InFlight(cache string, delta float64) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(cache).Add(delta)
}

func (m *Metrics) Evicted(cache, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.invalidations.WithLabelValues(cache, reason).Add(float64(n))
}

// Normalized records the outcome of one normalization batch.
func (m *Metrics) Normalized(source string, kept, dropped int) {
	if m == nil {
		return
	}
	if kept > 0 {
		m.normalized.WithLabelValues(source).Add(float64(kept))
	}
	if dropped > 0 {
		m.dropped.WithLabelValues(source).Add(float64(dropped))
	}
}

func (m *Metrics) Superseded() {
	if m == nil {
		return
	}
	m.superseded.Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// DroppedCounter returns the drop counter for source.
func (m *Metrics) DroppedCounter(source string) prometheus.Counter {
	return m.dropped.WithLabelValues(source)
}

// SupersededCounter returns the superseded counter.
func (m *Metrics) SupersededCounter() prometheus.Counter {
	return m.superseded
}
