package llm

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names emitted by the client.
const (
	MetricRequests  = "llm_requests_total"
	MetricErrors    = "llm_errors_total"
	MetricLatencyMs = "llm_request_latency_ms"
	MetricTokens    = "llm_tokens_total"
	MetricCacheHits = "llm_cache_hits_total"
	MetricInFlight  = "llm_requests_in_flight"
)

// Metrics collects counters, histograms and gauges with tag dimensions.
type Metrics interface {
	IncrementCounter(name string, tags map[string]string, value float64)
	RecordHistogram(name string, tags map[string]string, value float64)
	SetGauge(name string, tags map[string]string, value float64)
}

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

// NewNoOpMetrics returns a Metrics that records nothing.
func NewNoOpMetrics() *NoOpMetrics { return &NoOpMetrics{} }

func (n *NoOpMetrics) IncrementCounter(_ string, _ map[string]string, _ float64) {}

func (n *NoOpMetrics) RecordHistogram(_ string, _ map[string]string, _ float64) {}

func (n *NoOpMetrics) SetGauge(_ string, _ map[string]string, _ float64) {}

// PrometheusMetrics maps the Metrics interface onto client_golang vectors.
// A vector is registered the first time a name is seen; its label set is
// fixed by the tags of that first observation.
type PrometheusMetrics struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusMetrics registers vectors on reg, or on the default registry if nil.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusMetrics{
		registerer: reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// IncrementCounter implements Metrics.
func (p *PrometheusMetrics) IncrementCounter(name string, tags map[string]string, value float64) {
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, labelNames(tags))
		vec = register(p.registerer, vec)
		p.counters[name] = vec
	}
	p.mu.Unlock()
	if c, err := vec.GetMetricWith(tags); err == nil {
		c.Add(value)
	}
}

// RecordHistogram implements Metrics.
func (p *PrometheusMetrics) RecordHistogram(name string, tags map[string]string, value float64) {
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: prometheus.ExponentialBuckets(50, 2, 10),
		}, labelNames(tags))
		vec = register(p.registerer, vec)
		p.histograms[name] = vec
	}
	p.mu.Unlock()
	if h, err := vec.GetMetricWith(tags); err == nil {
		h.Observe(value)
	}
}

// SetGauge implements Metrics.
func (p *PrometheusMetrics) SetGauge(name string, tags map[string]string, value float64) {
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, labelNames(tags))
		vec = register(p.registerer, vec)
		p.gauges[name] = vec
	}
	p.mu.Unlock()
	if g, err := vec.GetMetricWith(tags); err == nil {
		g.Set(value)
	}
}

// register returns the already-registered collector when another
// PrometheusMetrics registered the same name first.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
