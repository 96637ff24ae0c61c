// metrics.go - Metrics collection for vault transitions and proof verification
package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter   MetricType = "counter"
	Gauge     MetricType = "gauge"
	Histogram MetricType = "histogram"
)

// histogramWindow bounds the samples kept per histogram.
const histogramWindow = 1000

// Metric represents a single metric
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// HistogramSummary aggregates the retained samples of one histogram.
type HistogramSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
}

// Summary is a point-in-time view of every metric.
type Summary struct {
	Counters   map[string]int64            `json:"counters"`
	Gauges     map[string]float64          `json:"gauges"`
	Histograms map[string]HistogramSummary `json:"histograms"`
}

// Metrics is an in-process metrics collector. A nil *Metrics discards everything.
type Metrics struct {
	mu         sync.RWMutex
	metrics    map[string]*Metric
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.Reset()
	return m
}

// IncrementCounter increments a counter metric
func (m *Metrics) IncrementCounter(name string, labels map[string]string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := makeKey(name, labels)
	m.counters[key]++
	m.update(key, name, Counter, float64(m.counters[key]), labels)
}

// SetGauge sets a gauge metric value
func (m *Metrics) SetGauge(name string, value float64, labels map[string]string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := makeKey(name, labels)
	m.gauges[key] = value
	m.update(key, name, Gauge, value, labels)
}

// RecordHistogram records a value in a histogram
func (m *Metrics) RecordHistogram(name string, value float64, labels map[string]string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := makeKey(name, labels)
	values := append(m.histograms[key], value)
	if len(values) > histogramWindow {
		values = values[len(values)-histogramWindow:]
	}
	m.histograms[key] = values
	m.update(key, name, Histogram, value, labels)
}

// GetMetric retrieves a metric by name and labels
func (m *Metrics) GetMetric(name string, labels map[string]string) *Metric {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	metric, ok := m.metrics[makeKey(name, labels)]
	if !ok {
		return nil
	}
	out := *metric
	return &out
}

// Counter returns the current value of a counter.
func (m *Metrics) Counter(name string, labels map[string]string) int64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[makeKey(name, labels)]
}

// Summary returns a summary of all metrics
func (m *Metrics) Summary() Summary {
	s := Summary{
		Counters:   make(map[string]int64),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string]HistogramSummary),
	}
	if m == nil {
		return s
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for key, v := range m.counters {
		s.Counters[key] = v
	}
	for key, v := range m.gauges {
		s.Gauges[key] = v
	}
	for key, values := range m.histograms {
		if len(values) == 0 {
			continue
		}
		h := HistogramSummary{Count: len(values), Min: values[0], Max: values[0]}
		for _, v := range values {
			h.Min = min(h.Min, v)
			h.Max = max(h.Max, v)
			h.Sum += v
		}
		h.Avg = h.Sum / float64(h.Count)
		s.Histograms[key] = h
	}
	return s
}

// Reset resets all metrics
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics = make(map[string]*Metric)
	m.counters = make(map[string]int64)
	m.gauges = make(map[string]float64)
	m.histograms = make(map[string][]float64)
}

// makeKey creates a deterministic key for a metric name and labels
func makeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func (m *Metrics) update(key, name string, metricType MetricType, value float64, labels map[string]string) {
	var copied map[string]string
	if len(labels) > 0 {
		copied = make(map[string]string, len(labels))
		for k, v := range labels {
			copied[k] = v
		}
	}
	m.metrics[key] = &Metric{
		Name:      name,
		Type:      metricType,
		Value:     value,
		Labels:    copied,
		Timestamp: time.Now(),
	}
}

// Predefined metric names
const (
	MetricTransitions       = "vault_transitions"
	MetricRejections        = "vault_rejections"
	MetricTotalShares       = "vault_total_shares"
	MetricProofVerifyTime   = "proof_verification_seconds"
	MetricProofGenerateTime = "proof_generation_seconds"
	MetricAuditViolations   = "conservation_violations"
	MetricRateLimited       = "rate_limited_requests"
)

// RecordTransition counts a committed transition.
func (m *Metrics) RecordTransition(op string) {
	m.IncrementCounter(MetricTransitions, map[string]string{"op": op})
}

// RecordRejection counts a failed transition by error kind.
func (m *Metrics) RecordRejection(op, kind string) {
	m.IncrementCounter(MetricRejections, map[string]string{"op": op, "kind": kind})
}

// SetTotalShares records the current share count of a vault.
func (m *Metrics) SetTotalShares(vault string, shares uint64) {
	m.SetGauge(MetricTotalShares, float64(shares), map[string]string{"vault": vault})
}

// RecordProofVerification records how long a proof check took.
func (m *Metrics) RecordProofVerification(d time.Duration) {
	m.RecordHistogram(MetricProofVerifyTime, d.Seconds(), nil)
}

// RecordProofGeneration records how long the oracle took to prove an attestation.
func (m *Metrics) RecordProofGeneration(d time.Duration) {
	m.RecordHistogram(MetricProofGenerateTime, d.Seconds(), nil)
}

// RecordAudit records the outcome of a conservation audit pass.
func (m *Metrics) RecordAudit(violations int) {
	m.SetGauge(MetricAuditViolations, float64(violations), nil)
}

// RecordRateLimited counts a request refused by the rate limiter.
func (m *Metrics) RecordRateLimited(route string) {
	m.IncrementCounter(MetricRateLimited, map[string]string{"route": route})
}
