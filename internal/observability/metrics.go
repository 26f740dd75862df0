// Package observability is a hand-rolled Prometheus-compatible metrics
// registry. The reconciliation engine only ever reports a fixed,
// small set of named measurements (per-source submission counts,
// per-status verdict counts, one latency histogram, one gauge per
// source's health) so the registry is built around those concrete
// fields rather than an open-ended name+label lookup table.
package observability

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Counter is a monotonically increasing value.
type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

// Gauge is a value that can move up and down.
type Gauge struct {
	mu sync.RWMutex
	v  float64
}

func (g *Gauge) Set(v float64) { g.mu.Lock(); g.v = v; g.mu.Unlock() }
func (g *Gauge) Inc()          { g.mu.Lock(); g.v++; g.mu.Unlock() }
func (g *Gauge) Dec()          { g.mu.Lock(); g.v--; g.mu.Unlock() }
func (g *Gauge) Value() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.v
}

// Histogram tracks a value distribution against fixed upper bounds.
// Unlike a differential bucket count that gets accumulated into
// cumulative Prometheus buckets at read time, this keeps every
// bucket already cumulative — Observe does the O(n) walk once per
// sample so Handler can just print what's there.
type Histogram struct {
	mu           sync.Mutex
	upperBounds  []float64
	bucketCounts []int64 // cumulative per bound, +1 for the +Inf bucket
	sum          float64
	count        int64
}

func NewHistogram(bounds []float64) *Histogram {
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{upperBounds: sorted, bucketCounts: make([]int64, len(sorted)+1)}
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	start := sort.SearchFloat64s(h.upperBounds, v)
	for i := start; i < len(h.bucketCounts); i++ {
		h.bucketCounts[i]++
	}
}

// getOrCreate returns the value at key, creating it with newV under
// mu if absent. The domain's label cardinality is tiny (a handful of
// sources, a handful of verdict statuses) so a single mutex per
// registry is plenty — no read/write-lock split needed.
func getOrCreate[T any](mu *sync.Mutex, m map[string]*T, key string, newV func() *T) *T {
	mu.Lock()
	defer mu.Unlock()
	if v, ok := m[key]; ok {
		return v
	}
	v := newV()
	m[key] = v
	return v
}

// Metrics is the reconciliation engine's metrics registry, serving
// /metrics in Prometheus text exposition format.
type Metrics struct {
	mu     sync.Mutex
	logger zerolog.Logger

	viewsBySource    map[string]*Counter
	verdictsByStatus map[string]*Counter
	mismatchesTotal  *Counter
	lockContention   *Counter
	verdictLatency   *Histogram
	sourceHealthy    map[string]*Gauge
}

// NewMetrics creates an empty registry.
func NewMetrics(logger zerolog.Logger) *Metrics {
	return &Metrics{
		logger:           logger.With().Str("component", "metrics").Logger(),
		viewsBySource:    make(map[string]*Counter),
		verdictsByStatus: make(map[string]*Counter),
		mismatchesTotal:  &Counter{},
		lockContention:   &Counter{},
		verdictLatency:   NewHistogram([]float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}),
		sourceHealthy:    make(map[string]*Gauge),
	}
}

// TrackSubmission records one accepted view from source.
func (m *Metrics) TrackSubmission(source string) {
	getOrCreate(&m.mu, m.viewsBySource, source, func() *Counter { return &Counter{} }).Inc()
}

// TrackVerdict records a completed verdict, its mismatch count, and
// how long the compare-and-persist step for it took.
func (m *Metrics) TrackVerdict(status string, mismatchCount int, latencyMs float64) {
	getOrCreate(&m.mu, m.verdictsByStatus, status, func() *Counter { return &Counter{} }).Inc()
	m.mismatchesTotal.Add(int64(mismatchCount))
	m.verdictLatency.Observe(latencyMs)
}

// TrackLockContention records an abandoned single-flight attempt.
func (m *Metrics) TrackLockContention() {
	m.lockContention.Inc()
}

// TrackSourceHealth records whether a source feed is currently healthy.
func (m *Metrics) TrackSourceHealth(source string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	getOrCreate(&m.mu, m.sourceHealthy, source, func() *Gauge { return &Gauge{} }).Set(val)
}

// Handler serves /metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("# reconciliation engine metrics - %s\n\n", time.Now().UTC().Format(time.RFC3339)))

		m.mu.Lock()
		defer m.mu.Unlock()

		sb.WriteString("# TYPE recon_views_submitted_total counter\n")
		for source, c := range m.viewsBySource {
			fmt.Fprintf(&sb, "recon_views_submitted_total{source=%q} %d\n", source, c.Value())
		}

		sb.WriteString("\n# TYPE recon_verdicts_total counter\n")
		for status, c := range m.verdictsByStatus {
			fmt.Fprintf(&sb, "recon_verdicts_total{status=%q} %d\n", status, c.Value())
		}

		sb.WriteString("\n# TYPE recon_mismatches_total counter\n")
		fmt.Fprintf(&sb, "recon_mismatches_total %d\n", m.mismatchesTotal.Value())

		sb.WriteString("\n# TYPE recon_lock_contention_total counter\n")
		fmt.Fprintf(&sb, "recon_lock_contention_total %d\n", m.lockContention.Value())

		sb.WriteString("\n# TYPE recon_source_healthy gauge\n")
		for source, g := range m.sourceHealthy {
			fmt.Fprintf(&sb, "recon_source_healthy{source=%q} %g\n", source, g.Value())
		}

		sb.WriteString("\n# TYPE recon_verdict_latency_ms histogram\n")
		writeHistogram(&sb, "recon_verdict_latency_ms", m.verdictLatency)

		_, _ = w.Write([]byte(sb.String()))
	}
}

func writeHistogram(sb *strings.Builder, name string, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, bound := range h.upperBounds {
		fmt.Fprintf(sb, "%s_bucket{le=%q} %d\n", name, fmt.Sprintf("%g", bound), h.bucketCounts[i])
	}
	fmt.Fprintf(sb, "%s_bucket{le=\"+Inf\"} %d\n", name, h.bucketCounts[len(h.upperBounds)])
	fmt.Fprintf(sb, "%s_sum %f\n", name, h.sum)
	fmt.Fprintf(sb, "%s_count %d\n", name, h.count)
}
