// Package metrics is a small Prometheus-text collector for the relay.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = NewRegistry()

// Registry holds counters, gauges and histograms keyed by name and labels.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	startTime  time.Time
}

// NewRegistry creates an empty registry whose uptime starts now.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Uptime returns time since the registry was created.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

// Counter is a monotonically increasing integer metric.
type Counter struct {
	name, help, labels string
	value              atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current count.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is an integer metric that can go up and down.
type Gauge struct {
	name, help, labels string
	value              atomic.Int64
}

// Set replaces the gauge value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram counts observations into cumulative buckets. The last bucket
// is always +Inf.
type Histogram struct {
	name, help, labels string

	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

// Observe records v in every bucket whose upper bound is >= v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func key(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns the counter for name/labels, creating it on first use.
func (r *Registry) Counter(name, help, labels string) *Counter {
	k := key(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[k]; ok {
		return c
	}
	c := &Counter{name: name, help: help, labels: labels}
	r.counters[k] = c
	return c
}

// Gauge returns the gauge for name/labels, creating it on first use.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	k := key(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[k]; ok {
		return g
	}
	g := &Gauge{name: name, help: help, labels: labels}
	r.gauges[k] = g
	return g
}

// Histogram returns the histogram for name/labels, creating it on first
// use with bounds sorted ascending and a +Inf bucket appended.
func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	k := key(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[k]; ok {
		return h
	}
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	if len(b) == 0 || !math.IsInf(b[len(b)-1], 1) {
		b = append(b, math.Inf(1))
	}
	h := &Histogram{name: name, help: help, labels: labels, bounds: b, buckets: make([]int64, len(b))}
	r.histograms[k] = h
	return h
}

// Handler serves the registry in Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	}
}

// WriteTo renders all metrics, sorted by name for stable output.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP pdfrelay_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE pdfrelay_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "pdfrelay_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	r.mu.RLock()
	counters := sortedValues(r.counters)
	gauges := sortedValues(r.gauges)
	histograms := sortedValues(r.histograms)
	r.mu.RUnlock()

	seen := make(map[string]bool)
	for _, c := range counters {
		writeHeader(&sb, seen, c.name, c.help, "counter")
		fmt.Fprintf(&sb, "%s %d\n", series(c.name, c.labels), c.Value())
	}
	for _, g := range gauges {
		writeHeader(&sb, seen, g.name, g.help, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}
	for _, h := range histograms {
		writeHeader(&sb, seen, h.name, h.help, "histogram")
		h.mu.Lock()
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			labels := `le="` + bound + `"`
			if h.labels != "" {
				labels = h.labels + "," + labels
			}
			fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_bucket", labels), h.buckets[i])
		}
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func sortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func writeHeader(sb *strings.Builder, seen map[string]bool, name, help, typ string) {
	if seen[name] {
		return
	}
	seen[name] = true
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, typ)
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

// --- Metrics used across the relay ---

var (
	MessagesTotal      = Collector.Counter("pdfrelay_messages_total", "Inbound messages classified", "")
	MessagesDropped    = Collector.Counter("pdfrelay_messages_dropped_total", "Inbound messages ignored by the classifier", "")
	DuplicatesSkipped  = Collector.Counter("pdfrelay_duplicates_total", "Inbound messages skipped as redeliveries", "")
	DocumentsExtracted = Collector.Counter("pdfrelay_documents_extracted_total", "PDF documents parsed", "")
	ExtractionFailures = Collector.Counter("pdfrelay_extraction_failures_total", "PDF documents that failed to parse", "")
	RelayRequests      = Collector.Counter("pdfrelay_relay_requests_total", "Payloads posted to the automation backend", "")
	RelayFailures      = Collector.Counter("pdfrelay_relay_failures_total", "Relay requests that failed", "")
	RelayDryRuns       = Collector.Counter("pdfrelay_relay_dry_runs_total", "Payloads recorded locally because no endpoint is configured", "")
	RepliesDelivered   = Collector.Counter("pdfrelay_replies_total", "Backend replies delivered to senders", "")
	Reconnects         = Collector.Counter("pdfrelay_reconnects_total", "Session restarts after a transient close", "")
	SessionOpen        = Collector.Gauge("pdfrelay_session_open", "1 while the transport session is open", "")
	InFlight           = Collector.Gauge("pdfrelay_inflight_events", "Inbound events currently being handled", "")
	TempArtifacts      = Collector.Gauge("pdfrelay_temp_artifacts", "Temporary artifacts on disk created by this process", "")

	RelayLatency = Collector.Histogram("pdfrelay_relay_latency_seconds", "Relay request latency in seconds", "",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30})
	ExtractionLatency = Collector.Histogram("pdfrelay_extraction_latency_seconds", "PDF parse latency in seconds", "",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10})
)

// MessagesByKind returns the per-kind message counter.
func MessagesByKind(kind string) *Counter {
	return Collector.Counter("pdfrelay_messages_by_kind_total", "Inbound events by kind", `kind="`+kind+`"`)
}
