package metrics

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrLabelCountMismatch is returned when the number of label values doesn't
// match the metric's label names.
var ErrLabelCountMismatch = errors.New("label count mismatch")

// ErrNegativeCounterValue is returned when a counter would decrease.
var ErrNegativeCounterValue = errors.New("counter cannot be decreased")

// ErrDuplicateMetric is returned when a name is registered twice.
var ErrDuplicateMetric = errors.New("duplicate metric name")

// atomicFloat64 stores float64 bits for lock-free updates.
type atomicFloat64 struct {
	bits atomic.Uint64
}

func (a *atomicFloat64) Load() float64 {
	return math.Float64frombits(a.bits.Load())
}

func (a *atomicFloat64) Store(v float64) {
	a.bits.Store(math.Float64bits(v))
}

func (a *atomicFloat64) Add(delta float64) {
	for {
		old := a.bits.Load()
		if a.bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+delta)) {
			return
		}
	}
}

// MetricType is the Prometheus TYPE of a metric.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric is implemented by everything a Registry can expose.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	// Collect returns the current samples.
	Collect() []Sample
}

// Sample is one exposed value.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// series stores one value per label combination.
type series[V any] struct {
	name       string
	labelNames []string

	mu     sync.RWMutex
	values map[string]*labelled[V]
	order  []string
	init   func() *V
}

type labelled[V any] struct {
	labels map[string]string
	v      *V
}

func newSeries[V any](name string, labelNames []string, init func() *V) *series[V] {
	return &series[V]{name: name, labelNames: labelNames, values: make(map[string]*labelled[V]), init: init}
}

func (s *series[V]) get(values []string) (*V, error) {
	if len(values) != len(s.labelNames) {
		return nil, fmt.Errorf("%w: %s expects %d labels, got %d", ErrLabelCountMismatch, s.name, len(s.labelNames), len(values))
	}
	key := strings.Join(values, "\xff")

	s.mu.RLock()
	lv, ok := s.values[key]
	s.mu.RUnlock()
	if ok {
		return lv.v, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if lv, ok := s.values[key]; ok {
		return lv.v, nil
	}
	labels := make(map[string]string, len(values))
	for i, name := range s.labelNames {
		labels[name] = values[i]
	}
	lv = &labelled[V]{labels: labels, v: s.init()}
	s.values[key] = lv
	s.order = append(s.order, key)
	sort.Strings(s.order)
	return lv.v, nil
}

func (s *series[V]) each(fn func(labels map[string]string, v *V)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.order {
		lv := s.values[key]
		fn(lv.labels, lv.v)
	}
}

// Counter only goes up.
type Counter struct {
	help string
	s    *series[atomicFloat64]
}

func (c *Counter) Name() string     { return c.s.name }
func (c *Counter) Help() string     { return c.help }
func (c *Counter) Type() MetricType { return MetricTypeCounter }

// Add adds delta to the series identified by labelValues.
func (c *Counter) Add(delta float64, labelValues ...string) error {
	if delta < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeCounterValue, c.s.name)
	}
	v, err := c.s.get(labelValues)
	if err != nil {
		return err
	}
	v.Add(delta)
	return nil
}

// Inc adds one.
func (c *Counter) Inc(labelValues ...string) error {
	return c.Add(1, labelValues...)
}

// Collect implements Metric.
func (c *Counter) Collect() []Sample {
	var out []Sample
	c.s.each(func(labels map[string]string, v *atomicFloat64) {
		out = append(out, Sample{Name: c.s.name, Labels: labels, Value: v.Load()})
	})
	return out
}

// Gauge goes up and down.
type Gauge struct {
	help string
	s    *series[atomicFloat64]
}

func (g *Gauge) Name() string     { return g.s.name }
func (g *Gauge) Help() string     { return g.help }
func (g *Gauge) Type() MetricType { return MetricTypeGauge }

// Set sets the series identified by labelValues.
func (g *Gauge) Set(value float64, labelValues ...string) error {
	v, err := g.s.get(labelValues)
	if err != nil {
		return err
	}
	v.Store(value)
	return nil
}

// Add adds delta, which may be negative.
func (g *Gauge) Add(delta float64, labelValues ...string) error {
	v, err := g.s.get(labelValues)
	if err != nil {
		return err
	}
	v.Add(delta)
	return nil
}

// Collect implements Metric.
func (g *Gauge) Collect() []Sample {
	var out []Sample
	g.s.each(func(labels map[string]string, v *atomicFloat64) {
		out = append(out, Sample{Name: g.s.name, Labels: labels, Value: v.Load()})
	})
	return out
}

// GaugeFunc is an unlabelled gauge computed at scrape time.
type GaugeFunc struct {
	name string
	help string
	fn   func() float64
}

func (g *GaugeFunc) Name() string     { return g.name }
func (g *GaugeFunc) Help() string     { return g.help }
func (g *GaugeFunc) Type() MetricType { return MetricTypeGauge }

// Collect implements Metric.
func (g *GaugeFunc) Collect() []Sample {
	return []Sample{{Name: g.name, Value: g.fn()}}
}

// DefaultDurationBuckets suit script and request latencies, in seconds.
var DefaultDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

type histogramValue struct {
	counts []atomic.Uint64 // per bucket, not cumulative
	sum    atomicFloat64
	count  atomic.Uint64
}

// Histogram counts observations into buckets.
type Histogram struct {
	help    string
	buckets []float64
	s       *series[histogramValue]
}

func (h *Histogram) Name() string     { return h.s.name }
func (h *Histogram) Help() string     { return h.help }
func (h *Histogram) Type() MetricType { return MetricTypeHistogram }

// Observe records value in the series identified by labelValues.
func (h *Histogram) Observe(value float64, labelValues ...string) error {
	hv, err := h.s.get(labelValues)
	if err != nil {
		return err
	}
	for i, bound := range h.buckets {
		if value <= bound {
			hv.counts[i].Add(1)
			break
		}
	}
	hv.sum.Add(value)
	hv.count.Add(1)
	return nil
}

// Collect implements Metric.
func (h *Histogram) Collect() []Sample {
	var out []Sample
	h.s.each(func(labels map[string]string, hv *histogramValue) {
		var cumulative uint64
		for i, bound := range h.buckets {
			cumulative += hv.counts[i].Load()
			out = append(out, Sample{Name: h.s.name + "_bucket", Labels: withLabel(labels, "le", formatFloat(bound)), Value: float64(cumulative)})
		}
		count := hv.count.Load()
		out = append(out,
			Sample{Name: h.s.name + "_bucket", Labels: withLabel(labels, "le", "+Inf"), Value: float64(count)},
			Sample{Name: h.s.name + "_sum", Labels: labels, Value: hv.sum.Load()},
			Sample{Name: h.s.name + "_count", Labels: labels, Value: float64(count)},
		)
	})
	return out
}

func withLabel(labels map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for lk, lv := range labels {
		out[lk] = lv
	}
	out[k] = v
	return out
}

// Registry holds metrics in registration order.
type Registry struct {
	mu      sync.RWMutex
	metrics []Metric
	names   map[string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// NewCounter registers a counter.
func (r *Registry) NewCounter(name, help string, labels ...string) *Counter {
	c := &Counter{help: help, s: newSeries(name, labels, func() *atomicFloat64 { return new(atomicFloat64) })}
	r.mustRegister(c)
	return c
}

// NewGauge registers a gauge.
func (r *Registry) NewGauge(name, help string, labels ...string) *Gauge {
	g := &Gauge{help: help, s: newSeries(name, labels, func() *atomicFloat64 { return new(atomicFloat64) })}
	r.mustRegister(g)
	return g
}

// NewGaugeFunc registers a gauge whose value is fn() at scrape time.
func (r *Registry) NewGaugeFunc(name, help string, fn func() float64) *GaugeFunc {
	g := &GaugeFunc{name: name, help: help, fn: fn}
	r.mustRegister(g)
	return g
}

// NewHistogram registers a histogram. buckets must be sorted ascending.
func (r *Registry) NewHistogram(name, help string, buckets []float64, labels ...string) *Histogram {
	if len(buckets) == 0 {
		buckets = DefaultDurationBuckets
	}
	h := &Histogram{
		help:    help,
		buckets: buckets,
		s: newSeries(name, labels, func() *histogramValue {
			return &histogramValue{counts: make([]atomic.Uint64, len(buckets))}
		}),
	}
	r.mustRegister(h)
	return h
}

// Register adds m. Names must be unique.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[m.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMetric, m.Name())
	}
	r.names[m.Name()] = struct{}{}
	r.metrics = append(r.metrics, m)
	return nil
}

// mustRegister panics on duplicates; metric names are fixed at build time.
func (r *Registry) mustRegister(m Metric) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// WriteTo writes every metric with at least one sample.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	r.mu.RLock()
	metrics := append([]Metric(nil), r.metrics...)
	r.mu.RUnlock()

	var b strings.Builder
	for _, m := range metrics {
		samples := m.Collect()
		if len(samples) == 0 {
			continue
		}
		fmt.Fprintf(&b, "# HELP %s %s\n", m.Name(), escapeHelp(m.Help()))
		fmt.Fprintf(&b, "# TYPE %s %s\n", m.Name(), m.Type())
		for _, s := range samples {
			b.WriteString(s.Name)
			if len(s.Labels) > 0 {
				b.WriteByte('{')
				b.WriteString(formatLabels(s.Labels))
				b.WriteByte('}')
			}
			b.WriteByte(' ')
			b.WriteString(formatFloat(s.Value))
			b.WriteByte('\n')
		}
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Handler serves the registry.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = r.WriteTo(w)
	})
}

func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + `="` + escapeLabelValue(labels[k]) + `"`
	}
	return strings.Join(parts, ",")
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var (
	helpEscaper  = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	labelEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)
)

func escapeHelp(s string) string       { return helpEscaper.Replace(s) }
func escapeLabelValue(s string) string { return labelEscaper.Replace(s) }
