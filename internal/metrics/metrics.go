// Package metrics receives per-step training scalars such as "X/loss".
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Benny93/graphdiff/internal/ctxlog"
)

// Sink consumes key/value scalars emitted at a training step.
type Sink interface {
	Log(ctx context.Context, step int, values map[string]float64)
}

// Discard drops everything.
type Discard struct{}

// Log implements Sink.
func (Discard) Log(context.Context, int, map[string]float64) {}

// SlogSink writes every emission as one debug record.
type SlogSink struct {
	Level slog.Level
}

// Log implements Sink.
func (s SlogSink) Log(ctx context.Context, step int, values map[string]float64) {
	attrs := make([]any, 0, len(values)+1)
	attrs = append(attrs, slog.Int("step", step))
	for _, k := range sortedKeys(values) {
		attrs = append(attrs, slog.Float64(k, values[k]))
	}
	ctxlog.FromContext(ctx).Log(ctx, s.Level, "metrics", attrs...)
}

// PrometheusSink exposes the latest value of every key as a gauge.
type PrometheusSink struct {
	registry *prometheus.Registry
	values   *prometheus.GaugeVec
	steps    prometheus.Counter
}

// NewPrometheusSink creates a sink with its own registry.
func NewPrometheusSink() *PrometheusSink {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &PrometheusSink{
		registry: reg,
		values: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graphdiff_train_value",
			Help: "Latest value of a training scalar by stream and metric",
		}, []string{"stream", "metric"}),
		steps: factory.NewCounter(prometheus.CounterOpts{
			Name: "graphdiff_train_emissions_total",
			Help: "Number of metric emissions",
		}),
	}
}

// Log implements Sink.
func (p *PrometheusSink) Log(_ context.Context, _ int, values map[string]float64) {
	for k, v := range values {
		stream, metric := splitKey(k)
		p.values.WithLabelValues(stream, metric).Set(v)
	}
	p.steps.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// splitKey turns "X/loss" into ("X", "loss").
func splitKey(key string) (stream, metric string) {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}

// Point is one recorded value.
type Point struct {
	Step  int
	Value float64
}

// Recorder keeps every emission in memory.
type Recorder struct {
	mu     sync.Mutex
	series map[string][]Point
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{series: make(map[string][]Point)}
}

// Log implements Sink.
func (r *Recorder) Log(_ context.Context, step int, values map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range values {
		r.series[k] = append(r.series[k], Point{Step: step, Value: v})
	}
}

// Series returns a copy of the history of key.
func (r *Recorder) Series(key string) []Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Point(nil), r.series[key]...)
}

// Last returns the latest value of key.
func (r *Recorder) Last(key string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.series[key]
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1].Value, true
}

// Keys lists every key seen so far.
func (r *Recorder) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.series))
	for k := range r.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Multi fans an emission out to several sinks.
type Multi []Sink

// Log implements Sink.
func (m Multi) Log(ctx context.Context, step int, values map[string]float64) {
	for _, s := range m {
		s.Log(ctx, step, values)
	}
}

func sortedKeys(values map[string]float64) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
