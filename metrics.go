package hypertracez

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	callsMetricName = "hypertrace_function_calls_total"
	callsMetricHelp = "Number of traced function calls by caller."
	metricsPath     = "/metrics"
)

// Fixed labels present on every call counter.
var fixedLabels = []string{
	"caller_classname",
	"caller_object_id",
	"caller_functionname",
	"caller_filename",
}

// MetricsConfig configures the Prometheus metrics target.
type MetricsConfig struct {
	// AllowedCustomProperties lists tracer props promoted to labels.
	// Names are sanitized to [A-Za-z0-9_].
	AllowedCustomProperties []string
	// Port the endpoint listens on. 0 picks a free port.
	Port int
	// DisableRuntimeDefaults skips the Go runtime and process collectors.
	DisableRuntimeDefaults bool
}

type promotedProp struct {
	prop  string
	label string
}

// callCounter is one label-value combination.
type callCounter struct {
	desc   *prometheus.Desc
	values []string
	val    atomic.Int64
}

// PrometheusSink counts trace events per caller and exposes them for scraping.
// Allow-listed props missing on an instance are left out of that series entirely.
// Safe for concurrent use.
//
//nolint:govet // Field order optimized for readability over memory
type PrometheusSink struct {
	registry *prometheus.Registry
	promoted []promotedProp
	counters sync.Map // map[string]*callCounter
	descs    sync.Map // map[string]*prometheus.Desc keyed by label shape
	logger   *slog.Logger
}

// NewPrometheusSink builds a sink with its own registry. A nil logger discards output.
func NewPrometheusSink(cfg MetricsConfig, logger *slog.Logger) (*PrometheusSink, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &PrometheusSink{
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	p.promoted = promoteProps(cfg.AllowedCustomProperties, logger)

	if err := p.registry.Register(p); err != nil {
		return nil, fmt.Errorf("register call counter: %w", err)
	}
	if !cfg.DisableRuntimeDefaults {
		if err := p.registry.Register(collectors.NewGoCollector()); err != nil {
			return nil, fmt.Errorf("register go collector: %w", err)
		}
		if err := p.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, fmt.Errorf("register process collector: %w", err)
		}
	}
	return p, nil
}

// promoteProps sanitizes the allow-list, dropping empty names and names that
// collide with a fixed label or an earlier entry.
func promoteProps(allowed []string, logger *slog.Logger) []promotedProp {
	seen := make(map[string]bool, len(fixedLabels)+len(allowed))
	for _, l := range fixedLabels {
		seen[l] = true
	}

	out := make([]promotedProp, 0, len(allowed))
	for _, prop := range allowed {
		label := SanitizeLabelName(prop)
		if label == "" || seen[label] {
			logger.Warn("custom property not promoted to label",
				slog.String("property", prop), slog.String("label", label))
			continue
		}
		seen[label] = true
		out = append(out, promotedProp{prop: prop, label: label})
	}
	return out
}

// SanitizeLabelName maps a property name to a valid Prometheus label name.
// Characters outside [A-Za-z0-9_] become '_', a leading digit gets a '_' prefix,
// and the reserved "__" prefix is collapsed to a single '_'.
func SanitizeLabelName(name string) string {
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name) + 1)
	if name[0] >= '0' && name[0] <= '9' {
		b.WriteByte('_')
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if strings.HasPrefix(out, "__") {
		out = "_" + strings.TrimLeft(out, "_")
	}
	return out
}

// Increment counts one call for the event's caller.
func (p *PrometheusSink) Increment(event TraceEvent) {
	values := make([]string, 0, len(fixedLabels)+len(p.promoted))
	values = append(values,
		event.Object.ClassName,
		strconv.FormatUint(event.Object.ObjectID, 10),
		event.Caller.Function,
		event.Caller.File,
	)

	var shape strings.Builder
	for _, pp := range p.promoted {
		v, ok := event.Object.Props[pp.prop]
		if !ok {
			continue
		}
		values = append(values, fmt.Sprint(v))
		shape.WriteString(pp.label)
		shape.WriteByte(',')
	}

	key := shape.String() + "\xff" + strings.Join(values, "\xff")
	if c, ok := p.counters.Load(key); ok {
		c.(*callCounter).val.Add(1)
		return
	}

	c := &callCounter{desc: p.desc(shape.String(), event.Object.Props), values: values}
	actual, _ := p.counters.LoadOrStore(key, c)
	actual.(*callCounter).val.Add(1)
}

// desc returns the descriptor for one label shape, creating it once.
func (p *PrometheusSink) desc(shape string, props Props) *prometheus.Desc {
	if d, ok := p.descs.Load(shape); ok {
		return d.(*prometheus.Desc)
	}
	labels := make([]string, 0, len(fixedLabels)+len(p.promoted))
	labels = append(labels, fixedLabels...)
	for _, pp := range p.promoted {
		if _, ok := props[pp.prop]; ok {
			labels = append(labels, pp.label)
		}
	}
	d := prometheus.NewDesc(callsMetricName, callsMetricHelp, labels, nil)
	actual, _ := p.descs.LoadOrStore(shape, d)
	return actual.(*prometheus.Desc)
}

// Describe sends nothing, registering the sink as an unchecked collector so
// series may carry different subsets of the promoted labels.
func (*PrometheusSink) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (p *PrometheusSink) Collect(ch chan<- prometheus.Metric) {
	p.counters.Range(func(_, v any) bool {
		c := v.(*callCounter)
		m, err := prometheus.NewConstMetric(c.desc, prometheus.CounterValue, float64(c.val.Load()), c.values...)
		if err != nil {
			p.logger.Error("call counter not exported", slog.Any("error", err))
			return true
		}
		ch <- m
		return true
	})
}

// Registry returns the sink's registry, for adding host collectors.
func (p *PrometheusSink) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry at /metrics. Every other path gets an empty 200.
func (p *PrometheusSink) Handler() http.Handler {
	metrics := promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(p.logger.Handler(), slog.LevelError),
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == metricsPath {
			metrics.ServeHTTP(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}
