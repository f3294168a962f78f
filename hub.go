package hypertracez

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
)

// traceDepth is the frame distance between Resolver.Capture and the function that
// called Trace or TraceKey: dispatch (0), Trace/TraceKey (1), caller (2).
const traceDepth = 2

// sinkSet is an immutable snapshot of the installed sinks.
// Writers replace it as a whole; readers load it once per call.
type sinkSet struct {
	trace   TraceFunc
	memory  MemoryFunc
	metrics MetricsSink
}

func (s *sinkSet) any() bool {
	return s.trace != nil || s.memory != nil || s.metrics != nil
}

func (s *sinkSet) tracing() bool {
	return s.trace != nil || s.metrics != nil
}

// Hub owns the sink slots, the per-type registry and the lifecycle tracker.
// Tracers created from a Hub report only to that Hub's sinks.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Hub struct {
	sinks     atomic.Pointer[sinkSet]
	registry  classRegistry
	lifecycle *lifecycleTracker
	resolver  *Resolver
	clock     clockz.Clock
	logger    *slog.Logger
	panicHook atomic.Pointer[func(sink string, r any)]
	errorHook atomic.Pointer[func(err error)]
	metrics   *metricsTarget
	mu        sync.Mutex // Serializes sink writers.
	strict    bool
}

// HubOption configures a Hub constructed by NewHub.
type HubOption func(*Hub)

// WithClock sets the clock used to timestamp events.
// Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) HubOption {
	return func(h *Hub) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithLogger sets the logger used for diagnostics. The default discards everything.
func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithResolver replaces the call-site resolver.
func WithResolver(r *Resolver) HubOption {
	return func(h *Hub) {
		if r != nil {
			h.resolver = r
		}
	}
}

// WithBaseDir reports call-site paths relative to dir.
func WithBaseDir(dir string) HubOption {
	return func(h *Hub) { h.resolver = NewResolver(dir) }
}

// WithStrictCallSites makes an unresolvable call site panic instead of dropping the event.
func WithStrictCallSites() HubOption {
	return func(h *Hub) { h.strict = true }
}

// WithAllocationCountingOnly disables weak observation of owners.
// Live counts then only grow, and no free events are emitted.
func WithAllocationCountingOnly() HubOption {
	return func(h *Hub) { h.registry.allocationCounted = true }
}

// NewHub creates a hub with no sinks installed.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clock:  clockz.RealClock,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.resolver == nil {
		h.resolver = NewResolver("")
	}
	h.logger = h.logger.With(slog.String("component", "hypertracez"))
	h.lifecycle = newLifecycleTracker(h)
	h.sinks.Store(&sinkSet{})
	return h
}

// Active reports whether any sink is installed. Tracers built while Active
// is false are inert for their whole life.
func (h *Hub) Active() bool {
	return h.sinks.Load().any()
}

// update replaces the sink set under the writer lock.
func (h *Hub) update(fn func(next *sinkSet)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := *h.sinks.Load()
	fn(&next)
	h.sinks.Store(&next)
}

// SetTraceFunction installs fn as the trace sink, replacing any previous one.
// A nil fn clears the slot.
func (h *Hub) SetTraceFunction(fn TraceFunc) {
	h.update(func(s *sinkSet) { s.trace = fn })
	h.logger.Debug("trace sink set", slog.Bool("installed", fn != nil))
}

// ClearTraceFunction empties the trace sink slot.
func (h *Hub) ClearTraceFunction() {
	h.SetTraceFunction(nil)
}

// SetMemoryFunction installs fn as the lifecycle sink, replacing any previous one.
// A nil fn clears the slot.
func (h *Hub) SetMemoryFunction(fn MemoryFunc) {
	h.update(func(s *sinkSet) { s.memory = fn })
	h.logger.Debug("memory sink set", slog.Bool("installed", fn != nil))
}

// ClearMemoryFunction empties the lifecycle sink slot.
func (h *Hub) ClearMemoryFunction() {
	h.SetMemoryFunction(nil)
}

// SetMetricsSink installs a custom metrics sink. A nil sink clears the slot.
// Most callers want SetMetricsTarget instead.
func (h *Hub) SetMetricsSink(sink MetricsSink) {
	h.update(func(s *sinkSet) { s.metrics = sink })
	h.logger.Debug("metrics sink set", slog.Bool("installed", sink != nil))
}

// SetMetricsTarget builds a PrometheusSink from cfg, installs it and starts
// serving it on cfg.Port. Returns ErrMetricsTargetActive if one is already running.
func (h *Hub) SetMetricsTarget(cfg MetricsConfig) error {
	h.mu.Lock()
	if h.metrics != nil {
		h.mu.Unlock()
		return ErrMetricsTargetActive
	}
	target, err := startMetricsTarget(cfg, h.logger)
	if err != nil {
		h.mu.Unlock()
		return fmt.Errorf("set metrics target: %w", err)
	}
	h.metrics = target
	h.mu.Unlock()

	h.SetMetricsSink(target.sink)
	return nil
}

// MetricsAddr returns the address the metrics endpoint listens on, or "" when none runs.
func (h *Hub) MetricsAddr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.metrics == nil {
		return ""
	}
	return h.metrics.server.Addr()
}

// ClearMetricsTarget removes the metrics sink and stops its endpoint.
func (h *Hub) ClearMetricsTarget() error {
	return h.clearMetricsTarget(context.Background())
}

func (h *Hub) clearMetricsTarget(ctx context.Context) error {
	h.mu.Lock()
	target := h.metrics
	h.metrics = nil
	h.mu.Unlock()

	if target == nil {
		return nil
	}
	h.SetMetricsSink(nil)
	return target.server.Stop(ctx)
}

// Shutdown clears every sink slot and stops the metrics endpoint.
// Tracers already constructed stay active but have nothing to report to.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.update(func(s *sinkSet) { *s = sinkSet{} })
	err := h.clearMetricsTarget(ctx)
	h.logger.Debug("hub shut down")
	return err
}

// SetPanicHook sets a function to be called when a sink panics.
// sink is "trace", "memory" or "metrics".
func (h *Hub) SetPanicHook(hook func(sink string, r any)) {
	if hook == nil {
		h.panicHook.Store(nil)
		return
	}
	h.panicHook.Store(&hook)
}

// SetErrorHook sets a function to be called when a trace call cannot be resolved.
func (h *Hub) SetErrorHook(hook func(err error)) {
	if hook == nil {
		h.errorHook.Store(nil)
		return
	}
	h.errorHook.Store(&hook)
}

// Classes returns per-type statistics sorted by type name.
func (h *Hub) Classes() []ClassStats {
	return h.registry.snapshot()
}

// Resolver returns the hub's call-site resolver.
func (h *Hub) Resolver() *Resolver {
	return h.resolver
}

// safeCall runs a sink, recovering and reporting panics so a faulty sink cannot
// unwind through the traced object's method.
func (h *Hub) safeCall(sink string, call func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("sink panicked", slog.String("sink", sink), slog.Any("panic", r))
			if hook := h.panicHook.Load(); hook != nil {
				(*hook)(sink, r)
			}
		}
	}()
	call()
}

func (h *Hub) emitTrace(s *sinkSet, event TraceEvent) {
	// Metrics first: the trace sink owns the event afterwards and may mutate it.
	if s.metrics != nil {
		h.safeCall("metrics", func() { s.metrics.Increment(event) })
	}
	if s.trace != nil {
		h.safeCall("trace", func() { s.trace(event) })
	}
}

// emitLifecycle delivers to the memory sink installed right now, if any.
func (h *Hub) emitLifecycle(event LifecycleEvent) {
	s := h.sinks.Load()
	if s.memory == nil {
		return
	}
	h.safeCall("memory", func() { s.memory(event) })
}

// reportError handles an unresolvable call site.
func (h *Hub) reportError(err error) {
	if h.strict {
		panic(err)
	}
	h.logger.Error("trace dropped", slog.Any("error", err))
	if hook := h.errorHook.Load(); hook != nil {
		(*hook)(err)
	}
}
