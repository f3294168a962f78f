// Package hypertracez provides lightweight call-site instrumentation for Go types.
//
// hypertracez attaches a tracer to each instance of a type. The tracer knows
// which object it belongs to (type name plus a per-type object id), who its
// parent object is, and can report every call made through it together with
// the calling function, file and line. Events go to pluggable sinks. When no
// sink is registered, tracers are inert and a trace call does nothing.
//
// Core Components:.
//   - Hub: Owns the sink slots, the per-type registry and the lifecycle tracker.
//   - Tracer: Per-instance handle returned by New/NewIn.
//   - Resolver: Turns a stack frame into a CallSite.
//   - Collector: In-memory trace sink for tests and inspection.
//   - PrometheusSink: Metrics sink exposing per-call-site counters.
//
// Basic Usage:.
//
//	type Store struct {
//		tracer hypertracez.Tracer
//	}
//
//	func NewStore() *Store {
//		s := &Store{}
//		s.tracer, _ = hypertracez.New(s, hypertracez.WithProps(hypertracez.Props{"shard": 3}))
//		return s
//	}
//
//	func (s *Store) Get(key string) {
//		s.tracer.Trace(hypertracez.Props{"key": key})
//	}
//
// Enabling:.
//
// Tracers latch their state at construction. A tracer built while no sink is
// registered stays inert for its whole life, even if a sink is registered later.
// Register sinks at process start, before constructing the objects you want to see.
//
// Lifecycle:.
//
// Active tracers count live instances per type. The count drops when the owning
// object is garbage collected (runtime.AddCleanup), at which point a free
// LifecycleEvent is delivered to the memory sink. Zero-sized owner types cannot be
// observed this way; for them the count only grows.
//
// Thread Safety:.
//
// Hub and Tracer are safe for concurrent use by multiple goroutines.
// Sinks run synchronously on the tracing goroutine, except free events which run
// on the runtime's cleanup goroutine.
package hypertracez

import (
	"errors"
	"fmt"
)

// Props holds custom properties attached to a tracer or a single trace call.
type Props = map[string]any

var (
	// ErrInvalidArgument is returned when a tracer is created without an owner.
	ErrInvalidArgument = errors.New("hypertracez: owner required")

	// ErrMalformedStackFrame is reported when a stack frame cannot be resolved to a call site.
	ErrMalformedStackFrame = errors.New("hypertracez: malformed stack frame")

	// ErrMetricsTargetActive is returned when a metrics target is set while another one is running.
	ErrMetricsTargetActive = errors.New("hypertracez: metrics target already active")
)

// FrameError describes a frame that could not be resolved.
type FrameError struct {
	Function string
	File     string
	Line     int
	Depth    int
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%v at depth %d: function=%q file=%q line=%d",
		ErrMalformedStackFrame, e.Depth, e.Function, e.File, e.Line)
}

// Unwrap allows errors.Is(err, ErrMalformedStackFrame).
func (*FrameError) Unwrap() error {
	return ErrMalformedStackFrame
}

// copyProps returns a shallow copy of p, or nil when p is nil.
func copyProps(p Props) Props {
	if p == nil {
		return nil
	}
	out := make(Props, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
