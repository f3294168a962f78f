package hypertracez

import (
	"context"
	"sync"
)

var (
	defaultHub  *Hub
	defaultOnce sync.Once
)

// Default returns the process-wide hub, creating it on first use.
func Default() *Hub {
	defaultOnce.Do(func() {
		defaultHub = NewHub()
	})
	return defaultHub
}

// New creates a tracer for owner on the default hub. See NewIn.
func New[T any](owner *T, opts ...TracerOption) (Tracer, error) {
	return NewIn(Default(), owner, opts...)
}

// SetTraceFunction installs the trace sink on the default hub.
func SetTraceFunction(fn TraceFunc) { Default().SetTraceFunction(fn) }

// ClearTraceFunction clears the trace sink on the default hub.
func ClearTraceFunction() { Default().ClearTraceFunction() }

// SetMemoryFunction installs the lifecycle sink on the default hub.
func SetMemoryFunction(fn MemoryFunc) { Default().SetMemoryFunction(fn) }

// ClearMemoryFunction clears the lifecycle sink on the default hub.
func ClearMemoryFunction() { Default().ClearMemoryFunction() }

// SetMetricsTarget starts a Prometheus endpoint fed by the default hub.
func SetMetricsTarget(cfg MetricsConfig) error { return Default().SetMetricsTarget(cfg) }

// ClearMetricsTarget stops the default hub's Prometheus endpoint.
func ClearMetricsTarget() error { return Default().ClearMetricsTarget() }

// Shutdown clears every sink on the default hub and stops its metrics endpoint.
func Shutdown(ctx context.Context) error { return Default().Shutdown(ctx) }
