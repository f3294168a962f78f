package benchmarks

import (
	"sync/atomic"
	"testing"

	"github.com/zoobzio/hypertracez"
)

// BenchmarkTraceParallel traces one shared object from many goroutines.
func BenchmarkTraceParallel(b *testing.B) {
	var counter atomic.Int64
	hub := hypertracez.NewHub()
	hub.SetTraceFunction(func(hypertracez.TraceEvent) { counter.Add(1) })
	s := newService(b, hub)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			s.handleCached()
		}
	})
	b.StopTimer()

	if counter.Load() != int64(b.N) {
		b.Errorf("Expected %d traces, got %d", b.N, counter.Load())
	}
}

// BenchmarkConstructionParallel contends on the per-type id counter and cache.
func BenchmarkConstructionParallel(b *testing.B) {
	hub := tracingHub()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			newService(b, hub).handleCached()
		}
	})
}

// BenchmarkCollectorParallel feeds a Collector from many goroutines.
func BenchmarkCollectorParallel(b *testing.B) {
	collector := hypertracez.NewCollector(4096)
	defer collector.Close()
	hub := hypertracez.NewHub()
	hub.SetTraceFunction(collector.Trace)
	s := newService(b, hub)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			s.handleCached()
		}
	})
	b.StopTimer()
	b.ReportMetric(float64(collector.DroppedCount()), "dropped")
}
