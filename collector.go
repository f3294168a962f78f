package hypertracez

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector buffers trace and lifecycle events in memory.
// Its Trace and Memory methods are usable as sinks:
//
//	c := hypertracez.NewCollector(1024)
//	defer c.Close()
//	hub.SetTraceFunction(c.Trace)
//	hub.SetMemoryFunction(c.Memory)
//
// Incoming events go through a buffered channel so a slow reader never blocks
// the traced code. When the channel is full the event is dropped and counted.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	traces       []TraceEvent
	lifecycle    []LifecycleEvent
	eventsCh     chan any
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	mu           sync.Mutex
	closed       atomic.Bool
	syncMode     atomic.Bool // Bypass channel for synchronous collection.
	closeOnce    sync.Once
}

// NewCollector creates a collector whose channel holds bufferSize pending events.
func NewCollector(bufferSize int) *Collector {
	if bufferSize < 1 {
		bufferSize = 1
	}
	c := &Collector{
		traces:   make([]TraceEvent, 0, 8),
		eventsCh: make(chan any, bufferSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.start()
	return c
}

// start runs the collector's main loop, receiving events from the channel.
func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining events before shutdown.
			for {
				select {
				case ev := <-c.eventsCh:
					c.buffer(ev)
				default:
					return
				}
			}
		case ev := <-c.eventsCh:
			c.buffer(ev)
		}
	}
}

// Close stops the collector goroutine after draining pending events.
// Later events are dropped. Safe to call more than once.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCh)
		select {
		case <-c.done:
		case <-time.After(100 * time.Millisecond):
		}
	})
}

// Trace is a TraceFunc.
func (c *Collector) Trace(event TraceEvent) {
	event.Object.Props = copyProps(event.Object.Props)
	event.Parent = event.Parent.clone()
	event.Caller.Props = copyProps(event.Caller.Props)
	c.collect(event)
}

// Memory is a MemoryFunc.
func (c *Collector) Memory(event LifecycleEvent) {
	event.Object.Props = copyProps(event.Object.Props)
	event.Parent = event.Parent.clone()
	c.collect(event)
}

func (c *Collector) collect(ev any) {
	if c.closed.Load() {
		c.droppedCount.Add(1)
		return
	}
	if c.syncMode.Load() {
		c.buffer(ev)
		return
	}

	select {
	case c.eventsCh <- ev:
	default:
		// Channel full - drop to avoid blocking the traced code.
		c.droppedCount.Add(1)
	}
}

func (c *Collector) buffer(ev any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := ev.(type) {
	case TraceEvent:
		c.traces = append(c.traces, e)
	case LifecycleEvent:
		c.lifecycle = append(c.lifecycle, e)
	}
}

// Export returns all buffered trace events and clears the trace buffer.
func (c *Collector) Export() []TraceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.traces) == 0 {
		return nil
	}
	result := c.traces
	// Shrink oversized buffers after a burst, otherwise reuse capacity.
	if cap(c.traces) > 256 && len(c.traces) < cap(c.traces)/8 {
		c.traces = make([]TraceEvent, 0, 32)
	} else {
		c.traces = make([]TraceEvent, 0, cap(c.traces))
	}
	return result
}

// ExportLifecycle returns all buffered lifecycle events and clears that buffer.
func (c *Collector) ExportLifecycle() []LifecycleEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := c.lifecycle
	c.lifecycle = nil
	return result
}

// Count returns the number of buffered trace events.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.traces)
}

// DroppedCount returns the total number of events dropped due to backpressure or Close.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode enables synchronous collection.
// Events are buffered on the calling goroutine, which makes tests deterministic.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode.Store(sync)
}

// Reset clears both buffers and the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.traces = c.traces[:0]
	c.lifecycle = nil
	c.droppedCount.Store(0)
}
