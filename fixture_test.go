package hypertracez

import (
	"runtime"
	"sync"
	"testing"
)

// SomeModule is the traced type used throughout the tests.
type SomeModule struct {
	tracer    Tracer
	traceLine int
}

func newSomeModule(t testing.TB, hub *Hub, opts ...TracerOption) *SomeModule {
	t.Helper()
	m := &SomeModule{}
	tracer, err := NewIn(hub, m, opts...)
	if err != nil {
		t.Fatalf("Expected tracer, got error %v", err)
	}
	m.tracer = tracer
	return m
}

// Foo traces and records the line the trace was issued from.
func (m *SomeModule) Foo(props Props) {
	m.tracer.Trace(props)
	_, _, line, _ := runtime.Caller(0)
	m.traceLine = line - 1
}

// FooKey is Foo with a call-site cache key.
func (m *SomeModule) FooKey(key string, props Props) {
	m.tracer.TraceKey(key, props)
	_, _, line, _ := runtime.Caller(0)
	m.traceLine = line - 1
}

// Bar uses the same cache key as FooKey from a different line.
func (m *SomeModule) Bar(key string) {
	m.tracer.TraceKey(key, nil)
}

// SomeParent and SomeChild model a nested object graph.
type SomeParent struct {
	tracer Tracer
}

type SomeChild struct {
	tracer Tracer
}

func newSomeParent(t testing.TB, hub *Hub, props Props) *SomeParent {
	t.Helper()
	p := &SomeParent{}
	tracer, err := NewIn(hub, p, WithProps(props))
	if err != nil {
		t.Fatalf("Expected tracer, got error %v", err)
	}
	p.tracer = tracer
	return p
}

func (p *SomeParent) createChild(t testing.TB, hub *Hub) *SomeChild {
	t.Helper()
	c := &SomeChild{}
	tracer, err := NewIn(hub, c, WithParent(p.tracer))
	if err != nil {
		t.Fatalf("Expected tracer, got error %v", err)
	}
	c.tracer = tracer
	return c
}

func (c *SomeChild) Foo() {
	c.tracer.Trace(nil)
}

// helperTrace is a plain function issuing a trace.
func helperTrace(tr Tracer) {
	tr.Trace(nil)
}

// eventLog is a trace sink recording every event.
type eventLog struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (l *eventLog) record(e TraceEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []TraceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TraceEvent, len(l.events))
	copy(out, l.events)
	return out
}

// newTracingHub returns a hub with an eventLog installed as trace sink.
func newTracingHub(opts ...HubOption) (*Hub, *eventLog) {
	hub := NewHub(opts...)
	log := &eventLog{}
	hub.SetTraceFunction(log.record)
	return hub, log
}
