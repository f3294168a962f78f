package hypertracez

import "time"

// CallSite identifies the source location a trace call was issued from.
// File is relative to the resolver's base directory and starts with "/".
// Column is 0 when the runtime cannot report it.
type CallSite struct {
	Function string `json:"function_name"`
	File     string `json:"filename"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

// ObjectInfo describes the traced object at the moment of an event.
type ObjectInfo struct {
	Props         Props  `json:"props,omitempty"`
	ClassName     string `json:"class_name"`
	ObjectID      uint64 `json:"id"`
	InstanceCount int64  `json:"instance_count"`
}

// ParentSnapshot is a by-value copy of a parent tracer taken when the link was made.
// Later changes to the parent's props are not reflected here.
type ParentSnapshot struct {
	Props     Props  `json:"props,omitempty"`
	ClassName string `json:"class_name"`
	ObjectID  uint64 `json:"id"`
}

// clone returns a copy that shares nothing mutable with s.
func (s *ParentSnapshot) clone() *ParentSnapshot {
	if s == nil {
		return nil
	}
	return &ParentSnapshot{
		ClassName: s.ClassName,
		ObjectID:  s.ObjectID,
		Props:     copyProps(s.Props),
	}
}

// CallerInfo is the call site plus the props passed to that specific call.
type CallerInfo struct {
	Props Props `json:"props,omitempty"`
	CallSite
}

// TraceEvent is delivered to the trace sink once per traced call.
// Events are built fresh for every call; sinks may keep or mutate them.
//
//nolint:govet // Field order follows the JSON layout
type TraceEvent struct {
	Time   time.Time       `json:"time"`
	Object ObjectInfo      `json:"object"`
	Parent *ParentSnapshot `json:"parent_object,omitempty"`
	Caller CallerInfo      `json:"caller"`
}

// LifecycleType distinguishes allocation from release of a traced object.
type LifecycleType string

const (
	// LifecycleAlloc is emitted when an active tracer is constructed.
	LifecycleAlloc LifecycleType = "alloc"
	// LifecycleFree is emitted after the owning object was garbage collected.
	LifecycleFree LifecycleType = "free"
)

// LifecycleEvent is delivered to the memory sink on alloc and free.
//
//nolint:govet // Field order follows the JSON layout
type LifecycleEvent struct {
	Time          time.Time       `json:"time"`
	Type          LifecycleType   `json:"type"`
	InstanceCount int64           `json:"instance_count"`
	Object        ObjectInfo      `json:"object"`
	Parent        *ParentSnapshot `json:"parent_object,omitempty"`
}

// TraceFunc receives trace events.
type TraceFunc func(event TraceEvent)

// MemoryFunc receives lifecycle events.
type MemoryFunc func(event LifecycleEvent)

// MetricsSink receives every trace event and turns it into a counter increment.
// Implementations must be safe for concurrent use.
type MetricsSink interface {
	Increment(event TraceEvent)
}
