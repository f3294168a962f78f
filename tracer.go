package hypertracez

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// Tracer is the per-instance handle returned by New and NewIn.
// Both the active and the inert implementation are safe for concurrent use.
type Tracer interface {
	// Trace reports a call from the function that invoked Trace.
	Trace(props Props)
	// TraceKey is Trace with the resolved call site cached under key for the
	// owner's type. Use one key per source location.
	TraceKey(key string, props Props)
	// TraceAt reports a call from a host-supplied site, skipping stack capture.
	TraceAt(site CallSite, props Props)

	ObjectID() uint64
	ClassName() string
	// Props returns the props given at construction, not a copy.
	Props() Props
	// InstanceCount returns the live instances of the owner's type.
	InstanceCount() int64
	// Parent returns a copy of the current parent snapshot, or nil.
	Parent() *ParentSnapshot
	// SetParent replaces the parent snapshot with a fresh copy of parent, or clears it.
	SetParent(parent Tracer)
	// Enabled reports whether this tracer was constructed active.
	Enabled() bool
}

type tracerConfig struct {
	parent Tracer
	props  Props
}

// TracerOption configures a tracer at construction.
type TracerOption func(*tracerConfig)

// WithParent links the new tracer to parent. The parent's identity and props are
// copied at this moment.
func WithParent(parent Tracer) TracerOption {
	return func(c *tracerConfig) { c.parent = parent }
}

// WithProps attaches custom properties to the tracer.
// The map is read on every trace call and must not be mutated concurrently.
func WithProps(props Props) TracerOption {
	return func(c *tracerConfig) { c.props = props }
}

// NewIn creates a tracer for owner reporting to hub. A nil hub means Default().
//
// If no sink is installed on hub at this moment the shared inert tracer is
// returned, and stays inert even after sinks are installed.
// Returns ErrInvalidArgument if owner is nil.
func NewIn[T any](hub *Hub, owner *T, opts ...TracerOption) (Tracer, error) {
	if owner == nil {
		return nil, ErrInvalidArgument
	}
	if hub == nil {
		hub = Default()
	}
	if !hub.Active() {
		return noTracing, nil
	}

	var cfg tracerConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	class := hub.registry.state(reflect.TypeFor[T]())
	t := &activeTracer{
		hub:      hub,
		class:    class,
		props:    cfg.props,
		objectID: class.assignObjectID(),
	}
	parent := snapshotOf(cfg.parent)
	t.parent.Store(parent)

	register(hub.lifecycle, owner, class, ObjectInfo{
		ClassName: class.name,
		ObjectID:  t.objectID,
		Props:     copyProps(cfg.props),
	}, parent.clone())

	return t, nil
}

// activeTracer is bound to one owner. Identity fields never change after construction.
//
//nolint:govet // Field order optimized for readability over memory
type activeTracer struct {
	hub      *Hub
	class    *classState
	props    Props
	objectID uint64
	parent   atomic.Pointer[ParentSnapshot]
	keysMu   sync.Mutex
	keys     []string
}

func (t *activeTracer) Trace(props Props) {
	t.dispatch("", props)
}

func (t *activeTracer) TraceKey(key string, props Props) {
	t.dispatch(key, props)
}

// dispatch must be called directly from Trace or TraceKey; the resolver looks
// exactly traceDepth frames up.
func (t *activeTracer) dispatch(key string, props Props) {
	s := t.hub.sinks.Load()
	if !s.tracing() {
		return
	}

	var (
		site CallSite
		ok   bool
	)
	if key != "" {
		site, ok = t.class.lookupSite(key)
	}
	if !ok {
		var err error
		site, err = t.hub.resolver.Capture(traceDepth, t.class.name)
		if err != nil {
			t.hub.reportError(fmt.Errorf("trace %s#%d: %w", t.class.name, t.objectID, err))
			return
		}
		if key != "" {
			var stored bool
			site, stored = t.class.storeSite(key, site)
			if stored {
				t.rememberKey(key)
			}
		}
	}

	t.emit(s, site, props)
}

func (t *activeTracer) TraceAt(site CallSite, props Props) {
	s := t.hub.sinks.Load()
	if !s.tracing() {
		return
	}
	t.emit(s, site, props)
}

func (t *activeTracer) emit(s *sinkSet, site CallSite, props Props) {
	t.hub.emitTrace(s, TraceEvent{
		Time: t.hub.clock.Now(),
		Object: ObjectInfo{
			ClassName:     t.class.name,
			ObjectID:      t.objectID,
			Props:         copyProps(t.props),
			InstanceCount: t.hub.lifecycle.currentCount(t.class),
		},
		Parent: t.parent.Load().clone(),
		Caller: CallerInfo{
			CallSite: site,
			Props:    copyProps(props),
		},
	})
}

func (t *activeTracer) rememberKey(key string) {
	t.keysMu.Lock()
	defer t.keysMu.Unlock()
	t.keys = append(t.keys, key)
}

// cacheKeys returns the keys this tracer populated in its type's cache.
func (t *activeTracer) cacheKeys() []string {
	t.keysMu.Lock()
	defer t.keysMu.Unlock()
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

func (t *activeTracer) ObjectID() uint64 { return t.objectID }

func (t *activeTracer) ClassName() string { return t.class.name }

func (t *activeTracer) Props() Props { return t.props }

func (t *activeTracer) InstanceCount() int64 {
	return t.hub.lifecycle.currentCount(t.class)
}

func (t *activeTracer) Parent() *ParentSnapshot {
	return t.parent.Load().clone()
}

func (t *activeTracer) SetParent(parent Tracer) {
	t.parent.Store(snapshotOf(parent))
}

func (*activeTracer) Enabled() bool { return true }

// snapshotOf copies parent's identity and props. Inert and nil parents yield nil.
func snapshotOf(parent Tracer) *ParentSnapshot {
	if parent == nil || !parent.Enabled() {
		return nil
	}
	return &ParentSnapshot{
		ClassName: parent.ClassName(),
		ObjectID:  parent.ObjectID(),
		Props:     copyProps(parent.Props()),
	}
}

// inertTracer is returned when no sink was installed at construction.
type inertTracer struct{}

var noTracing Tracer = inertTracer{}

func (inertTracer) Trace(Props) {}
func (inertTracer) TraceKey(string, Props) {}
func (inertTracer) TraceAt(CallSite, Props) {}
func (inertTracer) ObjectID() uint64 { return 0 }
func (inertTracer) ClassName() string { return "" }
func (inertTracer) Props() Props { return nil }
func (inertTracer) InstanceCount() int64 { return 0 }
func (inertTracer) Parent() *ParentSnapshot { return nil }
func (inertTracer) SetParent(Tracer) {}
func (inertTracer) Enabled() bool { return false }
