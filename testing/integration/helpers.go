package integration

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/hypertracez"
)

// MockCollector wraps a real collector with test utilities.
// Provides synchronous collection and verification helpers.
//
//nolint:govet // Field alignment optimized for test helper readability
type MockCollector struct {
	exported  []hypertracez.TraceEvent
	lifecycle []hypertracez.LifecycleEvent
	*hypertracez.Collector
	t  *testing.T
	mu sync.Mutex
}

// NewMockCollector creates a collector for testing.
func NewMockCollector(t *testing.T, bufferSize int) *MockCollector {
	collector := hypertracez.NewCollector(bufferSize)
	collector.SetSyncMode(true) // Enable synchronous collection for testing.
	t.Cleanup(collector.Close)
	return &MockCollector{
		Collector: collector,
		t:         t,
	}
}

// Attach installs the collector as trace and memory sink on hub.
func (m *MockCollector) Attach(hub *hypertracez.Hub) {
	hub.SetTraceFunction(m.Trace)
	hub.SetMemoryFunction(m.Memory)
}

// NewTracedHub returns a hub with a fresh MockCollector attached.
func NewTracedHub(t *testing.T, opts ...hypertracez.HubOption) (*hypertracez.Hub, *MockCollector) {
	hub := hypertracez.NewHub(opts...)
	collector := NewMockCollector(t, 1000)
	collector.Attach(hub)
	t.Cleanup(func() {
		_ = hub.Shutdown(t.Context())
	})
	return hub, collector
}

// GetAll returns every trace event seen so far without losing earlier exports.
func (m *MockCollector) GetAll() []hypertracez.TraceEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exported = append(m.exported, m.Collector.Export()...)
	all := make([]hypertracez.TraceEvent, len(m.exported))
	copy(all, m.exported)
	return all
}

// GetLifecycle returns every lifecycle event seen so far.
func (m *MockCollector) GetLifecycle() []hypertracez.LifecycleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lifecycle = append(m.lifecycle, m.Collector.ExportLifecycle()...)
	all := make([]hypertracez.LifecycleEvent, len(m.lifecycle))
	copy(all, m.lifecycle)
	return all
}

// WaitForFrees forces collections until expected free events arrived or timeout passes.
func (m *MockCollector) WaitForFrees(expected int, timeout time.Duration) []hypertracez.LifecycleEvent {
	deadline := time.Now().Add(timeout)
	for {
		frees := FilterLifecycle(m.GetLifecycle(), hypertracez.LifecycleFree)
		if len(frees) >= expected {
			return frees
		}
		if time.Now().After(deadline) {
			m.t.Errorf("Timeout waiting for free events: expected %d, got %d", expected, len(frees))
			return frees
		}
		forceCollection()
		time.Sleep(10 * time.Millisecond)
	}
}

// AssertEventCount verifies the exact number of trace events seen.
func (m *MockCollector) AssertEventCount(expected int) {
	if got := len(m.GetAll()); got != expected {
		m.t.Errorf("Expected %d trace events, got %d", expected, got)
	}
}

// AssertCalled checks that class.function was traced and returns the first match.
func (m *MockCollector) AssertCalled(class, function string) *hypertracez.TraceEvent {
	events := m.GetAll()
	for i := range events {
		e := &events[i]
		if e.Object.ClassName == class && e.Caller.Function == function {
			return e
		}
	}
	m.t.Errorf("No trace of %s.%s found", class, function)
	return nil
}

// AssertParentChild verifies every traced child event names the expected parent.
func (m *MockCollector) AssertParentChild(parentClass string, parentID uint64, childClass string) {
	found := false
	for _, e := range m.GetAll() {
		if e.Object.ClassName != childClass {
			continue
		}
		found = true
		if e.Parent == nil {
			m.t.Errorf("%s#%d has no parent, expected %s#%d", childClass, e.Object.ObjectID, parentClass, parentID)
			continue
		}
		if e.Parent.ClassName != parentClass || e.Parent.ObjectID != parentID {
			m.t.Errorf("%s#%d parent is %s#%d, expected %s#%d",
				childClass, e.Object.ObjectID, e.Parent.ClassName, e.Parent.ObjectID, parentClass, parentID)
		}
	}
	if !found {
		m.t.Errorf("No trace of %s found", childClass)
	}
}

// FilterLifecycle keeps only events of typ.
func FilterLifecycle(events []hypertracez.LifecycleEvent, typ hypertracez.LifecycleType) []hypertracez.LifecycleEvent {
	var out []hypertracez.LifecycleEvent
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// ObjectTree groups trace events by object and nests objects under their parents.
type ObjectTree struct {
	Class    string
	ID       uint64
	Calls    []string
	Children []*ObjectTree
}

// BuildObjectTree constructs the object graph seen in a flat event list.
func BuildObjectTree(events []hypertracez.TraceEvent) []*ObjectTree {
	nodes := make(map[string]*ObjectTree)
	var order []string
	parents := make(map[string]string)

	for _, e := range events {
		key := objectKey(e.Object.ClassName, e.Object.ObjectID)
		node, ok := nodes[key]
		if !ok {
			node = &ObjectTree{Class: e.Object.ClassName, ID: e.Object.ObjectID}
			nodes[key] = node
			order = append(order, key)
		}
		node.Calls = append(node.Calls, e.Caller.Function)
		if e.Parent != nil {
			parents[key] = objectKey(e.Parent.ClassName, e.Parent.ObjectID)
		}
	}

	roots := make([]*ObjectTree, 0)
	for _, key := range order {
		node := nodes[key]
		if parent, ok := nodes[parents[key]]; ok {
			parent.Children = append(parent.Children, node)
			continue
		}
		roots = append(roots, node)
	}
	return roots
}

// PrintObjectTree formats the tree for debugging.
func PrintObjectTree(trees []*ObjectTree) string {
	var sb strings.Builder
	for _, tree := range trees {
		printTreeNode(&sb, tree, 0)
	}
	return sb.String()
}

func printTreeNode(sb *strings.Builder, node *ObjectTree, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(sb, "%s%s#%d %v\n", indent, node.Class, node.ID, node.Calls)
	for _, child := range node.Children {
		printTreeNode(sb, child, depth+1)
	}
}

func objectKey(class string, id uint64) string {
	return fmt.Sprintf("%s#%d", class, id)
}

// forceCollection runs two cycles so cleanups queued by the first can run.
func forceCollection() {
	runtime.GC()
	runtime.GC()
}
