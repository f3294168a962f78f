package hypertracez

import (
	"log/slog"
	"runtime"
)

// freePayload is everything the free notification needs, captured by value at
// registration. It must not reference the owner, its tracer or the parent tracer,
// otherwise the owner stays reachable and the cleanup never runs.
type freePayload struct {
	class  *classState
	object ObjectInfo
	parent *ParentSnapshot
}

// lifecycleTracker counts live instances per type and reports alloc/free events.
type lifecycleTracker struct {
	hub *Hub
}

func newLifecycleTracker(h *Hub) *lifecycleTracker {
	return &lifecycleTracker{hub: h}
}

// register counts a new instance of owner's type and arms a cleanup on owner.
// object and parent must already be private copies.
func register[T any](lt *lifecycleTracker, owner *T, class *classState, object ObjectInfo, parent *ParentSnapshot) int64 {
	allocs := class.allocs.Add(1)
	count := class.live.Add(1)

	if class.weak {
		payload := freePayload{class: class, object: object, parent: parent}
		runtime.AddCleanup(owner, lt.release, payload)
	} else if allocs == 1 {
		lt.hub.logger.Warn("live count cannot decrease for this type",
			slog.String("class", class.name),
			slog.String("reason", "owner is zero-sized or weak observation is disabled"))
	}

	object.InstanceCount = count
	lt.hub.emitLifecycle(LifecycleEvent{
		Time:          lt.hub.clock.Now(),
		Type:          LifecycleAlloc,
		InstanceCount: count,
		Object:        withProps(object, copyProps(object.Props)),
		Parent:        parent.clone(),
	})
	return count
}

// release runs on the runtime's cleanup goroutine once the owner is unreachable.
func (lt *lifecycleTracker) release(p freePayload) {
	count := decrementFloor(p.class)

	object := p.object
	object.InstanceCount = count
	lt.hub.emitLifecycle(LifecycleEvent{
		Time:          lt.hub.clock.Now(),
		Type:          LifecycleFree,
		InstanceCount: count,
		Object:        object,
		Parent:        p.parent,
	})
}

// currentCount returns the number of live instances of class.
func (*lifecycleTracker) currentCount(class *classState) int64 {
	return class.live.Load()
}

// decrementFloor decrements the live count without ever going below zero.
func decrementFloor(class *classState) int64 {
	for {
		cur := class.live.Load()
		if cur <= 0 {
			return 0
		}
		if class.live.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

func withProps(o ObjectInfo, p Props) ObjectInfo {
	o.Props = p
	return o
}
