package hypertracez

import (
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
)

// classState is the per-type bookkeeping shared by every tracer of that type.
// Created on first use and never removed.
//
//nolint:govet // Field order optimized for readability over memory
type classState struct {
	name   string
	cache  sync.Map // map[string]CallSite
	nextID atomic.Uint64
	allocs atomic.Int64
	live   atomic.Int64
	weak   bool
}

// assignObjectID returns the next id for this class, starting at 1.
func (c *classState) assignObjectID() uint64 {
	return c.nextID.Add(1)
}

func (c *classState) lookupSite(key string) (CallSite, bool) {
	v, ok := c.cache.Load(key)
	if !ok {
		return CallSite{}, false
	}
	return v.(CallSite), true
}

// storeSite keeps the first site stored under key; concurrent writers agree on it.
// stored is false when another tracer got there first.
func (c *classState) storeSite(key string, site CallSite) (CallSite, bool) {
	v, loaded := c.cache.LoadOrStore(key, site)
	return v.(CallSite), !loaded
}

func (c *classState) cachedSites() int {
	n := 0
	c.cache.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// classRegistry maps an owner type to its classState.
type classRegistry struct {
	classes           sync.Map // map[reflect.Type]*classState
	allocationCounted bool
}

// state returns the classState for typ, creating it on first use.
func (r *classRegistry) state(typ reflect.Type) *classState {
	if v, ok := r.classes.Load(typ); ok {
		return v.(*classState)
	}
	cs := &classState{
		name: className(typ),
		weak: !r.allocationCounted && typ.Size() > 0,
	}
	v, _ := r.classes.LoadOrStore(typ, cs)
	return v.(*classState)
}

// ClassStats is a point-in-time view of one traced type.
type ClassStats struct {
	Name        string
	Allocated   int64
	Live        int64
	CachedSites int
	// Weak is false when the type's live count cannot decrease.
	Weak bool
}

func (r *classRegistry) snapshot() []ClassStats {
	out := make([]ClassStats, 0)
	r.classes.Range(func(_, v any) bool {
		cs := v.(*classState)
		out = append(out, ClassStats{
			Name:        cs.name,
			Allocated:   cs.allocs.Load(),
			Live:        cs.live.Load(),
			CachedSites: cs.cachedSites(),
			Weak:        cs.weak,
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// className returns the bare type name, dereferencing pointers.
func className(typ reflect.Type) string {
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if name := typ.Name(); name != "" {
		return name
	}
	return typ.String()
}
