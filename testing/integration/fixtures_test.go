package integration

import (
	"testing"

	"github.com/zoobzio/hypertracez"
)

// Pool hands out Conns; each Conn is traced as a child of its Pool.
type Pool struct {
	tracer hypertracez.Tracer
	hub    *hypertracez.Hub
	name   string
}

func NewPool(t *testing.T, hub *hypertracez.Hub, name string) *Pool {
	t.Helper()
	p := &Pool{hub: hub, name: name}
	tracer, err := hypertracez.NewIn(hub, p, hypertracez.WithProps(hypertracez.Props{"pool": name}))
	if err != nil {
		t.Fatalf("pool tracer: %v", err)
	}
	p.tracer = tracer
	return p
}

func (p *Pool) Acquire(t *testing.T) *Conn {
	p.tracer.TraceKey("acquire", nil)
	c := &Conn{}
	tracer, err := hypertracez.NewIn(p.hub, c, hypertracez.WithParent(p.tracer))
	if err != nil {
		t.Fatalf("conn tracer: %v", err)
	}
	c.tracer = tracer
	return c
}

type Conn struct {
	tracer hypertracez.Tracer
	buf    [64]byte
}

func (c *Conn) Query(sql string) {
	c.tracer.Trace(hypertracez.Props{"sql": sql})
}

func (c *Conn) Exec(sql string) {
	c.tracer.TraceKey("exec", hypertracez.Props{"sql": sql})
	c.buf[0] = 1
}
