package sluice

import (
	"sync"

	"github.com/albertbausili/sluice/internal/dispatch"
)

// connOrder serializes exchanges per connection. The worker that claims a
// connection keeps handling its exchanges until none are queued, so
// pipelined requests are answered in the order they were decoded.
type connOrder struct {
	mu     sync.Mutex
	queued map[dispatch.Conn][]*Exchange
}

func newConnOrder() *connOrder {
	return &connOrder{queued: make(map[dispatch.Conn][]*Exchange)}
}

// claim reports whether the caller now owns ex.Conn. Otherwise ex is queued
// behind the exchange already being handled.
func (o *connOrder) claim(ex *Exchange) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if q, busy := o.queued[ex.Conn]; busy {
		o.queued[ex.Conn] = append(q, ex)
		return false
	}
	o.queued[ex.Conn] = nil
	return true
}

// next pops the next queued exchange for conn. When none is left the
// connection is released.
func (o *connOrder) next(conn dispatch.Conn) (*Exchange, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queued[conn]
	if len(q) == 0 {
		delete(o.queued, conn)
		return nil, false
	}
	o.queued[conn] = q[1:]
	return q[0], true
}

// busy returns the number of connections currently owned by a worker.
func (o *connOrder) busy() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queued)
}
