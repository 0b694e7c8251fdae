package dispatch

import "sync"

// Guard is the set of connections that currently have a decode task in flight.
type Guard struct {
	mu   sync.Mutex
	held map[Conn]struct{}
	// released receives a token whenever a connection leaves the set.
	released chan struct{}
}

// NewGuard creates an empty guard set.
func NewGuard() *Guard {
	return &Guard{
		held:     make(map[Conn]struct{}),
		released: make(chan struct{}, 1),
	}
}

// TryAcquire adds conn and reports true, or reports false if it is already held.
func (g *Guard) TryAcquire(conn Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[conn]; ok {
		return false
	}
	g.held[conn] = struct{}{}
	return true
}

// Release removes conn. Releasing a connection that is not held is a no-op.
func (g *Guard) Release(conn Conn) {
	g.mu.Lock()
	delete(g.held, conn)
	g.mu.Unlock()

	select {
	case g.released <- struct{}{}:
	default:
	}
}

// Held reports whether conn is in the set.
func (g *Guard) Held(conn Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[conn]
	return ok
}

// Len returns the number of held connections.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}

// Released is signalled after any Release.
func (g *Guard) Released() <-chan struct{} {
	return g.released
}
