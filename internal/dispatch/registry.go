package dispatch

import "sync"

// Registry maps live connections to their bindings. Entries are inserted once
// on the read path and removed when the connection closes.
type Registry struct {
	mu       sync.RWMutex
	bindings map[Conn]*Binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[Conn]*Binding)}
}

// Lookup returns the binding for conn, if any.
func (r *Registry) Lookup(conn Conn) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[conn]
	return b, ok
}

// LoadOrCreate returns the binding for conn, creating it with create when
// absent. created reports whether create ran. A failed create stores nothing.
func (r *Registry) LoadOrCreate(conn Conn, create func() (*Binding, error)) (b *Binding, created bool, err error) {
	if b, ok := r.Lookup(conn); ok {
		return b, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bindings[conn]; ok {
		return b, false, nil
	}
	b, err = create()
	if err != nil {
		return nil, false, err
	}
	r.bindings[conn] = b
	return b, true, nil
}

// Remove forgets conn and reports whether it was present.
func (r *Registry) Remove(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bindings[conn]
	delete(r.bindings, conn)
	return ok
}

// Len returns the number of live bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
