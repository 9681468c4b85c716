package interceptor

import (
	"sort"
	"sync"
)

// Stopper is a bridge connection the registry can tear down.
type Stopper interface {
	comparable
	Stop()
}

// Connections maps connection ids to live bridge connections. At most one
// connection exists per id; creation and removal are serialized.
type Connections[C Stopper] struct {
	mu    sync.Mutex
	conns map[string]C
}

func NewConnections[C Stopper]() *Connections[C] {
	return &Connections[C]{conns: make(map[string]C)}
}

// GetOrCreate returns the connection for id, calling create under the lock
// when none exists. A failed create leaves nothing behind. created reports
// whether this call made the connection.
func (r *Connections[C]) GetOrCreate(id string, create func() (C, error)) (conn C, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[id]; ok {
		return c, false, nil
	}
	c, err := create()
	if err != nil {
		var zero C
		return zero, false, err
	}
	r.conns[id] = c
	return c, true, nil
}

// Get returns the connection for id if one exists.
func (r *Connections[C]) Get(id string) (C, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

// CloseIfPresent removes and stops the connection for id. Unknown ids are a
// no-op.
func (r *Connections[C]) CloseIfPresent(id string) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if ok {
		c.Stop()
	}
	return ok
}

// Evict stops conn and removes it from the registry if it is still the one
// registered for id; a replacement created meanwhile stays registered.
// Reports whether conn was removed.
func (r *Connections[C]) Evict(id string, conn C) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	ok = ok && c == conn
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	conn.Stop()
	return ok
}

// DestroyAll stops every connection and empties the registry.
func (r *Connections[C]) DestroyAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]C)
	r.mu.Unlock()

	for _, c := range conns {
		c.Stop()
	}
}

func (r *Connections[C]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// IDs returns the registered ids, sorted.
func (r *Connections[C]) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}
