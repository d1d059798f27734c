package network

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/portal-project/portal/internal/protocol"
)

// Registry tracks the live connections of a server.
type Registry struct {
	mu    sync.RWMutex
	conns map[uint64]*Conn
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[uint64]*Conn),
	}
}

// Register adds a connection to the registry.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.id] = c
	log.Trace().Uint64("conn_id", c.id).Msg("connection registered")
}

// Unregister removes a connection from the registry.
func (r *Registry) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		delete(r.conns, id)
		log.Trace().Uint64("conn_id", id).Msg("connection unregistered")
	}
}

// Get returns the connection with the given id.
func (r *Registry) Get(id uint64) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Players counts logged-in connections that are still open.
func (r *Registry) Players() int {
	n := 0
	for _, info := range r.List() {
		if info.Username != "" && info.State != protocol.StateClosed.String() {
			n++
		}
	}
	return n
}

// List returns a snapshot of every live connection ordered by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Each calls fn for every live connection. fn must not block.
func (r *Registry) Each(fn func(*Conn)) {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		fn(c)
	}
}

// CloseAll tears down every connection without a goodbye packet, aborting
// writes still in flight.
func (r *Registry) CloseAll() {
	n := 0
	r.Each(func(c *Conn) {
		c.Close()
		n++
	})
	log.Info().Int("connections", n).Msg("all connections closed")
}
