package ws

import (
	"sync"
)

// Conn is a live client connection that can receive JSON payloads.
type Conn interface {
	WriteJSON(v any) error
}

// Registry is the ephemeral mapping from client id to its live connection.
// It lives in the server process only; entries end when the connection
// drops. A client id is assumed single-connection, so registering again
// overwrites the previous entry (last-connected-wins).
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

func (r *Registry) Register(clientID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[clientID] = conn
}

func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, clientID)
}

// Release removes the entry only if it still maps to conn. A stale
// connection dying after the client reconnected must not evict the new
// connection's registration.
func (r *Registry) Release(clientID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[clientID] == conn {
		delete(r.conns, clientID)
	}
}

func (r *Registry) Get(clientID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[clientID]
	return conn, ok
}

// Send delivers payload to the client's connection if one is registered.
// Absent clients are not an error; the caller's durable state is the source
// of truth and missed pushes are never replayed.
func (r *Registry) Send(clientID string, payload any) (bool, error) {
	conn, ok := r.Get(clientID)
	if !ok {
		return false, nil
	}
	if err := conn.WriteJSON(payload); err != nil {
		return false, err
	}
	return true, nil
}
