package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
)

// client is one connected WebSocket peer. Writes are serialized with
// the client's own mutex because gorilla/websocket allows only one
// concurrent writer per connection.
type client struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (c *client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// registry maps session ids to the clients subscribed to them.
type registry struct {
	mu      sync.Mutex
	bySess  map[string]map[*client]struct{}
	clients map[*client][]string
}

func newRegistry() *registry {
	return &registry{
		bySess:  make(map[string]map[*client]struct{}),
		clients: make(map[*client][]string),
	}
}

func (r *registry) subscribe(c *client, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.bySess[sessionID]
	if !ok {
		subs = make(map[*client]struct{})
		r.bySess[sessionID] = subs
	}
	if _, ok := subs[c]; !ok {
		subs[c] = struct{}{}
		r.clients[c] = append(r.clients[c], sessionID)
	}
}

func (r *registry) remove(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sessionID := range r.clients[c] {
		delete(r.bySess[sessionID], c)
		if len(r.bySess[sessionID]) == 0 {
			delete(r.bySess, sessionID)
		}
	}
	delete(r.clients, c)
}

func (r *registry) subscribers(sessionID string) []*client {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := make([]*client, 0, len(r.bySess[sessionID]))
	for c := range r.bySess[sessionID] {
		subs = append(subs, c)
	}
	return subs
}

func (r *registry) all() []*client {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}
