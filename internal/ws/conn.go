// Package ws maintains the pool of live websocket connections, partitioned
// by role (administrators, users), and fans status change messages out to
// them. The pool is single-process and in-memory; a connection lost to a
// restart simply reconnects.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conn is the transport surface the registry needs from a websocket
// connection. *websocket.Conn from gorilla/websocket satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// client is one registered connection with its liveness bookkeeping and
// the cancellation handle for its receive loop.
type client struct {
	id     uuid.UUID
	conn   Conn
	cancel context.CancelFunc

	writeMu sync.Mutex // gorilla conns allow only one concurrent writer

	mu       sync.Mutex
	lastPong time.Time
}

func newClient(id uuid.UUID, conn Conn, cancel context.CancelFunc) *client {
	return &client{
		id:       id,
		conn:     conn,
		cancel:   cancel,
		lastPong: time.Now(),
	}
}

// touch records an inbound signal from the peer.
func (c *client) touch() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

func (c *client) lastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

func (c *client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// partition is one identity-keyed connection map. Insert, remove and
// snapshot are atomic with respect to each other, so iterating callers
// never observe a half-removed entry.
type partition struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*client
}

func newPartition() *partition {
	return &partition{clients: make(map[uuid.UUID]*client)}
}

// add inserts the client if the identity is not yet present.
func (p *partition) add(c *client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.clients[c.id]; ok {
		return false
	}
	p.clients[c.id] = c
	return true
}

// remove deletes and returns the client, if present.
func (p *partition) remove(id uuid.UUID) (*client, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.clients[id]
	if ok {
		delete(p.clients, id)
	}
	return c, ok
}

func (p *partition) get(id uuid.UUID) (*client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.clients[id]
	return c, ok
}

// snapshot returns a point-in-time copy of the registered clients.
func (p *partition) snapshot() []*client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	clients := make([]*client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	return clients
}

// drain atomically empties the partition and returns what it held.
func (p *partition) drain() []*client {
	p.mu.Lock()
	defer p.mu.Unlock()

	clients := make([]*client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.clients = make(map[uuid.UUID]*client)
	return clients
}
