// Package sse streams realm reindex notifications to HTTP clients as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/starford/nous/internal/models"
)

// Event types broadcast by the broker.
const (
	TypeReindexed    = "realm.reindexed"
	TypeGraphUpdated = "graph.updated"
)

// clientBuffer is the number of frames a slow client may fall behind before
// frames are dropped for it.
const clientBuffer = 64

// Event is one SSE frame. ID, when set, becomes the frame id so clients can
// tell which generation they last saw.
type Event struct {
	Type string
	ID   string
	Data any
}

// frame renders e in the text/event-stream format.
func (e Event) frame() ([]byte, error) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("sse: encode %s: %w", e.Type, err)
	}
	var out []byte
	if e.ID != "" {
		out = fmt.Appendf(out, "id: %s\n", e.ID)
	}
	return fmt.Appendf(out, "event: %s\ndata: %s\n\n", e.Type, payload), nil
}

// Broker fans realm events out to subscribed clients. A client that falls
// more than clientBuffer frames behind misses frames rather than stalling
// the realm.
type Broker struct {
	graphMin  time.Duration
	keepAlive time.Duration

	mu        sync.Mutex
	clients   map[chan []byte]struct{}
	last      []byte // latest realm.reindexed frame, replayed to new clients
	lastGraph time.Time
	closed    bool
}

// NewBroker returns a broker that emits graph.updated at most once per
// graphThrottle.
func NewBroker(graphThrottle time.Duration) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}
	return &Broker{
		graphMin:  graphThrottle,
		keepAlive: 15 * time.Second,
		clients:   make(map[chan []byte]struct{}),
	}
}

// Subscribe registers a client. The returned channel first carries the most
// recent reindex frame, if any, and is closed by Unsubscribe or Close.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	if b.last != nil {
		ch <- b.last
	}
	b.clients[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every client. Later calls to Publish are no-ops.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		close(ch)
	}
	clear(b.clients)
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(e Event) {
	raw, err := e.frame()
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcast(raw)
}

// PublishReindex announces a committed reindex pass, followed by a throttled
// graph.updated event. Its signature fits realm.OnReindex.
func (b *Broker) PublishReindex(stats models.Stats) {
	id := strconv.FormatUint(stats.Generation, 10)
	raw, err := Event{Type: TypeReindexed, ID: id, Data: stats}.frame()
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.last = raw
	b.broadcast(raw)

	now := time.Now()
	if now.Sub(b.lastGraph) < b.graphMin {
		return
	}
	b.lastGraph = now
	graph, err := Event{Type: TypeGraphUpdated, ID: id, Data: map[string]uint64{"generation": stats.Generation}}.frame()
	if err == nil {
		b.broadcast(graph)
	}
}

// broadcast must be called with b.mu held.
func (b *Broker) broadcast(raw []byte) {
	if b.closed {
		return
	}
	for ch := range b.clients {
		select {
		case ch <- raw:
		default:
		}
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
