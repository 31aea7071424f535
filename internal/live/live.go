// Package live implements C7: the development-mode Server-Sent-Events
// channel that tells open browser tabs to reload after the supervisor's
// reload trigger fires, per spec.md §4.7. It mirrors the connection-set
// broadcaster shape of the teacher's WebSocket hub
// (internal/autoralph/server/wshub.go), swapping the bidirectional
// WebSocket protocol for one-way SSE since bialet's reload signal never
// needs a reply.
package live

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// Broadcaster tracks open /__bialet_reload connections and fans a "reload"
// event out to all of them. Safe for concurrent use.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]chan struct{}
	logger  *slog.Logger
}

// New builds an empty Broadcaster.
func New(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{clients: make(map[string]chan struct{}), logger: logger}
}

// ClientCount returns the number of currently open SSE connections, mostly
// useful for tests and diagnostics.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast fires a reload event at every open connection. It is
// fire-and-forget (spec.md §5): a slow or disconnected client simply misses
// the event and fails to auto-reload, never blocking the caller.
func (b *Broadcaster) Broadcast() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.clients {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// ServeSSE upgrades the connection to an SSE stream and registers it with
// the broadcaster until the client disconnects or the request context is
// cancelled (worker shutdown, spec.md §4.7).
func (b *Broadcaster) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id := uuid.NewString()
	ch := make(chan struct{}, 1)
	b.addClient(id, ch)
	defer b.removeClient(id)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ch:
			if _, err := fmt.Fprint(w, "event: reload\ndata: reload\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (b *Broadcaster) addClient(id string, ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[id] = ch
}

func (b *Broadcaster) removeClient(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, id)
}
