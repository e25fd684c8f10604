// Package wsreg implements the per-instance connection registry: every
// socket that has completed a WebSocket upgrade on this process is tracked
// here, tagged with the city it subscribed to and the remote IP it
// connected from. Fan-out never blocks on a slow reader; a socket that
// can't keep up is closed rather than buffered without bound.
package wsreg

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBufferSize bounds how many pending messages a socket can queue
	// before it's considered too slow and is closed.
	sendBufferSize = 32
)

// ActiveConnections is kept in sync with the registry's live cardinality.
var ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "active_websocket_connections",
	Help: "Number of live WebSocket connections held by this instance.",
})

func init() {
	prometheus.MustRegister(ActiveConnections)
}

// Socket is a single registered connection.
type Socket struct {
	ID       string
	City     string
	RemoteIP string
	conn     *websocket.Conn
	send     chan []byte

	closeOnce sync.Once
}

// Close closes the underlying connection and send channel exactly once,
// safe to call concurrently from both the write pump and the registry.
func (s *Socket) Close() {
	s.closeOnce.Do(func() {
		close(s.send)
		_ = s.conn.Close()
	})
}

// enqueue attempts a non-blocking send. A full buffer means the client is
// too slow to keep up with the feed; rather than let memory grow without
// bound, the socket is dropped outright — a deliberate backpressure
// discipline, not a silent-drop best effort.
func (s *Socket) enqueue(payload []byte) (delivered bool) {
	defer func() {
		// send on a closed channel panics if Close raced us; treat that
		// as a failed delivery rather than crashing the publisher.
		if r := recover(); r != nil {
			delivered = false
		}
	}()
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// Registry tracks every live Socket for this instance.
type Registry struct {
	mu      sync.RWMutex
	sockets map[string]*Socket
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{sockets: make(map[string]*Socket)}
}

// Register upgrades conn into a tracked Socket for city, spawns its write
// pump, and returns it. Callers must arrange to call Unregister when the
// connection's read loop exits.
func (r *Registry) Register(conn *websocket.Conn, city, remoteIP string) *Socket {
	s := &Socket{
		ID:       uuid.NewString(),
		City:     city,
		RemoteIP: remoteIP,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
	}

	r.mu.Lock()
	r.sockets[s.ID] = s
	r.mu.Unlock()
	ActiveConnections.Inc()

	go r.writePump(s)
	return s
}

// Unregister removes a socket from the registry and closes it. Safe to
// call more than once for the same socket.
func (r *Registry) Unregister(s *Socket) {
	r.mu.Lock()
	_, existed := r.sockets[s.ID]
	delete(r.sockets, s.ID)
	r.mu.Unlock()

	if existed {
		ActiveConnections.Dec()
	}
	s.Close()
}

// Broadcast delivers payload to every registered socket subscribed to city.
// When filterIP is non-empty, delivery is further restricted to sockets
// whose RemoteIP equals filterIP — the mechanism behind Throttled
// visibility, where only the sender's own IP sees its own message echoed
// back. Sockets whose send buffer is full are closed, not retried.
func (r *Registry) Broadcast(city string, filterIP string, payload []byte) {
	r.mu.RLock()
	targets := make([]*Socket, 0, len(r.sockets))
	for _, s := range r.sockets {
		if s.City != city {
			continue
		}
		if filterIP != "" && s.RemoteIP != filterIP {
			continue
		}
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if !s.enqueue(payload) {
			r.Unregister(s)
		}
	}
}

// Count returns the number of live sockets, used by the health endpoint.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sockets)
}

// CloseAll sends closeFrame (typically a close control message built with
// websocket.FormatCloseMessage) to every live socket and unregisters it.
// Called once during graceful shutdown so clients get a clean close instead
// of the connection dropping out from under them.
func (r *Registry) CloseAll(closeFrame []byte) {
	r.mu.RLock()
	targets := make([]*Socket, 0, len(r.sockets))
	for _, s := range r.sockets {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		_ = s.conn.WriteControl(websocket.CloseMessage, closeFrame, time.Now().Add(writeWait))
		r.Unregister(s)
	}
}

// writePump drains a socket's send channel to the underlying connection and
// keeps it alive with periodic pings, mirroring the read/write pump split
// of a standard gorilla/websocket server loop.
func (r *Registry) writePump(s *Socket) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(payload); err != nil {
				_ = w.Close()
				return
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadLoop blocks reading frames from s until the client disconnects. The
// client is expected to send no application frames — this is a push-only
// channel — so any received frame is discarded; only pong keepalives and
// the eventual close matter. Callers run this on the upgrading goroutine
// and call Unregister when it returns.
func ReadLoop(s *Socket) {
	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
