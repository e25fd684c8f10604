// WebSocket upgrade handler.
//
// GET /ws upgrades to a push-only socket subscribed to a single city's
// live feed. The socket never reads application frames back; it exists
// purely so a browser gets new posts the instant the board accepts them,
// instead of polling GET /messages.
package handlers

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tbourn/go-board-backend/internal/security"
	"github.com/tbourn/go-board-backend/internal/wsreg"
)

// WSHandlers bundles the dependencies the upgrade endpoint needs.
type WSHandlers struct {
	Pipeline       *security.Pipeline
	Registry       *wsreg.Registry
	AllowedOrigins []string
	MaxPerIdentity int

	mu     sync.Mutex
	counts map[string]int
}

// NewWSHandlers constructs a WSHandlers. maxPerIdentity bounds how many
// concurrent sockets a single CompositeKey may hold open on this instance;
// it is enforced per-instance, not cluster-wide, the same way the
// connection registry itself is per-instance.
func NewWSHandlers(p *security.Pipeline, reg *wsreg.Registry, allowedOrigins []string, maxPerIdentity int) *WSHandlers {
	if maxPerIdentity < 1 {
		maxPerIdentity = 5
	}
	return &WSHandlers{
		Pipeline:       p,
		Registry:       reg,
		AllowedOrigins: allowedOrigins,
		MaxPerIdentity: maxPerIdentity,
		counts:         make(map[string]int),
	}
}

func (h *WSHandlers) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients (curl, server-to-server) send no Origin header;
		// same posture as the teacher's REST CORS middleware, which only
		// matters to browsers in the first place.
		return true
	}
	if len(h.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.AllowedOrigins {
		if allowed == "*" {
			return true
		}
		if strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	return false
}

func (h *WSHandlers) acquire(identity string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.counts[identity] >= h.MaxPerIdentity {
		return false
	}
	h.counts[identity]++
	return true
}

func (h *WSHandlers) release(identity string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[identity]--
	if h.counts[identity] <= 0 {
		delete(h.counts, identity)
	}
}

// ServeWS upgrades the connection and registers it under the city named by
// the location query parameter. A missing or already-saturated identity is
// rejected before the upgrade, so a rejected client gets an ordinary HTTP
// status instead of a socket that's immediately closed.
//
// @Summary  Subscribe to a city's live feed
// @Tags     Board
// @Param    location  query  string  true  "City name"
// @Router   /ws [get]
func (h *WSHandlers) ServeWS(c *gin.Context) {
	sc, ok := security.FromGin(c)
	if !ok {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "missing security context")
		return
	}

	city := strings.TrimSpace(c.Query("location"))
	if city == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "location is required")
		return
	}

	if !h.acquire(sc.Identity) {
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "too many open connections")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.release(sc.Identity)
		return
	}

	socket := h.Registry.Register(conn, city, sc.IP)
	wsreg.ReadLoop(socket)
	h.Registry.Unregister(socket)
	h.release(sc.Identity)
}
