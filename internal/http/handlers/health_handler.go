// Health handler.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-board-backend/internal/store"
	"github.com/tbourn/go-board-backend/internal/wsreg"
)

// HealthHandlers bundles the dependencies the liveness probe reads.
type HealthHandlers struct {
	Store    *store.Store
	Registry *wsreg.Registry
}

// NewHealthHandlers constructs a HealthHandlers.
func NewHealthHandlers(s *store.Store, reg *wsreg.Registry) *HealthHandlers {
	return &HealthHandlers{Store: s, Registry: reg}
}

// HealthResponse reports instance liveness.
type HealthResponse struct {
	Healthy           bool  `json:"healthy"`
	RedisConnected    bool  `json:"redis_connected"`
	ActiveConnections int   `json:"active_connections"`
	Timestamp         int64 `json:"timestamp"`
}

// GetHealth reports whether the store is reachable and how many sockets
// this instance currently holds open.
//
// @Summary  Health check
// @Tags     Ops
// @Produce  json
// @Success  200  {object}  handlers.HealthResponse
// @Failure  503  {object}  handlers.HealthResponse
// @Router   /health [get]
func (h *HealthHandlers) GetHealth(c *gin.Context) {
	connected := h.Store.Ping(c.Request.Context())
	resp := HealthResponse{
		Healthy:           connected,
		RedisConnected:    connected,
		ActiveConnections: h.Registry.Count(),
		Timestamp:         time.Now().Unix(),
	}
	status := http.StatusOK
	if !connected {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
