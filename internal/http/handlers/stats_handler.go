// Stats and cooldown handlers.
//
// These endpoints are straightforward reads over the reputation engine and
// the daily/city counters; none of them run the full security pipeline
// beyond the universal identify/defend steps every route gets.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-board-backend/internal/ratelimit"
	"github.com/tbourn/go-board-backend/internal/security"
	"github.com/tbourn/go-board-backend/internal/stats"
)

// StatsHandlers bundles the dependencies the stats/cooldown endpoints need.
type StatsHandlers struct {
	RateLimit *ratelimit.Limiter
	Stats     *stats.Engine
	Catalog   []string
}

// NewStatsHandlers constructs a StatsHandlers.
func NewStatsHandlers(rl *ratelimit.Limiter, st *stats.Engine, catalog []string) *StatsHandlers {
	return &StatsHandlers{RateLimit: rl, Stats: st, Catalog: catalog}
}

// CooldownResponse reports whether the caller may post right now.
type CooldownResponse struct {
	CanPost          bool  `json:"can_post"`
	RemainingSeconds int64 `json:"remaining_seconds"`
}

// GetCooldown checks the caller's post rate-limit window without consuming
// an attempt, matching the original's cooldown semantics of keying off the
// post class rather than a dedicated cooldown window.
//
// @Summary  Check posting cooldown
// @Tags     Board
// @Produce  json
// @Success  200  {object}  handlers.CooldownResponse
// @Router   /api/cooldown [get]
func (h *StatsHandlers) GetCooldown(c *gin.Context) {
	sc, hasSC := security.FromGin(c)
	if !hasSC {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "missing security context")
		return
	}

	result, err := h.RateLimit.CheckStatus(c.Request.Context(), ratelimit.ClassPost, sc.Identity)
	if err != nil {
		ok(c, http.StatusOK, CooldownResponse{CanPost: true, RemainingSeconds: 0})
		return
	}

	ok(c, http.StatusOK, CooldownResponse{
		CanPost:          result.Allowed,
		RemainingSeconds: result.RetryAfterSeconds,
	})
}

// DailyStatsResponse reports today's aggregate traffic.
type DailyStatsResponse struct {
	UniqueIPs    int64 `json:"unique_ips"`
	MessageCount int64 `json:"message_count"`
}

// GetDailyStats returns today's unique visitor and message counts.
//
// @Summary  Daily traffic stats
// @Tags     Board
// @Produce  json
// @Success  200  {object}  handlers.DailyStatsResponse
// @Router   /api/stats/daily [get]
func (h *StatsHandlers) GetDailyStats(c *gin.Context) {
	day := stats.Day(time.Now())
	uniqueIPs, messageCount, err := h.Stats.DailyStats(c.Request.Context(), day)
	if err != nil {
		ok(c, http.StatusOK, DailyStatsResponse{})
		return
	}
	ok(c, http.StatusOK, DailyStatsResponse{UniqueIPs: uniqueIPs, MessageCount: messageCount})
}

// GetCityStats returns view counts and trailing daily averages for every
// catalog city. current_city is accepted per the external interface but
// doesn't change the response shape; it exists so a client can highlight
// its own city client-side.
//
// @Summary  Per-city view stats
// @Tags     Board
// @Produce  json
// @Param    current_city  query  string  false  "City to highlight client-side"
// @Success  200  {array}  stats.CityStat
// @Router   /api/stats/cities [get]
func (h *StatsHandlers) GetCityStats(c *gin.Context) {
	_ = strings.TrimSpace(c.Query("current_city"))
	rows, err := h.Stats.CityStats(c.Request.Context(), h.Catalog, time.Now())
	if err != nil {
		ok(c, http.StatusOK, []stats.CityStat{})
		return
	}
	ok(c, http.StatusOK, rows)
}

// TrackVisitorResponse confirms a visitor was recorded.
type TrackVisitorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PostTrackVisitor records the caller's IP against today's unique-visitor
// set. Body-less by design.
//
// @Summary  Record a visitor for daily stats
// @Tags     Board
// @Produce  json
// @Success  200  {object}  handlers.TrackVisitorResponse
// @Router   /api/track-visitor [post]
func (h *StatsHandlers) PostTrackVisitor(c *gin.Context) {
	sc, hasSC := security.FromGin(c)
	if !hasSC {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "missing security context")
		return
	}
	day := stats.Day(time.Now())
	if err := h.Stats.RecordVisitor(c.Request.Context(), sc.IP, day); err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
		return
	}
	ok(c, http.StatusOK, TrackVisitorResponse{Success: true, Message: "visitor recorded"})
}
