// Board HTTP handlers.
//
// This file exposes the anonymous bulletin-board endpoints:
//   - POST /messages              (submit a post, subject to the full security pipeline)
//   - GET  /messages?location=    (read the live feed for a city)
//
// Handlers are transport-thin: the heavy lifting (identity, abuse defenses,
// moderation, persistence, fan-out) lives in the security, messages, and
// broadcast packages. A handler's job here is to run those steps in the
// fixed order the pipeline requires and translate the outcome to HTTP.
package handlers

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-board-backend/internal/broadcast"
	"github.com/tbourn/go-board-backend/internal/messages"
	"github.com/tbourn/go-board-backend/internal/reputation"
	"github.com/tbourn/go-board-backend/internal/security"
	"github.com/tbourn/go-board-backend/internal/stats"
	"github.com/tbourn/go-board-backend/internal/wsreg"
)

// maxBodyRunes bounds a post's body length. It is checked on the trimmed
// input, before moderation and sanitization.
const maxBodyRunes = 280

// defaultFeedLimit is how many messages GET /messages returns; the endpoint
// takes no client-supplied limit.
const defaultFeedLimit = 50

// PostMessageRequest is the JSON payload for submitting a board post.
// Website is a honeypot field: real clients never populate it.
type PostMessageRequest struct {
	BrowserID   string `json:"browser_id" binding:"required"`
	Message     string `json:"message" binding:"required"`
	MessageType string `json:"message_type" binding:"required"`
	Phone       string `json:"phone"`
	Location    string `json:"location" binding:"required"`
	Website     string `json:"website"`
}

// MessageResponse is the public shape of a board post, returned both from
// the post endpoint and the feed.
type MessageResponse struct {
	ID          string `json:"id"`
	BrowserID   string `json:"browser_id"`
	Message     string `json:"message"`
	MessageType string `json:"message_type"`
	Timestamp   int64  `json:"timestamp"`
	Location    string `json:"location"`
}

func ToMessageResponse(m messages.Message) MessageResponse {
	return MessageResponse{
		ID:          m.ID,
		BrowserID:   m.BrowserID,
		Message:     m.Body,
		MessageType: string(m.Kind),
		Timestamp:   m.CreatedAt,
		Location:    m.City,
	}
}

// BoardHandlers bundles the dependencies the board endpoints need.
type BoardHandlers struct {
	Pipeline  *security.Pipeline
	Messages  *messages.Store
	Broadcast *broadcast.Bus
	Registry  *wsreg.Registry
	Stats     *stats.Engine
}

// NewBoardHandlers constructs a BoardHandlers.
func NewBoardHandlers(p *security.Pipeline, ms *messages.Store, bus *broadcast.Bus, reg *wsreg.Registry, st *stats.Engine) *BoardHandlers {
	return &BoardHandlers{Pipeline: p, Messages: ms, Broadcast: bus, Registry: reg, Stats: st}
}

// synthetic is returned to a shadowbanned poster in place of a real id, so
// the response looks identical to a genuine success.
func synthetic(browserID, body, kind, city string) MessageResponse {
	return MessageResponse{
		ID:          messages.NewID(),
		BrowserID:   browserID,
		Message:     body,
		MessageType: kind,
		Timestamp:   nowUnix(),
		Location:    city,
	}
}

// PostMessage runs the full request pipeline (steps 5-9) and, on
// acceptance, persists and broadcasts the message.
//
// @Summary  Submit a board post
// @Tags     Board
// @Accept   json
// @Produce  json
// @Param    body  body  handlers.PostMessageRequest  true  "Post payload"
// @Success  200  {object}  handlers.MessageResponse
// @Failure  400  {object}  handlers.ErrorResponse
// @Failure  403  {object}  handlers.ErrorResponse
// @Failure  429  {object}  handlers.ErrorResponse
// @Failure  503  {object}  handlers.ErrorResponse
// @Router   /messages [post]
func (h *BoardHandlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()

	sc, hasSC := security.FromGin(c)
	if !hasSC {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "missing security context")
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "browser_id, message, message_type, and location are required")
		return
	}

	kind := messages.Kind(strings.ToLower(strings.TrimSpace(req.MessageType)))
	if kind != messages.KindOffered && kind != messages.KindRequested {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message_type must be offered or requested")
		return
	}

	body := strings.TrimSpace(req.Message)
	if body == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message must not be empty")
		return
	}
	if utf8.RuneCountInString(body) > maxBodyRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message too long: max 280 characters")
		return
	}

	city := strings.TrimSpace(req.Location)
	if city == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "location must not be empty")
		return
	}

	tripped, err := h.Pipeline.CheckHoneypot(ctx, sc.Identity, req.Website)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
		return
	}
	if tripped {
		rejections.WithLabelValues("honeypot").Inc()
		tooManyRequestsJSON(c, int64(tooManyHoneypotRetrySeconds))
		return
	}

	allowed, retryAfter, err := h.Pipeline.CheckPostRateAndCooldown(ctx, sc.Identity, sc.IP)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
		return
	}
	if !allowed {
		rejections.WithLabelValues("rate_limited").Inc()
		tooManyRequestsJSON(c, retryAfter)
		return
	}

	banned, err := h.Pipeline.IsShadowbanned(ctx, sc.Identity)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
		return
	}
	if !banned {
		reported, err := h.Pipeline.IsBrowserIDReported(ctx, req.BrowserID)
		if err != nil {
			fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
			return
		}
		banned = reported
	}
	if banned {
		// Never surfaced: the poster sees an ordinary success, but nothing
		// is persisted or broadcast, so no one else ever sees it.
		rejections.WithLabelValues("shadowbanned").Inc()
		ok(c, http.StatusOK, synthetic(req.BrowserID, body, string(kind), city))
		return
	}

	decision, _, err := h.Pipeline.Moderate(ctx, sc.Identity, body)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
		return
	}
	if !decision.Accepted {
		rejections.WithLabelValues(string(decision.Category)).Inc()
		fail(c, http.StatusForbidden, string(decision.Category), decision.Reason)
		return
	}

	visibility, err := h.Pipeline.VisibilityFor(ctx, sc.IP)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
		return
	}

	msg := messages.Message{
		ID:        messages.NewID(),
		BrowserID: strings.TrimSpace(req.BrowserID),
		Body:      decision.Sanitized,
		Kind:      kind,
		CreatedAt: nowUnix(),
		City:      city,
		Phone:     strings.TrimSpace(req.Phone),
		OriginIP:  sc.IP,
	}
	if err := h.Messages.Put(ctx, msg); err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
		return
	}

	// Hidden visibility means no broadcast at all, per the reputation
	// engine's risk table; persistence still happens above so the feed
	// endpoint reflects it even though no socket is ever notified.
	// Broadcast failures are otherwise logged by the bus and never fail
	// the request: persistence is the source of truth.
	if visibility != reputation.VisibilityHidden {
		_ = h.Broadcast.Publish(ctx, msg, visibility, sc.IP)
	}

	_ = h.Stats.RecordMessage(ctx, stats.Day(time.Now()))
	messagesPosted.Inc()

	ok(c, http.StatusOK, ToMessageResponse(msg))
}

// ListMessages returns the live feed for a city.
//
// @Summary  List board posts for a city
// @Tags     Board
// @Produce  json
// @Param    location  query  string  true  "City name"
// @Success  200  {array}  handlers.MessageResponse
// @Failure  503  {object}  handlers.ErrorResponse
// @Router   /messages [get]
func (h *BoardHandlers) ListMessages(c *gin.Context) {
	city := strings.TrimSpace(c.Query("location"))
	if city == "" {
		ok(c, http.StatusOK, []MessageResponse{})
		return
	}

	ctx := c.Request.Context()

	msgs, err := h.Messages.GetByCity(ctx, city, defaultFeedLimit)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
		return
	}

	if sc, ok := security.FromGin(c); ok {
		_ = h.Stats.RecordCityView(ctx, city, sc.Fingerprint, stats.Day(time.Now()))
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ToMessageResponse(m))
	}
	ok(c, http.StatusOK, out)
}
