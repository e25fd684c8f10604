// Report handler.
//
// POST /api/report drives two independent escalation paths: a per-message
// counter that hides a message once enough distinct fingerprints report it,
// and a per-browser-id counter that bans the poster outright once enough
// reports land on anything they've posted. The per-browser-id counter is a
// plain increment: repeat reports from the same fingerprint count again.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-board-backend/internal/messages"
	"github.com/tbourn/go-board-backend/internal/reputation"
	"github.com/tbourn/go-board-backend/internal/security"
	"github.com/tbourn/go-board-backend/internal/shadowban"
)

// ReportHandlers bundles the dependencies the report endpoint needs.
type ReportHandlers struct {
	Pipeline   *security.Pipeline
	Messages   *messages.Store
	Reputation *reputation.Engine
	Shadowban  *shadowban.Manager
}

// NewReportHandlers constructs a ReportHandlers.
func NewReportHandlers(p *security.Pipeline, ms *messages.Store, rep *reputation.Engine, sb *shadowban.Manager) *ReportHandlers {
	return &ReportHandlers{Pipeline: p, Messages: ms, Reputation: rep, Shadowban: sb}
}

// ReportRequest is the JSON payload for reporting a post.
type ReportRequest struct {
	MessageID         string `json:"message_id" binding:"required"`
	ReportedBrowserID string `json:"reported_browser_id" binding:"required"`
}

// ReportResponse carries the outcome and the updated reporter count on the
// reported message's origin IP.
type ReportResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ReportsOnIP int64  `json:"reports_on_ip"`
}

// PostReport records a report against a message. The message's origin IP
// (stored alongside it for exactly this purpose) and the reporter's own
// fingerprint drive the IP reputation set; the message id and the reported
// browser id drive the two independent escalation counters.
//
// @Summary  Report a board post
// @Tags     Board
// @Accept   json
// @Produce  json
// @Param    body  body  handlers.ReportRequest  true  "Report payload"
// @Success  200  {object}  handlers.ReportResponse
// @Failure  404  {object}  handlers.ErrorResponse
// @Failure  429  {object}  handlers.ErrorResponse
// @Router   /api/report [post]
func (h *ReportHandlers) PostReport(c *gin.Context) {
	ctx := c.Request.Context()

	sc, hasSC := security.FromGin(c)
	if !hasSC {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "missing security context")
		return
	}

	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message_id and reported_browser_id are required")
		return
	}

	// No dedicated rate-limit class: the 429 in this endpoint's status set
	// comes from the universal burst class applied by the pipeline
	// middleware (steps 1-4), not a report-specific window.
	msg, err := h.Messages.GetByID(ctx, req.MessageID)
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
		return
	}

	reportsOnIP, err := h.Reputation.AddReporter(ctx, msg.OriginIP, sc.Fingerprint)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
		return
	}

	_, hidden, err := h.Reputation.IncrMessageReports(ctx, req.MessageID, sc.Fingerprint)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
		return
	}
	_ = hidden // hiding is enforced at read time by messages.Store.GetByCity

	_, shouldBan, shouldDelete, err := h.Reputation.IncrFingerprintReports(ctx, req.ReportedBrowserID)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
		return
	}
	if shouldBan {
		if err := h.Shadowban.BanBrowserIDReported(ctx, req.ReportedBrowserID, shadowban.BrowserIDBanDuration); err != nil {
			fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
			return
		}
	}
	if shouldDelete {
		_ = h.Messages.Delete(ctx, msg)
	}

	ok(c, http.StatusOK, ReportResponse{
		Success:     true,
		Message:     "report recorded",
		ReportsOnIP: reportsOnIP,
	})
}
