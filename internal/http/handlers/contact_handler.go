// Contact reveal handler.
//
// GET /api/contact/{id} lazily discloses a post's phone number. This is the
// one read endpoint subject to its own rate-limit class (reveal), since a
// scraper could otherwise walk every id in a city's feed to harvest numbers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-board-backend/internal/messages"
	"github.com/tbourn/go-board-backend/internal/security"
)

// ContactHandlers bundles the dependencies the reveal endpoint needs.
type ContactHandlers struct {
	Pipeline *security.Pipeline
	Messages *messages.Store
}

// NewContactHandlers constructs a ContactHandlers.
func NewContactHandlers(p *security.Pipeline, ms *messages.Store) *ContactHandlers {
	return &ContactHandlers{Pipeline: p, Messages: ms}
}

// ContactResponse carries the revealed phone number.
type ContactResponse struct {
	Phone string `json:"phone"`
}

// GetContact reveals the phone number for a message id, subject to the
// reveal rate-limit class and the shadowban short-circuit (step 8 treats a
// banned identity's reveal exactly like a request for a message that was
// never there: 404, not a distinguishable response).
//
// @Summary  Reveal a post's phone number
// @Tags     Board
// @Produce  json
// @Param    id  path  string  true  "Message id"
// @Success  200  {object}  handlers.ContactResponse
// @Failure  400  {object}  handlers.ErrorResponse
// @Failure  404  {object}  handlers.ErrorResponse
// @Failure  429  {object}  handlers.ErrorResponse
// @Router   /api/contact/{id} [get]
func (h *ContactHandlers) GetContact(c *gin.Context) {
	ctx := c.Request.Context()

	id := c.Param("id")
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message id required")
		return
	}

	sc, hasSC := security.FromGin(c)
	if !hasSC {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "missing security context")
		return
	}

	result, err := h.Pipeline.CheckRevealRate(ctx, sc.Identity)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
		return
	}
	if !result.Allowed {
		rejections.WithLabelValues("rate_limited").Inc()
		tooManyRequestsJSON(c, result.RetryAfterSeconds)
		return
	}

	banned, err := h.Pipeline.IsShadowbanned(ctx, sc.Identity)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
		return
	}
	if banned {
		rejections.WithLabelValues("shadowbanned").Inc()
		fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
		return
	}

	phone, err := h.Messages.GetPhone(ctx, id)
	if err != nil {
		var notFound *messages.ErrNotFound
		var noContact *messages.ErrNoContact
		switch {
		case errors.As(err, &notFound), errors.As(err, &noContact):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
		default:
			fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
		}
		return
	}

	contactReveals.Inc()
	ok(c, http.StatusOK, ContactResponse{Phone: phone})
}
