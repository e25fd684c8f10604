package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// tooManyHoneypotRetrySeconds is the advisory wait handed back on a honeypot
// trip. The ban itself is permanent; this number only shapes the response
// so it looks like an ordinary rate limit rather than tipping off the bot.
const tooManyHoneypotRetrySeconds = 60

// tooManyRequestsJSON writes the rate-limit rejection body the external
// interface promises: { error, message, retry_after_seconds }.
func tooManyRequestsJSON(c *gin.Context, retryAfterSeconds int64) {
	c.Header("Retry-After", strconv.FormatInt(retryAfterSeconds, 10))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":               "rate_limited",
		"message":             "too many requests",
		"retry_after_seconds": retryAfterSeconds,
	})
}

// nowUnix returns the current wall-clock time in unix seconds.
func nowUnix() int64 { return time.Now().Unix() }
