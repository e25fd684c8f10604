// Package security composes the identity, rate-limit, burst, shadowban,
// reputation, and moderation components into the fixed-order pipeline every
// mutating request runs through before it reaches a handler. The generic,
// endpoint-agnostic steps (identity resolution, the global IP block, the
// burst class, the burst profiler) run as Gin middleware; the
// endpoint-specific steps (honeypot, post cooldown, reveal rate limit,
// shadowban short-circuit, moderation) are exposed as plain methods handlers
// call directly, since their exact shape differs per endpoint.
package security

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-board-backend/internal/burst"
	"github.com/tbourn/go-board-backend/internal/identity"
	"github.com/tbourn/go-board-backend/internal/moderation"
	"github.com/tbourn/go-board-backend/internal/ratelimit"
	"github.com/tbourn/go-board-backend/internal/reputation"
	"github.com/tbourn/go-board-backend/internal/shadowban"
)

const contextKey = "security.context"

// Context is the per-request security state every handler reads instead of
// re-deriving identity or re-running checks.
type Context struct {
	Identity        string
	IP              string
	Fingerprint     string
	Visibility      reputation.Visibility
	CooldownSeconds int64
	IsShadowbanned  bool
}

// FromGin retrieves the Context attached by Identify. Handlers on routes
// that don't run Identify (there are none in this service) would get the
// zero value; callers should treat a missing context as a bug, not a
// valid anonymous identity.
func FromGin(c *gin.Context) (Context, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return Context{}, false
	}
	sc, ok := v.(*Context)
	if !ok {
		return Context{}, false
	}
	return *sc, true
}

func setContext(c *gin.Context, sc *Context) {
	c.Set(contextKey, sc)
}

// NewContextForTest attaches sc to c the same way Identify does. Handler
// tests in other packages that exercise a post-Identify code path need
// this since contextKey is unexported and Identify itself talks to the
// store.
func NewContextForTest(c *gin.Context, sc Context) {
	setContext(c, &sc)
}

// Pipeline bundles every component step 3 onward needs.
type Pipeline struct {
	Identity   *identity.Resolver
	RateLimit  *ratelimit.Limiter
	LocalLimit *ratelimit.LocalIPLimiter
	Burst      *burst.Profiler
	Shadowban  *shadowban.Manager
	Reputation *reputation.Engine
	Moderation *moderation.Moderator
}

// New constructs a Pipeline from its components.
func New(
	resolver *identity.Resolver,
	rl *ratelimit.Limiter,
	local *ratelimit.LocalIPLimiter,
	bp *burst.Profiler,
	sb *shadowban.Manager,
	rep *reputation.Engine,
	mod *moderation.Moderator,
) *Pipeline {
	return &Pipeline{
		Identity:   resolver,
		RateLimit:  rl,
		LocalLimit: local,
		Burst:      bp,
		Shadowban:  sb,
		Reputation: rep,
		Moderation: mod,
	}
}

func tooManyRequests(c *gin.Context, retryAfterSeconds int64) {
	c.Header("Retry-After", strconv.FormatInt(retryAfterSeconds, 10))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":               "rate_limited",
		"message":             "too many requests",
		"retry_after_seconds": retryAfterSeconds,
	})
}

// Identify implements steps 1-2: resolve (ip, fp), reject a globally
// blocked IP, compute the CompositeKey, and attach the Context.
//
// /health is exempt: the liveness probe must fail open on a store hiccup
// and report its own documented shape, not get swallowed by the block-list
// check's generic 503. See handlers.GetHealth.
func (p *Pipeline) Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() == "/health" {
			c.Next()
			return
		}

		ip, fp, key := p.Identity.Resolve(c.Request)

		if !skipLocalLimit(c) && !p.LocalLimit.Allow(ip) {
			tooManyRequests(c, 1)
			return
		}

		blocked, err := p.RateLimit.IsIPBlocked(c.Request.Context(), ip)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
			return
		}
		if blocked {
			tooManyRequests(c, int64(ratelimit.BlockDuration.Seconds()))
			return
		}

		setContext(c, &Context{Identity: key, IP: ip, Fingerprint: fp})
		c.Next()
	}
}

// skipLocalLimit mirrors burst_protection_middleware's
// is_stats_endpoint || is_get_request guard: the local IP governor
// protects mutating/burst-prone endpoints, not read-only polling.
func skipLocalLimit(c *gin.Context) bool {
	if c.Request.Method == http.MethodGet {
		return true
	}
	path := c.FullPath()
	return strings.HasPrefix(path, "/api/stats/") || path == "/api/cooldown"
}

// Defend implements steps 3-4: the burst rate-limit class and the burst
// profiler. isPostEndpoint controls step 4's divergent behavior: a flagged
// bot on the post endpoint is allowed to continue (so its request appears
// to succeed; the shadowban applied here makes sure it never actually
// reaches anyone), while a flagged bot on any other endpoint is rejected
// outright.
func (p *Pipeline) Defend(isPostEndpoint bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sc, ok := FromGin(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}

		ctx := c.Request.Context()

		result, err := p.RateLimit.Check(ctx, ratelimit.ClassBurst, sc.Identity)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
			return
		}
		if !result.Allowed {
			_ = p.RateLimit.BlockIP(ctx, sc.IP)
			tooManyRequests(c, result.RetryAfterSeconds)
			return
		}

		flagged, err := p.Burst.Record(ctx, sc.Identity, c.FullPath())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
			return
		}
		if flagged {
			_ = p.Shadowban.Shadowban(ctx, sc.Identity, "burst", 24*time.Hour)
			_ = p.RateLimit.BlockIP(ctx, sc.IP)
			if !isPostEndpoint {
				tooManyRequests(c, int64(ratelimit.BlockDuration.Seconds()))
				return
			}
		}

		c.Next()
	}
}

// CheckHoneypot implements step 5: a non-empty honeypot field permanently
// shadowbans the identity. Only real clients ever leave this field empty;
// any script filling in every field trips it.
func (p *Pipeline) CheckHoneypot(ctx context.Context, identityKey, honeypot string) (tripped bool, err error) {
	if honeypot == "" {
		return false, nil
	}
	return true, p.Shadowban.Shadowban(ctx, identityKey, "honeypot", 0)
}

// CheckPostRateAndCooldown implements step 6: the reputation cooldown plus
// the post rate-limit class. An active cooldown is returned as the wait on
// its own; the post rate limit is consulted only once it has cleared, so a
// request rejected solely for being on cooldown never consumes one of the
// identity's scarce rate-limit slots.
func (p *Pipeline) CheckPostRateAndCooldown(ctx context.Context, identityKey, ip string) (allowed bool, retryAfterSeconds int64, err error) {
	cooldownTTL, err := p.Reputation.CheckCooldown(ctx, identityKey)
	if err != nil {
		return false, 0, err
	}

	cooldownRemaining := int64(cooldownTTL.Seconds())
	if cooldownRemaining < 0 {
		cooldownRemaining = 0
	}
	if cooldownRemaining > 0 {
		return false, cooldownRemaining, nil
	}

	rateResult, err := p.RateLimit.Check(ctx, ratelimit.ClassPost, identityKey)
	if err != nil {
		return false, 0, err
	}

	if !rateResult.Allowed {
		return false, rateResult.RetryAfterSeconds, nil
	}

	level, err := p.Reputation.RiskLevel(ctx, ip)
	if err != nil {
		return false, 0, err
	}
	if err := p.Reputation.SetCooldown(ctx, identityKey, level.Cooldown()); err != nil {
		return false, 0, err
	}

	return true, 0, nil
}

// CheckRevealRate implements step 7: the reveal rate-limit class.
func (p *Pipeline) CheckRevealRate(ctx context.Context, identityKey string) (ratelimit.Result, error) {
	return p.RateLimit.Check(ctx, ratelimit.ClassReveal, identityKey)
}

// IsShadowbanned implements step 8's predicate.
func (p *Pipeline) IsShadowbanned(ctx context.Context, identityKey string) (bool, error) {
	return p.Shadowban.IsShadowbanned(ctx, identityKey)
}

// IsBrowserIDReported reports whether browserID has crossed the
// report-escalation ban threshold, independent of the CompositeKey-keyed
// shadowban.
func (p *Pipeline) IsBrowserIDReported(ctx context.Context, browserID string) (bool, error) {
	if browserID == "" {
		return false, nil
	}
	return p.Shadowban.IsBrowserIDReported(ctx, browserID)
}

// Moderate implements step 9. On rejection, it records a violation and
// reports whether that violation triggered an auto-shadowban.
func (p *Pipeline) Moderate(ctx context.Context, identityKey, body string) (decision moderation.Decision, autoBanned bool, err error) {
	decision = p.Moderation.Moderate(ctx, body)
	if decision.Accepted {
		return decision, false, nil
	}
	_, autoBanned, err = p.Shadowban.RecordViolation(ctx, identityKey)
	return decision, autoBanned, err
}

// VisibilityFor resolves the broadcast visibility mode for a sender's IP,
// used by the post handler to decide how the Broadcast Bus should fan the
// accepted message out.
func (p *Pipeline) VisibilityFor(ctx context.Context, ip string) (reputation.Visibility, error) {
	level, err := p.Reputation.RiskLevel(ctx, ip)
	if err != nil {
		return reputation.VisibilityNormal, err
	}
	return level.VisibilityMode(), nil
}
