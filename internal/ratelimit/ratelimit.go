// Package ratelimit implements the sliding-window counters that bound how
// often a given identity may post, reveal a contact, or hit the API in a
// tight burst, plus the IP-global block list those windows escalate into.
//
// Each class keeps its own sorted set keyed by identity, scored by event
// time in milliseconds. Checking a window always prunes expired entries
// first, so a window's cardinality never drifts upward forever.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-board-backend/internal/store"
)

// Class names a sliding-window bucket.
type Class string

const (
	ClassPost   Class = "post"
	ClassReveal Class = "reveal"
	ClassBurst  Class = "burst"
)

type classConfig struct {
	capacity int64
	window   time.Duration
}

var classConfigs = map[Class]classConfig{
	ClassPost:   {capacity: 1, window: 60 * time.Second},
	ClassReveal: {capacity: 5, window: time.Hour},
	ClassBurst:  {capacity: 20, window: 2 * time.Second},
}

// BlockDuration is how long an identity's IP is banned when the burst class
// is exceeded.
const BlockDuration = 30 * time.Minute

// Result reports the outcome of a window check.
type Result struct {
	Allowed           bool
	RetryAfterSeconds int64
}

// Limiter enforces the per-class sliding windows and the IP block list over
// a shared coordination store.
type Limiter struct {
	store *store.Store
}

// New constructs a Limiter backed by s.
func New(s *store.Store) *Limiter {
	return &Limiter{store: s}
}

func windowKey(class Class, identity string) string {
	return fmt.Sprintf("rate:%s:%s", class, identity)
}

func blockKey(ip string) string {
	return "blocked:ip:" + ip
}

// Check prunes the window for (class, identity), evaluates it against now,
// and — if the event is admitted — records it. It is the mutating entry
// point used by the request pipeline.
func (l *Limiter) Check(ctx context.Context, class Class, identity string) (Result, error) {
	return l.check(ctx, class, identity, true)
}

// CheckStatus evaluates the window without recording a new event. It is
// used by the cooldown endpoint, which must report the caller's remaining
// wait without consuming an attempt.
func (l *Limiter) CheckStatus(ctx context.Context, class Class, identity string) (Result, error) {
	return l.check(ctx, class, identity, false)
}

func (l *Limiter) check(ctx context.Context, class Class, identity string, record bool) (Result, error) {
	cfg, ok := classConfigs[class]
	if !ok {
		return Result{}, fmt.Errorf("ratelimit: unknown class %q", class)
	}
	key := windowKey(class, identity)
	now := time.Now()
	nowMS := float64(now.UnixMilli())
	windowMS := float64(cfg.window.Milliseconds())

	// Pruning and counting run as one pipelined round trip per the
	// coordination store's ordering guarantees for a single key; the
	// subsequent conditional record (below) is a second pipelined unit.
	count, err := l.store.PruneAndCount(ctx, key, math.Inf(-1), nowMS-windowMS)
	if err != nil {
		return Result{}, err
	}

	if count >= cfg.capacity {
		oldest, err := l.store.ZRangeWithScores(ctx, key, 0, 0)
		if err != nil {
			return Result{}, err
		}
		retryAfter := cfg.window.Seconds()
		if len(oldest) > 0 {
			resetAtMS := oldest[0].Score + windowMS
			retryAfter = math.Ceil((resetAtMS - nowMS) / 1000)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return Result{Allowed: false, RetryAfterSeconds: int64(retryAfter)}, nil
	}

	if record {
		if err := l.store.RecordWindowEvent(ctx, key, nowMS, uuid.NewString(), cfg.window); err != nil {
			return Result{}, err
		}
	}

	return Result{Allowed: true}, nil
}

// IsIPBlocked reports whether ip is on the global block list.
func (l *Limiter) IsIPBlocked(ctx context.Context, ip string) (bool, error) {
	return l.store.Exists(ctx, blockKey(ip))
}

// BlockIP adds ip to the global block list for BlockDuration.
func (l *Limiter) BlockIP(ctx context.Context, ip string) error {
	return l.store.Set(ctx, blockKey(ip), "1", BlockDuration)
}
