// Package burst implements the behavioral bot detector: an identity that
// hits too many distinct endpoints within a very short window is almost
// certainly a script, not a human filling out a form.
package burst

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tbourn/go-board-backend/internal/store"
)

// Window is the sliding window over which distinct endpoints are counted.
const Window = 500 * time.Millisecond

// Threshold is the number of distinct endpoints within Window that flags an
// identity as a bot. Raw request volume is already covered by the burst
// rate-limit class; this check targets endpoint diversity specifically.
const Threshold = 5

// Profiler tracks per-identity endpoint diversity over a shared coordination
// store.
type Profiler struct {
	store *store.Store
}

// New constructs a Profiler backed by s.
func New(s *store.Store) *Profiler {
	return &Profiler{store: s}
}

func key(identity string) string {
	return "burst:" + identity
}

// Record appends (endpoint, now) to identity's window, prunes entries older
// than Window, and reports whether the distinct-endpoint count has reached
// Threshold.
func (p *Profiler) Record(ctx context.Context, identity, endpoint string) (flagged bool, err error) {
	k := key(identity)
	now := time.Now()
	nowMS := float64(now.UnixMilli())

	member := fmt.Sprintf("%s@%d", endpoint, now.UnixNano())
	if err := p.store.ZAdd(ctx, k, nowMS, member); err != nil {
		return false, err
	}
	if err := p.store.Expire(ctx, k, Window*4); err != nil {
		return false, err
	}
	if err := p.store.ZRemRangeByScore(ctx, k, math.Inf(-1), nowMS-float64(Window.Milliseconds())); err != nil {
		return false, err
	}

	members, err := p.store.ZRangeWithScores(ctx, k, 0, -1)
	if err != nil {
		return false, err
	}

	distinct := make(map[string]struct{}, len(members))
	for _, m := range members {
		distinct[endpointOf(m.Member)] = struct{}{}
	}

	return len(distinct) >= Threshold, nil
}

func endpointOf(member string) string {
	for i := len(member) - 1; i >= 0; i-- {
		if member[i] == '@' {
			return member[:i]
		}
	}
	return member
}
