// Package reputation maps the number of distinct fingerprints that have
// reported an IP into a risk level, and that level into a post cooldown and
// a broadcast visibility mode. It also carries the two independent report
// counters the pipeline escalates on: one keyed by message, one by the
// reported browser id.
package reputation

import (
	"context"
	"time"

	"github.com/tbourn/go-board-backend/internal/store"
)

// Level is a risk tier derived from the number of unique reports an IP has
// accumulated.
type Level int

const (
	Level0 Level = iota
	Level1
	Level2
	Level3
)

// Visibility controls how the Broadcast Bus fans a message out.
type Visibility string

const (
	VisibilityNormal    Visibility = "normal"
	VisibilityThrottled Visibility = "throttled"
	VisibilityHidden    Visibility = "hidden"
)

// FromReportCount maps a unique-reporter count to its risk level.
func FromReportCount(count int64) Level {
	switch {
	case count <= 1:
		return Level0
	case count == 2:
		return Level1
	case count >= 3 && count <= 5:
		return Level2
	default:
		return Level3
	}
}

// Cooldown returns the minimum wait between posts for this level.
func (l Level) Cooldown() time.Duration {
	switch l {
	case Level0:
		return 60 * time.Second
	case Level1:
		return 5 * time.Minute
	case Level2:
		return 15 * time.Minute
	default:
		return 2 * time.Hour
	}
}

// VisibilityMode returns the broadcast visibility for this level.
func (l Level) VisibilityMode() Visibility {
	switch l {
	case Level2:
		return VisibilityThrottled
	case Level3:
		return VisibilityHidden
	default:
		return VisibilityNormal
	}
}

// ReportsPerMessageThreshold is the distinct-reporter count at which a
// message is marked shadow-hidden (filtered from fetches and broadcasts)
// without being deleted, so evidence survives.
const ReportsPerMessageThreshold = 3

// FingerprintReportThreshold is the report count on a single reported
// browser id (every report counts, repeats from one reporter included) at
// which that browser id is banned outright.
const FingerprintReportThreshold = 3

// FingerprintDeleteThreshold is the count at which the reported message is
// deleted outright rather than merely hidden.
const FingerprintDeleteThreshold = 5

// ReportRetention bounds how long report sets and counters survive.
const ReportRetention = 7 * 24 * time.Hour

// Engine tracks report sets and counters over a shared coordination store.
type Engine struct {
	store *store.Store
}

// New constructs an Engine backed by s.
func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

func ipReportsKey(ip string) string                { return "reports:ip:" + ip }
func messageReportsKey(messageID string) string    { return "reports:message:" + messageID }
func fingerprintReportsKey(browserID string) string { return "reports:fingerprint:" + browserID }
func cooldownKey(identity string) string           { return "cooldown:" + identity }

// AddReporter adds fp to the set of distinct fingerprints that have
// reported ip, and returns the updated cardinality. Re-adding the same
// fingerprint is idempotent — cardinality only grows with new reporters.
func (e *Engine) AddReporter(ctx context.Context, ip, fp string) (int64, error) {
	k := ipReportsKey(ip)
	if _, err := e.store.SAdd(ctx, k, fp); err != nil {
		return 0, err
	}
	if err := e.store.Expire(ctx, k, ReportRetention); err != nil {
		return 0, err
	}
	return e.store.SCard(ctx, k)
}

// RiskLevel returns the current risk level for ip.
func (e *Engine) RiskLevel(ctx context.Context, ip string) (Level, error) {
	n, err := e.store.SCard(ctx, ipReportsKey(ip))
	if err != nil {
		return Level0, err
	}
	return FromReportCount(n), nil
}

// IncrMessageReports adds reporterFP to the set of distinct fingerprints
// that have reported messageID and reports whether the resulting
// cardinality has crossed the shadow-hide threshold. The data model calls
// for "distinct reports" on a message (spec.md §3's ReportsPerMessage),
// so this is a set keyed the same way as the IP report set, not a plain
// counter — unlike the per-browser-id escalation path in
// IncrFingerprintReports, which the original implementation drives with a
// bare INCR and no dedup.
func (e *Engine) IncrMessageReports(ctx context.Context, messageID, reporterFP string) (count int64, hidden bool, err error) {
	k := messageReportsKey(messageID)
	if _, err := e.store.SAdd(ctx, k, reporterFP); err != nil {
		return 0, false, err
	}
	if err := e.store.Expire(ctx, k, ReportRetention); err != nil {
		return 0, false, err
	}
	count, err = e.store.SCard(ctx, k)
	if err != nil {
		return 0, false, err
	}
	return count, count >= ReportsPerMessageThreshold, nil
}

// MessageReportCount reads the current distinct-reporter count for a
// message without mutating it.
func (e *Engine) MessageReportCount(ctx context.Context, messageID string) (int64, error) {
	return e.store.SCard(ctx, messageReportsKey(messageID))
}

// IncrFingerprintReports increments the report counter tied to a reported
// browser id and reports whether the shadowban and delete thresholds have
// been crossed.
func (e *Engine) IncrFingerprintReports(ctx context.Context, browserID string) (count int64, shouldBan, shouldDelete bool, err error) {
	count, err = e.store.Incr(ctx, fingerprintReportsKey(browserID))
	if err != nil {
		return 0, false, false, err
	}
	if err := e.store.Expire(ctx, fingerprintReportsKey(browserID), ReportRetention); err != nil {
		return count, false, false, err
	}
	return count, count >= FingerprintReportThreshold, count >= FingerprintDeleteThreshold, nil
}

// CheckCooldown returns the remaining cooldown, if any, for identity.
func (e *Engine) CheckCooldown(ctx context.Context, identity string) (time.Duration, error) {
	return e.store.TTL(ctx, cooldownKey(identity))
}

// SetCooldown starts or refreshes identity's cooldown window.
func (e *Engine) SetCooldown(ctx context.Context, identity string, d time.Duration) error {
	return e.store.Set(ctx, cooldownKey(identity), "1", d)
}
