// Package shadowban implements the ghost-ban primitive: a flag that makes
// an identity's mutations appear to succeed everywhere except where other
// users would observe them. Banned identities are never told, by design —
// telling them would let scammers learn to evade the pattern.
package shadowban

import (
	"context"
	"time"

	"github.com/tbourn/go-board-backend/internal/store"
)

// ViolationThreshold is the number of content violations that trigger an
// automatic temporary ban.
const ViolationThreshold = 3

// AutoBanDuration is how long an auto-escalated ban from repeated
// violations lasts.
const AutoBanDuration = 24 * time.Hour

// ViolationWindow is the TTL applied to a fresh violation counter.
const ViolationWindow = 24 * time.Hour

// BrowserIDBanDuration is how long a browser id banned via the
// report-escalation path stays banned, matching the 7-day retention window
// of the fingerprint report counter that drives it.
const BrowserIDBanDuration = 7 * 24 * time.Hour

// Manager tracks shadowbans and their supporting violation counters over a
// shared coordination store.
type Manager struct {
	store *store.Store
}

// New constructs a Manager backed by s.
func New(s *store.Store) *Manager {
	return &Manager{store: s}
}

func banKey(identity string) string        { return "shadowban:" + identity }
func violationsKey(identity string) string { return "violations:" + identity }
func reportedKey(browserID string) string  { return "reported:" + browserID }

// IsShadowbanned reports whether identity is currently banned.
func (m *Manager) IsShadowbanned(ctx context.Context, identity string) (bool, error) {
	return m.store.Exists(ctx, banKey(identity))
}

// Shadowban bans identity for ttl. A ttl of 0 bans the identity for the
// maximum practical duration, i.e. effectively permanently (used for
// honeypot trips).
func (m *Manager) Shadowban(ctx context.Context, identity, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 10 * 365 * 24 * time.Hour
	}
	return m.store.Set(ctx, banKey(identity), reason, ttl)
}

// Reason returns the stored ban reason, or "" if identity is not banned.
func (m *Manager) Reason(ctx context.Context, identity string) (string, error) {
	v, _, err := m.store.Get(ctx, banKey(identity))
	return v, err
}

// Clear removes both the shadowban flag and its violation counter.
func (m *Manager) Clear(ctx context.Context, identity string) error {
	if err := m.store.Del(ctx, banKey(identity)); err != nil {
		return err
	}
	return m.store.Del(ctx, violationsKey(identity))
}

// BanBrowserIDReported marks a reported browser id as banned under a key
// distinct from the CompositeKey-keyed shadowban: a poster's browser_id is
// client-supplied and never used for CompositeKey derivation, so it gets its
// own namespace. This is the coarser, per-poster escalation path the report
// handler drives, alongside the per-message hide-at-threshold path.
func (m *Manager) BanBrowserIDReported(ctx context.Context, browserID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 10 * 365 * 24 * time.Hour
	}
	return m.store.Set(ctx, reportedKey(browserID), "reported", ttl)
}

// IsBrowserIDReported reports whether browserID has crossed the
// report-escalation ban threshold.
func (m *Manager) IsBrowserIDReported(ctx context.Context, browserID string) (bool, error) {
	return m.store.Exists(ctx, reportedKey(browserID))
}

// RecordViolation increments identity's violation counter (starting a
// ViolationWindow TTL on the first violation) and auto-shadowbans the
// identity once the count reaches ViolationThreshold.
func (m *Manager) RecordViolation(ctx context.Context, identity string) (count int64, autoBanned bool, err error) {
	k := violationsKey(identity)
	count, err = m.store.Incr(ctx, k)
	if err != nil {
		return 0, false, err
	}
	if count == 1 {
		if err := m.store.Expire(ctx, k, ViolationWindow); err != nil {
			return count, false, err
		}
	}
	if count >= ViolationThreshold {
		if err := m.Shadowban(ctx, identity, "violations", AutoBanDuration); err != nil {
			return count, false, err
		}
		return count, true, nil
	}
	return count, false, nil
}
