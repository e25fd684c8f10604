package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// newTestStore spins up an in-memory Redis server for the duration of the
// test and returns a Store pointed at it, the same way the teacher's
// repo/*_test.go files open an in-memory sqlite db per test.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)

	s, err := New(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != "v" {
		t.Fatalf("Get = (%q, %v), want (%q, true)", got, ok, "v")
	}
}

func TestGetMissingKeyReportsAbsence(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing key")
	}
}

func TestIncrAccumulates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, want := range []int64{1, 2, 3} {
		got, err := s.Incr(ctx, "counter")
		if err != nil {
			t.Fatalf("Incr #%d: %v", i, err)
		}
		if got != want {
			t.Fatalf("Incr #%d = %d, want %d", i, got, want)
		}
	}
}

func TestExpireAndTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Expire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	d, err := s.TTL(ctx, "k")
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if d <= 0 || d > time.Minute {
		t.Fatalf("TTL = %v, want a positive duration <= 1m", d)
	}
}

func TestDelRemovesKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	exists, err := s.Exists(ctx, "k")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("expected key to be gone after Del")
	}
}

func TestSAddSCardTracksDistinctMembers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, member := range []string{"a", "b", "a"} {
		if _, err := s.SAdd(ctx, "set", member); err != nil {
			t.Fatalf("SAdd(%q): %v", member, err)
		}
	}
	n, err := s.SCard(ctx, "set")
	if err != nil {
		t.Fatalf("SCard: %v", err)
	}
	if n != 2 {
		t.Fatalf("SCard = %d, want 2 (re-adding a member is idempotent)", n)
	}
}

func TestPruneAndCountRemovesOldEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.ZAdd(ctx, "zs", 100, "old"); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}
	if err := s.ZAdd(ctx, "zs", 900, "new"); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}

	n, err := s.PruneAndCount(ctx, "zs", 0, 500)
	if err != nil {
		t.Fatalf("PruneAndCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("PruneAndCount = %d, want 1 (only 'new' should remain)", n)
	}
}

func TestPingReportsLiveness(t *testing.T) {
	s := newTestStore(t)
	if !s.Ping(context.Background()) {
		t.Fatal("expected Ping to succeed against a live store")
	}
	_ = s.Close()
	if s.Ping(context.Background()) {
		t.Fatal("expected Ping to fail once the connection is closed")
	}
}

func TestPublishSubscribeDeliversMessage(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := s.Subscribe(ctx, "chan")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Receive (subscribe confirmation): %v", err)
	}

	if err := s.Publish(ctx, "chan", "hello"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if msg.Payload != "hello" {
		t.Fatalf("Payload = %q, want %q", msg.Payload, "hello")
	}
}
