package messages

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/tbourn/go-board-backend/internal/reputation"
	"github.com/tbourn/go-board-backend/internal/store"
)

func newTestStore(t *testing.T) (*Store, *reputation.Engine) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := store.New(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	rep := reputation.New(s)
	return New(s, rep, time.Hour), rep
}

func TestMessagePublicStripsPhoneAndOrigin(t *testing.T) {
	m := Message{
		ID: "abc", BrowserID: "browser-1", Body: "hello",
		Kind: KindOffered, CreatedAt: 1, City: "Pune",
		Phone: "9876543210", OriginIP: "203.0.113.5",
	}
	pub := m.Public()
	if pub.Phone != "" {
		t.Errorf("expected Phone stripped, got %q", pub.Phone)
	}
	if pub.OriginIP != "" {
		t.Errorf("expected OriginIP stripped, got %q", pub.OriginIP)
	}
	if pub.Body != "hello" || pub.City != "Pune" {
		t.Errorf("expected other fields preserved, got %+v", pub)
	}
}

func TestNewIDIsUnique(t *testing.T) {
	if NewID() == NewID() {
		t.Fatalf("expected distinct ids across calls")
	}
}

func TestPutAndGetByCity_ReturnsNewestFirstWithoutPhone(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	older := Message{ID: NewID(), BrowserID: "b-1", Body: "older", Kind: KindOffered, CreatedAt: 100, City: "Pune", Phone: "111"}
	newer := Message{ID: NewID(), BrowserID: "b-2", Body: "newer", Kind: KindRequested, CreatedAt: 200, City: "Pune", Phone: "222"}

	if err := s.Put(ctx, older); err != nil {
		t.Fatalf("Put(older): %v", err)
	}
	if err := s.Put(ctx, newer); err != nil {
		t.Fatalf("Put(newer): %v", err)
	}

	out, err := s.GetByCity(ctx, "Pune", 10)
	if err != nil {
		t.Fatalf("GetByCity: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("GetByCity returned %d messages, want 2", len(out))
	}
	if out[0].ID != newer.ID || out[1].ID != older.ID {
		t.Fatalf("GetByCity did not return newest-first order: %+v", out)
	}
	if out[0].Phone != "" || out[1].Phone != "" {
		t.Fatalf("GetByCity must never surface phone numbers: %+v", out)
	}
}

func TestGetByCity_OmitsMessagesHiddenByReportThreshold(t *testing.T) {
	s, rep := newTestStore(t)
	ctx := context.Background()

	msg := Message{ID: NewID(), BrowserID: "b-1", Body: "hello", Kind: KindOffered, CreatedAt: 100, City: "Pune"}
	if err := s.Put(ctx, msg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	for _, fp := range []string{"fp-1", "fp-2", "fp-3"} {
		if _, _, err := rep.IncrMessageReports(ctx, msg.ID, fp); err != nil {
			t.Fatalf("IncrMessageReports: %v", err)
		}
	}

	out, err := s.GetByCity(ctx, "Pune", 10)
	if err != nil {
		t.Fatalf("GetByCity: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("GetByCity returned %d messages, want 0 once the report threshold is crossed", len(out))
	}
}

func TestGetPhone_ReturnsPhoneOrAppropriateError(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	withPhone := Message{ID: NewID(), BrowserID: "b-1", Body: "hi", Kind: KindOffered, CreatedAt: 1, City: "Pune", Phone: "9876543210"}
	withoutPhone := Message{ID: NewID(), BrowserID: "b-2", Body: "hi", Kind: KindOffered, CreatedAt: 1, City: "Pune"}

	if err := s.Put(ctx, withPhone); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, withoutPhone); err != nil {
		t.Fatalf("Put: %v", err)
	}

	phone, err := s.GetPhone(ctx, withPhone.ID)
	if err != nil {
		t.Fatalf("GetPhone: %v", err)
	}
	if phone != "9876543210" {
		t.Fatalf("GetPhone = %q, want %q", phone, "9876543210")
	}

	var noContact *ErrNoContact
	if _, err := s.GetPhone(ctx, withoutPhone.ID); !errors.As(err, &noContact) {
		t.Fatalf("GetPhone(withoutPhone) err = %v, want *ErrNoContact", err)
	}

	var notFound *ErrNotFound
	if _, err := s.GetPhone(ctx, "does-not-exist"); !errors.As(err, &notFound) {
		t.Fatalf("GetPhone(missing) err = %v, want *ErrNotFound", err)
	}
}

func TestDelete_RemovesRecordAndPhone(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	msg := Message{ID: NewID(), BrowserID: "b-1", Body: "hi", Kind: KindOffered, CreatedAt: 1, City: "Pune", Phone: "123"}
	if err := s.Put(ctx, msg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.Delete(ctx, msg); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var notFound *ErrNotFound
	if _, err := s.GetByID(ctx, msg.ID); !errors.As(err, &notFound) {
		t.Fatalf("GetByID after Delete err = %v, want *ErrNotFound", err)
	}
	if _, err := s.GetPhone(ctx, msg.ID); !errors.As(err, &notFound) {
		t.Fatalf("GetPhone after Delete err = %v, want *ErrNotFound", err)
	}
}
