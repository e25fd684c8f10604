// Package messages implements the bounded-lifetime message store: accepted
// posts persist under their id with a TTL, are indexed per city for feed
// reads, and carry their phone number in a separate record so a lazy
// reveal never has to touch the body record.
package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-board-backend/internal/reputation"
	"github.com/tbourn/go-board-backend/internal/store"
)

// Kind is the posting intent.
type Kind string

const (
	KindOffered   Kind = "offered"
	KindRequested Kind = "requested"
)

// CityIndexCap bounds how many ids a single city's index retains; older
// entries are trimmed once the cap is exceeded.
const CityIndexCap = 500

// Message is a persisted bulletin-board post. Phone is carried only while
// building a record to store or broadcast; it is never serialized back out
// through the feed.
type Message struct {
	ID        string `json:"id"`
	BrowserID string `json:"browser_id"`
	Body      string `json:"body"`
	Kind      Kind   `json:"kind"`
	CreatedAt int64  `json:"created_at"`
	City      string `json:"city"`
	Phone     string `json:"phone,omitempty"`
	OriginIP  string `json:"origin_ip"`
}

// Public returns a copy with the phone and origin IP stripped, safe to
// return from the feed or forward over a broadcast to ordinary subscribers.
func (m Message) Public() Message {
	m.Phone = ""
	m.OriginIP = ""
	return m
}

// ErrNotFound is returned when a message id has expired or never existed.
type ErrNotFound struct{ ID string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("messages: %q not found", e.ID) }

// ErrNoContact is returned when a reveal is requested for a message that
// never carried a phone number.
type ErrNoContact struct{ ID string }

func (e *ErrNoContact) Error() string { return fmt.Sprintf("messages: %q has no contact", e.ID) }

// Store persists and indexes messages over a shared coordination store.
type Store struct {
	store      *store.Store
	reputation *reputation.Engine
	ttl        time.Duration
}

// New constructs a message Store. rep is used to filter out messages that
// have crossed the shadow-hide report threshold from feed reads.
func New(s *store.Store, rep *reputation.Engine, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &Store{store: s, reputation: rep, ttl: ttl}
}

func recordKey(id string) string { return "msg:" + id }
func phoneKey(id string) string  { return "phone:" + id }
func cityKey(city string) string { return "city:" + city }

// NewID returns a fresh v4-style message identifier.
func NewID() string { return uuid.NewString() }

// Put writes msg under its id with the store's TTL, indexes it under its
// city (newest first, capped), and writes its phone separately if present.
func (s *Store) Put(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, recordKey(msg.ID), string(payload), s.ttl); err != nil {
		return err
	}
	if msg.Phone != "" {
		if err := s.store.Set(ctx, phoneKey(msg.ID), msg.Phone, s.ttl); err != nil {
			return err
		}
	}

	ck := cityKey(msg.City)
	if err := s.store.ZAdd(ctx, ck, float64(msg.CreatedAt), msg.ID); err != nil {
		return err
	}
	// Trim the index to CityIndexCap oldest-dropped entries; ZRemRangeByRank
	// with a negative stop removes everything below the newest CityIndexCap.
	if err := s.store.ZRemRangeByRank(ctx, ck, 0, -int64(CityIndexCap)-1); err != nil {
		return err
	}
	return nil
}

// GetByCity returns up to limit of the newest live messages for city,
// newest first, dropping any whose record has expired or whose report
// count has crossed the shadow-hide threshold.
func (s *Store) GetByCity(ctx context.Context, city string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	// Over-fetch ids to absorb drops from expiry/hiding without an extra round trip.
	ids, err := s.store.ZRevRange(ctx, cityKey(city), 0, int64(limit*3))
	if err != nil {
		return nil, err
	}

	out := make([]Message, 0, limit)
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		msg, err := s.getByID(ctx, id)
		if err != nil {
			continue
		}
		if s.reputation != nil {
			count, err := s.reputation.MessageReportCount(ctx, id)
			if err == nil && count >= reputation.ReportsPerMessageThreshold {
				continue
			}
		}
		out = append(out, msg.Public())
	}
	return out, nil
}

func (s *Store) getByID(ctx context.Context, id string) (Message, error) {
	raw, ok, err := s.store.Get(ctx, recordKey(id))
	if err != nil {
		return Message{}, err
	}
	if !ok {
		return Message{}, &ErrNotFound{ID: id}
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// GetByID returns the full record (including phone/origin) for internal
// use by handlers that need to authorize a report against the stored
// browser id, or resolve a message's origin IP for reputation lookups.
func (s *Store) GetByID(ctx context.Context, id string) (Message, error) {
	return s.getByID(ctx, id)
}

// GetPhone returns the phone number associated with a message id.
func (s *Store) GetPhone(ctx context.Context, id string) (string, error) {
	exists, err := s.store.Exists(ctx, recordKey(id))
	if err != nil {
		return "", err
	}
	if !exists {
		return "", &ErrNotFound{ID: id}
	}
	phone, ok, err := s.store.Get(ctx, phoneKey(id))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &ErrNoContact{ID: id}
	}
	return phone, nil
}

// Delete removes a message's record and phone outright — used when a
// reported browser id crosses the delete threshold so no trace of the
// content remains, unlike the shadow-hide path which keeps evidence. The
// id stays in the city index; GetByCity skips it since its record is gone.
func (s *Store) Delete(ctx context.Context, msg Message) error {
	if err := s.store.Del(ctx, recordKey(msg.ID)); err != nil {
		return err
	}
	if err := s.store.Del(ctx, phoneKey(msg.ID)); err != nil {
		return err
	}
	return nil
}
