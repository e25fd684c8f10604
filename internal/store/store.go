// Package store wraps the shared coordination store (Redis) behind the
// narrow set of operations the security, messaging, and broadcast layers
// need: atomic counters, strings with TTL, sorted-set sliding windows,
// sets, and publish/subscribe. No caller reaches for a raw Redis client;
// every operation the core needs is named here.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a typed wrapper around a Redis connection. Unlike a cache-aside
// layer, the store is load-bearing: construction fails if the server is
// unreachable, and callers are expected to fail closed on every StoreError.
type Store struct {
	rdb *redis.Client
}

// StoreError wraps any underlying failure from the coordination store so
// callers can translate it uniformly to a 503 without inspecting driver
// internals.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// New parses redisURL, opens a connection, and verifies it with a ping.
func New(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("store: invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("store: connection failed: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.rdb.Close() }

// Ping reports store liveness for the health endpoint. It never returns an
// error; failures are folded into a false result.
func (s *Store) Ping(ctx context.Context) bool {
	return s.rdb.Ping(ctx).Err() == nil
}

// Incr increments key by 1 and returns the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	v, err := s.rdb.Incr(ctx, key).Result()
	return v, wrap("incr", err)
}

// Get returns the value and whether the key existed.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	return v, err == nil, wrap("get", err)
}

// Set writes key=value with an optional TTL (0 means no expiry).
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrap("set", s.rdb.Set(ctx, key, value, ttl).Err())
}

// SetNX writes key=value only if it doesn't already exist, returning
// whether the write happened.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	return ok, wrap("setnx", err)
}

// Del removes a key. Deleting a missing key is not an error.
func (s *Store) Del(ctx context.Context, key string) error {
	return wrap("del", s.rdb.Del(ctx, key).Err())
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	return n > 0, wrap("exists", err)
}

// TTL returns the remaining time-to-live for key. A non-positive value
// means the key is absent or carries no expiry.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.rdb.TTL(ctx, key).Result()
	return d, wrap("ttl", err)
}

// Expire sets or refreshes a key's TTL.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrap("expire", s.rdb.Expire(ctx, key, ttl).Err())
}

// ZAdd adds member to the sorted set at key with the given score.
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return wrap("zadd", s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

// ZRemRangeByScore removes members scored within [min, max].
func (s *Store) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return wrap("zremrangebyscore", s.rdb.ZRemRangeByScore(ctx, key, fscore(min), fscore(max)).Err())
}

// ZCard returns the cardinality of the sorted set.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.ZCard(ctx, key).Result()
	return n, wrap("zcard", err)
}

// ZCount counts members scored within [min, max] without mutating the set.
func (s *Store) ZCount(ctx context.Context, key string, min, max float64) (int64, error) {
	n, err := s.rdb.ZCount(ctx, key, fscore(min), fscore(max)).Result()
	return n, wrap("zcount", err)
}

// PruneAndCount removes sorted-set members scored within [min, max] and
// returns the resulting cardinality, batched into a single pipelined round
// trip to the store. Pipelining here only saves a network round trip; it is
// not a MULTI/EXEC transaction, so a concurrent writer on the same key can
// still interleave between the two commands.
func (s *Store) PruneAndCount(ctx context.Context, key string, min, max float64) (int64, error) {
	pipe := s.rdb.Pipeline()
	remCmd := pipe.ZRemRangeByScore(ctx, key, fscore(min), fscore(max))
	cardCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, wrap("pruneandcount", err)
	}
	if err := remCmd.Err(); err != nil {
		return 0, wrap("pruneandcount.zremrangebyscore", err)
	}
	n, err := cardCmd.Result()
	return n, wrap("pruneandcount.zcard", err)
}

// RecordWindowEvent adds member at score and refreshes key's TTL in a single
// pipelined round trip.
func (s *Store) RecordWindowEvent(ctx context.Context, key string, score float64, member string, ttl time.Duration) error {
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return wrap("recordwindowevent", err)
}

// ZMember is a sorted-set member with its score, used to find the oldest
// entry in a rate-limit window for computing retry_after_seconds.
type ZMember struct {
	Member string
	Score  float64
}

// ZRangeWithScores returns members in rank order [start, stop] (inclusive,
// -1 means "to the end") along with their scores.
func (s *Store) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error) {
	zs, err := s.rdb.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrap("zrangewithscores", err)
	}
	out := make([]ZMember, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, ZMember{Member: member, Score: z.Score})
	}
	return out, nil
}

// ZRevRange returns the highest-scored members first, for "newest N" reads
// over a city index modeled as a sorted set keyed by post time.
func (s *Store) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vs, err := s.rdb.ZRevRange(ctx, key, start, stop).Result()
	return vs, wrap("zrevrange", err)
}

// ZRemRangeByRank trims a sorted set down to a bounded size by rank.
func (s *Store) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error {
	return wrap("zremrangebyrank", s.rdb.ZRemRangeByRank(ctx, key, start, stop).Err())
}

// SAdd adds member to a set and reports whether it was new.
func (s *Store) SAdd(ctx context.Context, key, member string) (bool, error) {
	n, err := s.rdb.SAdd(ctx, key, member).Result()
	return n > 0, wrap("sadd", err)
}

// SCard returns set cardinality.
func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.SCard(ctx, key).Result()
	return n, wrap("scard", err)
}

// SIsMember reports set membership.
func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, key, member).Result()
	return ok, wrap("sismember", err)
}

// Publish fans out payload to every subscriber of channel.
func (s *Store) Publish(ctx context.Context, channel, payload string) error {
	return wrap("publish", s.rdb.Publish(ctx, channel, payload).Err())
}

// Subscribe returns a live subscription to channel. Callers read from
// Channel() until the context is cancelled or Close is called on the
// returned PubSub.
func (s *Store) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, channel)
}

// fscore renders a float score for the score-range commands (ZRemRangeByScore,
// ZCount), which accept "-inf"/"+inf" sentinels that strconv can produce
// directly from the corresponding IEEE infinities.
func fscore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
