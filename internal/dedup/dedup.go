// Package dedup provides a Redis-backed TTL set of recently-seen alert
// fingerprints, used to suppress repeated firings within a rule's suppress
// window.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dedup:"

// minTTL is the minimum resolution the store will honor; spec.md requires
// TTLs never collapse to zero (which Redis would treat as "no expiry").
const minTTL = time.Second

// Result is the outcome of a TestAndSet call.
type Result int

const (
	// New means the fingerprint was absent and has now been recorded.
	New Result = iota
	// Duplicate means the fingerprint was already present; its TTL was not
	// refreshed.
	Duplicate
)

// Store is a Redis-backed fingerprint set with per-key TTLs.
type Store struct {
	client *redis.Client
}

// New creates a dedup store from a Redis URL.
func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("dedup: invalid redis URL: %w", err)
	}
	return &Store{client: redis.NewClient(opts)}, nil
}

// NewFromClient wraps an existing Redis client (used by tests with
// miniredis, and to share a connection with the incident store).
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// TestAndSet atomically inserts fingerprint with the given ttl if absent,
// returning New; if already present, returns Duplicate without refreshing
// the TTL. This is the cross-process ordering primitive spec.md §5 relies
// on: a single round-trip SET NX EX.
func (s *Store) TestAndSet(ctx context.Context, fingerprint string, ttl time.Duration) (Result, error) {
	if ttl < minTTL {
		ttl = minTTL
	}
	ok, err := s.client.SetNX(ctx, keyPrefix+fingerprint, "1", ttl).Result()
	if err != nil {
		return New, fmt.Errorf("dedup: test-and-set %q: %w", fingerprint, err)
	}
	if ok {
		return New, nil
	}
	return Duplicate, nil
}

// Clear removes a fingerprint, used when an alert resolves (spec.md: the
// dedup set is advisory and must never suppress a resolved event).
func (s *Store) Clear(ctx context.Context, fingerprint string) error {
	if err := s.client.Del(ctx, keyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("dedup: clear %q: %w", fingerprint, err)
	}
	return nil
}

// SetTTL extends (or shortens) the TTL on an existing fingerprint entry,
// used by the acknowledge button to push the suppress window out to at
// least 10 minutes so the same alert doesn't immediately re-post.
func (s *Store) SetTTL(ctx context.Context, fingerprint string, ttl time.Duration) error {
	if ttl < minTTL {
		ttl = minTTL
	}
	if err := s.client.Expire(ctx, keyPrefix+fingerprint, ttl).Err(); err != nil {
		return fmt.Errorf("dedup: set ttl %q: %w", fingerprint, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
