// Package incident provides the per-incident record store: CRUD by
// incidentKey plus a non-blocking cursor-based enumeration used by the
// escalation loop and the reconciler.
package incident

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pilot-net/alert-relay/internal/types"
)

const keyPrefix = "alert:"

// Store is a Redis-backed incident record store.
type Store struct {
	client *redis.Client
}

// New creates an incident store from a Redis URL.
func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("incident: invalid redis URL: %w", err)
	}
	return &Store{client: redis.NewClient(opts)}, nil
}

// NewFromClient wraps an existing Redis client.
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func redisKey(incidentKey string) string {
	return keyPrefix + incidentKey
}

// Get loads the record for incidentKey, or nil if it doesn't exist.
func (s *Store) Get(ctx context.Context, incidentKey string) (*types.Incident, error) {
	data, err := s.client.Get(ctx, redisKey(incidentKey)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("incident: get %q: %w", incidentKey, err)
	}
	var rec types.Incident
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("incident: decode %q: %w", incidentKey, err)
	}
	return &rec, nil
}

// Put writes rec, refreshing the 7-day record TTL. Put does not stamp
// UpdatedAt itself — callers own that field entirely (see spec.md's
// timestamp discipline: UpdatedAt is user-visible emission time, and the
// escalation loop depends on it staying pinned across mention ticks).
func (s *Store) Put(ctx context.Context, rec types.Incident) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("incident: encode %q: %w", rec.IncidentKey, err)
	}
	if err := s.client.Set(ctx, redisKey(rec.IncidentKey), data, types.IncidentTTL).Err(); err != nil {
		return fmt.Errorf("incident: put %q: %w", rec.IncidentKey, err)
	}
	return nil
}

// Delete removes the record for incidentKey. Deleting a non-existent key is
// not an error.
func (s *Store) Delete(ctx context.Context, incidentKey string) error {
	if err := s.client.Del(ctx, redisKey(incidentKey)).Err(); err != nil {
		return fmt.Errorf("incident: delete %q: %w", incidentKey, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Scan enumerates all incident records using an incremental SCAN cursor
// (never KEYS, which would lock the keyspace for the duration of a full
// scan) and calls fn for each. Enumeration stops early if fn returns an
// error, propagating it to the caller.
func (s *Store) Scan(ctx context.Context, fn func(types.Incident) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("incident: scan: %w", err)
		}
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue // record expired or was deleted between SCAN and GET
			}
			if err != nil {
				return fmt.Errorf("incident: scan get %q: %w", key, err)
			}
			var rec types.Incident
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("incident: scan decode %q: %w", key, err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// AllKeys returns every incidentKey currently stored. A thin convenience
// wrapper over Scan for callers that just need the key set.
func (s *Store) AllKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.Scan(ctx, func(rec types.Incident) error {
		keys = append(keys, rec.IncidentKey)
		return nil
	})
	return keys, err
}
