package cacheindex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agenda-podcast/Platform-sub001/pkg/canonical"
)

// RedisStore keeps index entries as JSON values with server-side TTLs, so
// expiry needs no pruning pass at all: Redis drops the key when the entry's
// retention lapses.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store over an existing client. prefix namespaces
// the keys; empty means "cacheindex".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "cacheindex"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(place, ref string) (string, error) {
	// Refs are arbitrary paths and URIs; hash them into the key.
	h, err := canonical.Hash(ref)
	if err != nil {
		return "", err
	}
	return s.prefix + ":" + place + ":" + h, nil
}

func (s *RedisStore) Put(ctx context.Context, e Entry) error {
	key, err := s.key(e.Place, e.Ref)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cacheindex: marshal entry: %w", err)
	}
	ttl := time.Until(e.ExpiresAt)
	if ttl <= 0 {
		// Already expired on arrival; nothing to retain.
		return nil
	}
	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("cacheindex: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, place string) ([]Entry, error) {
	var out []Entry
	iter := s.client.Scan(ctx, 0, s.prefix+":"+place+":*", 0).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("cacheindex: redis get: %w", err)
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("cacheindex: decode entry: %w", err)
		}
		out = append(out, e)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cacheindex: redis scan: %w", err)
	}
	return out, nil
}

// Expired always returns nil: Redis evicts entries server-side, so there is
// never a backlog to prune.
func (s *RedisStore) Expired(_ context.Context, _ time.Time) ([]Entry, error) {
	return nil, nil
}
