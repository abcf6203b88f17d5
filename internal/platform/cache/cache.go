// Package cache is a Redis-backed read-through store for derived dashboard
// views. Entries are namespaced per tenant and a per-tenant generation
// counter makes invalidation a single INCR.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 5 * time.Minute

// Connect parses a redis:// URL and verifies the server answers PING.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

type Store struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func New(client redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, prefix: "tcm", ttl: ttl}
}

func (s *Store) genKey(tenantKey string) string {
	return s.prefix + ":" + tenantKey + ":gen"
}

func (s *Store) entryKey(tenantKey string, gen int64, key string) string {
	return s.prefix + ":" + tenantKey + ":g" + strconv.FormatInt(gen, 10) + ":" + key
}

func (s *Store) generation(ctx context.Context, tenantKey string) (int64, error) {
	gen, err := s.client.Get(ctx, s.genKey(tenantKey)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading generation: %w", err)
	}
	return gen, nil
}

// Get decodes the cached value into dst and reports the tenant generation
// it looked under. A miss returns false with no error.
func (s *Store) Get(ctx context.Context, tenantKey, key string, dst interface{}) (int64, bool, error) {
	gen, err := s.generation(ctx, tenantKey)
	if err != nil {
		return 0, false, err
	}
	raw, err := s.client.Get(ctx, s.entryKey(tenantKey, gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return gen, false, nil
	}
	if err != nil {
		return gen, false, fmt.Errorf("reading %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return gen, false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return gen, true, nil
}

// Set stores v under generation gen, normally the one returned by the Get
// that missed. If the tenant was invalidated since, the entry is written
// under a retired generation and never read.
func (s *Store) Set(ctx context.Context, tenantKey, key string, gen int64, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.entryKey(tenantKey, gen, key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Invalidate bumps the tenant's generation. Entries written under older
// generations are unreachable and expire with their TTL.
func (s *Store) Invalidate(ctx context.Context, tenantKey string) error {
	if err := s.client.Incr(ctx, s.genKey(tenantKey)).Err(); err != nil {
		return fmt.Errorf("invalidating tenant %s: %w", tenantKey, err)
	}
	return nil
}
