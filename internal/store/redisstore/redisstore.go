// Package redisstore backs the Session Store with Redis list commands:
// RPUSH to append (so LRANGE returns entries in append order), LRANGE to
// read and EXPIRE to set the TTL on a list key - see DESIGN.md. This is the
// production implementation; internal/store/memstore is the
// zero-dependency fallback used when no Redis address is configured.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/askidmobile/voxstream/internal/errs"
)

// Store is a Redis-backed implementation of store.Store.
type Store struct {
	client *redis.Client
}

// New opens a Store against addr (host:port).
func New(addr string) *Store {
	return &Store{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Append(ctx context.Context, key string, value string) error {
	if err := s.client.RPush(ctx, key, value).Err(); err != nil {
		return errs.Wrap(errs.StoreUnavailable, fmt.Sprintf("failed to append to %s", key), err)
	}
	return nil
}

func (s *Store) GetRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	values, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, fmt.Sprintf("failed to read range of %s", key), err)
	}
	return values, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return errs.Wrap(errs.StoreUnavailable, fmt.Sprintf("failed to set TTL on %s", key), err)
	}
	return nil
}
