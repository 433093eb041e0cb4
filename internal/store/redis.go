package store

import (
	"context"
	"time"

	"example.com/backstage/services/keygate/internal/cache"

	"github.com/pkg/errors"
)

// KV is the subset of the Redis cache the backend needs
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Close() error
}

// RedisBackend stores each collection as one Redis string
type RedisBackend struct {
	kv KV
}

// NewRedisBackend wraps a connected cache
func NewRedisBackend(kv KV) *RedisBackend {
	return &RedisBackend{kv: kv}
}

// Load fetches the collection document
func (b *RedisBackend) Load(ctx context.Context, collection string) ([]byte, bool, error) {
	data, err := b.kv.Get(ctx, cache.CollectionKey(collection))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Save overwrites the collection document without expiry
func (b *RedisBackend) Save(ctx context.Context, collection string, data []byte) error {
	return b.kv.Set(ctx, cache.CollectionKey(collection), data, 0)
}

// Close closes the Redis connection
func (b *RedisBackend) Close() error {
	return b.kv.Close()
}
