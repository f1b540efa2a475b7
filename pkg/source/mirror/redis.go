package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/pagestream/pkg/source"
	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidEntry indicates the stored entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid mirror entry")
)

// Config holds mirror configuration.
type Config struct {
	// Namespace separates lists sharing one backend
	Namespace string

	// TTL of stored pages (0: no expiry)
	TTL time.Duration
}

// DefaultConfig returns a default mirror configuration.
func DefaultConfig(namespace string) Config {
	return Config{
		Namespace: namespace,
		TTL:       10 * time.Minute,
	}
}

// Redis is a local page mirror backed by Redis.
// A miss is an empty page with no continuation keys, not an error.
type Redis[T source.Item] struct {
	redis *redis.Client
	cfg   Config
}

// NewRedis creates a Redis mirror.
func NewRedis[T source.Item](redisClient *redis.Client, cfg Config) *Redis[T] {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Redis[T]{
		redis: redisClient,
		cfg:   cfg,
	}
}

// Fetch implements source.PageSource.
func (m *Redis[T]) Fetch(ctx context.Context, req source.Request) (source.Page[T], error) {
	key := source.KeyFor(m.cfg.Namespace, req)

	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			Misses.WithLabelValues(BackendRedis).Inc()
			return source.Page[T]{}, nil
		}
		Errors.WithLabelValues(BackendRedis, "get").Inc()
		return source.Page[T]{}, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry[T]
	if err := json.Unmarshal(data, &entry); err != nil {
		Errors.WithLabelValues(BackendRedis, "get").Inc()
		return source.Page[T]{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, req)
		Misses.WithLabelValues(BackendRedis).Inc()
		return source.Page[T]{}, nil
	}

	Hits.WithLabelValues(BackendRedis).Inc()
	return entry.Page(), nil
}

// Put implements source.Writer.
func (m *Redis[T]) Put(ctx context.Context, req source.Request, page source.Page[T]) error {
	entry := NewEntry(page, m.cfg.TTL)

	data, err := json.Marshal(entry)
	if err != nil {
		Errors.WithLabelValues(BackendRedis, "put").Inc()
		return fmt.Errorf("marshal mirror entry: %w", err)
	}

	key := source.KeyFor(m.cfg.Namespace, req)
	if err := m.redis.Set(ctx, key.String(), data, m.cfg.TTL).Err(); err != nil {
		Errors.WithLabelValues(BackendRedis, "put").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	Writes.WithLabelValues(BackendRedis).Inc()
	return nil
}

// Delete removes the page stored for req.
func (m *Redis[T]) Delete(ctx context.Context, req source.Request) error {
	key := source.KeyFor(m.cfg.Namespace, req)

	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		Errors.WithLabelValues(BackendRedis, "delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// Clear removes every page of the namespace.
func (m *Redis[T]) Clear(ctx context.Context) error {
	pattern := source.PageKey{Namespace: m.cfg.Namespace}.Prefix() + "*"

	iter := m.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := m.redis.Del(ctx, iter.Val()).Err(); err != nil {
			Errors.WithLabelValues(BackendRedis, "delete").Inc()
			return fmt.Errorf("redis del: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		Errors.WithLabelValues(BackendRedis, "delete").Inc()
		return fmt.Errorf("redis scan: %w", err)
	}

	return nil
}
