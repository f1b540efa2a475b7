// Package boltmirror provides a local page mirror persisted in a bbolt file.
// Each namespace gets its own bucket; entries share the Redis mirror format.
package boltmirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/pagestream/pkg/source"
	"github.com/Sternrassler/pagestream/pkg/source/mirror"
	json "github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

// Mirror is a local page mirror backed by bbolt.
type Mirror[T source.Item] struct {
	db     *bolt.DB
	bucket []byte
	cfg    mirror.Config
}

// Open opens (or creates) the database at path and its namespace bucket.
func Open[T source.Item](path string, cfg mirror.Config) (*Mirror[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	bucket := []byte(cfg.Namespace)
	if len(bucket) == 0 {
		bucket = []byte("pages")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Mirror[T]{db: db, bucket: bucket, cfg: cfg}, nil
}

// Close closes the database.
func (m *Mirror[T]) Close() error {
	return m.db.Close()
}

// Fetch implements source.PageSource. Absent or expired pages are empty
// pages without keys.
func (m *Mirror[T]) Fetch(ctx context.Context, req source.Request) (source.Page[T], error) {
	if err := ctx.Err(); err != nil {
		return source.Page[T]{}, err
	}

	key := []byte(source.KeyFor(m.cfg.Namespace, req).String())

	var data []byte
	err := m.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(m.bucket).Get(key); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		mirror.Errors.WithLabelValues(mirror.BackendBolt, "get").Inc()
		return source.Page[T]{}, fmt.Errorf("bolt view: %w", err)
	}

	if data == nil {
		mirror.Misses.WithLabelValues(mirror.BackendBolt).Inc()
		return source.Page[T]{}, nil
	}

	var entry mirror.Entry[T]
	if err := json.Unmarshal(data, &entry); err != nil {
		mirror.Errors.WithLabelValues(mirror.BackendBolt, "get").Inc()
		return source.Page[T]{}, fmt.Errorf("%w: %v", mirror.ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, req)
		mirror.Misses.WithLabelValues(mirror.BackendBolt).Inc()
		return source.Page[T]{}, nil
	}

	mirror.Hits.WithLabelValues(mirror.BackendBolt).Inc()
	return entry.Page(), nil
}

// Put implements source.Writer.
func (m *Mirror[T]) Put(ctx context.Context, req source.Request, page source.Page[T]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(mirror.NewEntry(page, m.cfg.TTL))
	if err != nil {
		mirror.Errors.WithLabelValues(mirror.BackendBolt, "put").Inc()
		return fmt.Errorf("marshal mirror entry: %w", err)
	}

	key := []byte(source.KeyFor(m.cfg.Namespace, req).String())
	err = m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(m.bucket).Put(key, data)
	})
	if err != nil {
		mirror.Errors.WithLabelValues(mirror.BackendBolt, "put").Inc()
		return fmt.Errorf("bolt put: %w", err)
	}

	mirror.Writes.WithLabelValues(mirror.BackendBolt).Inc()
	return nil
}

// Delete removes the page stored for req.
func (m *Mirror[T]) Delete(_ context.Context, req source.Request) error {
	key := []byte(source.KeyFor(m.cfg.Namespace, req).String())
	err := m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(m.bucket).Delete(key)
	})
	if err != nil {
		mirror.Errors.WithLabelValues(mirror.BackendBolt, "delete").Inc()
		return fmt.Errorf("bolt delete: %w", err)
	}
	return nil
}

// Clear removes every page of the namespace.
func (m *Mirror[T]) Clear(_ context.Context) error {
	err := m.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(m.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(m.bucket)
		return err
	})
	if err != nil {
		mirror.Errors.WithLabelValues(mirror.BackendBolt, "delete").Inc()
		return fmt.Errorf("bolt clear: %w", err)
	}
	return nil
}

// Len returns the number of stored pages, expired ones included.
func (m *Mirror[T]) Len() (int, error) {
	var n int
	err := m.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(m.bucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bolt stats: %w", err)
	}
	return n, nil
}
