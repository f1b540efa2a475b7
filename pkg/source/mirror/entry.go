// Package mirror provides local page mirrors for paged streams. The Redis
// mirror lives here; other backends reuse Entry and the mirror metrics.
package mirror

import (
	"time"

	"github.com/Sternrassler/pagestream/pkg/source"
)

// Entry represents a stored page.
type Entry[T source.Item] struct {
	// Items of the page, in order
	Items []T `json:"items"`

	// Before and After are the continuation keys the provider returned
	Before source.Key `json:"before"`
	After  source.Key `json:"after"`

	// StoredAt is when the page was written to the mirror
	StoredAt time.Time `json:"stored_at"`

	// Expires is when the entry becomes stale (zero: never)
	Expires time.Time `json:"expires"`
}

// NewEntry builds an entry for page that expires after ttl (ttl <= 0: never).
func NewEntry[T source.Item](page source.Page[T], ttl time.Duration) *Entry[T] {
	now := time.Now()
	entry := &Entry[T]{
		Items:    page.Items,
		Before:   page.Before,
		After:    page.After,
		StoredAt: now,
	}
	if ttl > 0 {
		entry.Expires = now.Add(ttl)
	}
	return entry
}

// IsExpired returns true if the entry has expired.
func (e *Entry[T]) IsExpired() bool {
	return !e.Expires.IsZero() && time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired or if the entry never expires.
func (e *Entry[T]) TTL() time.Duration {
	if e.Expires.IsZero() {
		return 0
	}
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Page converts the entry back to a page.
func (e *Entry[T]) Page() source.Page[T] {
	return source.Page[T]{
		Items:  e.Items,
		Before: e.Before,
		After:  e.After,
	}
}
