package cache

import "time"

// Priority controls how eager the evictor is to drop an entry when the cache
// exceeds its size cap.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	// PriorityNeverRemove exempts an entry from LRU eviction. The entry is
	// still removable explicitly and still expires by TTL.
	PriorityNeverRemove
)

// NoExpiry is the TTL sentinel for entries that never expire.
const NoExpiry = time.Duration(-1)

// Unlimited disables the max-entries cap.
const Unlimited = -1

// Entry is the envelope stored for every cached value. Access metadata is
// mutated in place under the owning cache's lock.
type Entry[V any] struct {
	Value          V
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	TTL            time.Duration // NoExpiry = never expires
	Priority       Priority
}

func newEntry[V any](value V, ttl time.Duration, pri Priority, now time.Time) *Entry[V] {
	return &Entry[V]{
		Value:          value,
		CreatedAt:      now,
		LastAccessedAt: now,
		TTL:            ttl,
		Priority:       pri,
	}
}

// Expired reports whether the entry's TTL has elapsed at the given instant.
func (e *Entry[V]) Expired(now time.Time) bool {
	if e.TTL == NoExpiry {
		return false
	}
	return now.Sub(e.CreatedAt) > e.TTL
}

// Age returns how long ago the entry was created.
func (e *Entry[V]) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

func (e *Entry[V]) touch(now time.Time) {
	e.LastAccessedAt = now
	e.AccessCount++
}
