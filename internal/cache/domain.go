package cache

// Domain is the thin base embedded by every domain cache. It owns one
// substrate instance and exposes only the lifecycle and stats surface, so the
// embedding cache keeps control of its own key discipline.
type Domain[V any] struct {
	store *Cache[V]
}

// NewDomain creates a domain base backed by a fresh substrate.
func NewDomain[V any](cfg Config) Domain[V] {
	return Domain[V]{store: New[V](cfg)}
}

// Store exposes the underlying substrate to the embedding cache. Callers
// outside the owning package should use the domain cache's typed methods.
func (d *Domain[V]) Store() *Cache[V] { return d.store }

// Name returns the substrate's debug label.
func (d *Domain[V]) Name() string { return d.store.Name() }

// Size returns the number of entries.
func (d *Domain[V]) Size() int { return d.store.Size() }

// IsEmpty reports whether the cache holds no entries.
func (d *Domain[V]) IsEmpty() bool { return d.store.Size() == 0 }

// Stats returns the substrate counters.
func (d *Domain[V]) Stats() Stats { return d.store.Stats() }

// ResetStats zeroes the substrate counters.
func (d *Domain[V]) ResetStats() { d.store.ResetStats() }

// Clear removes every entry.
func (d *Domain[V]) Clear() { d.store.Clear() }

// Dispose clears entries and stops the substrate's timers. Idempotent.
func (d *Domain[V]) Dispose() { d.store.Dispose() }
