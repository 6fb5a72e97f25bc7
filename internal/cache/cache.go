// Package cache provides the concurrent keyed store underneath every domain
// cache: TTL expiry, LRU eviction with priority classes, at-most-one async
// materialization per key, and hit/miss statistics.
//
// The design follows the in-memory caches this codebase grew out of: an
// RWMutex-protected map rather than sync.Map (predictable control over
// eviction and sweeping), plus a separate in-flight table that collapses
// concurrent async fetches for the same key into a single factory call.
package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Config tunes one cache instance. Zero values are replaced by the defaults
// from DefaultConfig where that makes sense; use NoExpiry / Unlimited
// sentinels to disable TTL or the size cap outright.
type Config struct {
	// DefaultTTL applies to entries stored without an explicit TTL.
	// NoExpiry disables expiry.
	DefaultTTL time.Duration

	// MaxEntries caps the number of entries; Unlimited disables the cap.
	// The cap is soft: if every entry is PriorityNeverRemove it may be
	// exceeded, since those entries are not eviction candidates.
	MaxEntries int

	// CleanupInterval is how often the background sweep removes expired
	// entries. Zero or negative disables the sweep.
	CleanupInterval time.Duration

	// TrackStats enables hit/miss/eviction/expiration counting.
	TrackStats bool

	// FailureGrace is how long a failed async materialization stays in the
	// in-flight table. Joiners during the grace receive the same error;
	// afterwards the key can be retried.
	FailureGrace time.Duration

	// Name is a debug label reported in Stats.
	Name string
}

// DefaultConfig returns the standard tuning: 5 minute TTL, 1000 entries,
// 1 minute sweep, stats on.
func DefaultConfig(name string) Config {
	return Config{
		DefaultTTL:      5 * time.Minute,
		MaxEntries:      1000,
		CleanupInterval: time.Minute,
		TrackStats:      true,
		FailureGrace:    100 * time.Millisecond,
		Name:            name,
	}
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Name        string  `json:"name"`
	Size        int     `json:"size"`
	MaxEntries  int     `json:"max_entries"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRatio    float64 `json:"hit_ratio"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
}

// Option overrides per-entry storage behavior.
type Option func(*entryOpts)

type entryOpts struct {
	ttl    time.Duration
	hasTTL bool
	pri    Priority
}

// WithTTL stores the entry with an explicit TTL instead of the cache default.
func WithTTL(ttl time.Duration) Option {
	return func(o *entryOpts) {
		o.ttl = ttl
		o.hasTTL = true
	}
}

// WithPriority stores the entry with the given eviction priority.
func WithPriority(p Priority) Option {
	return func(o *entryOpts) { o.pri = p }
}

// flight tracks one in-progress async materialization. Waiters block on done
// and then read val/err.
type flight[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Cache is a concurrent keyed store of V. All methods are safe for
// concurrent use. The cache itself never fails; factory errors propagate to
// the caller without being cached.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]*Entry[V]
	cfg     Config

	hits        int64
	misses      int64
	evictions   int64
	expirations int64

	flightMu sync.Mutex
	flights  map[string]*flight[V]

	stopCleanup chan struct{}
	disposeOnce sync.Once
	disposed    bool
}

// New creates a cache with the given config and starts the cleanup sweep if
// configured.
func New[V any](cfg Config) *Cache[V] {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.FailureGrace == 0 {
		cfg.FailureGrace = 100 * time.Millisecond
	}
	c := &Cache[V]{
		entries:     make(map[string]*Entry[V]),
		cfg:         cfg,
		flights:     make(map[string]*flight[V]),
		stopCleanup: make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go c.cleanupLoop()
	}
	return c
}

func (c *Cache[V]) cleanupLoop() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.RemoveExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

// Get returns the value for key, updating its access metadata. An expired
// entry is removed and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.countMiss()
		return zero, false
	}
	if e.Expired(now) {
		delete(c.entries, key)
		c.countExpiration()
		c.countMiss()
		return zero, false
	}
	e.touch(now)
	c.countHit()
	return e.Value, true
}

// GetEntry returns a copy of the entry envelope without touching access
// metadata. Intended for introspection and tests.
func (c *Cache[V]) GetEntry(key string) (Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.Expired(time.Now()) {
		return Entry[V]{}, false
	}
	return *e, true
}

// Set stores value under key, replacing any previous entry, then enforces the
// size cap.
func (c *Cache[V]) Set(key string, value V, opts ...Option) {
	ttl, pri := c.resolveOpts(opts)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.entries[key] = newEntry(value, ttl, pri, now)
	c.evictLocked()
}

// GetOrAdd returns the cached value for key, or materializes it with factory
// and stores the result. The factory runs under the cache lock; it must be
// cheap and must not call back into the cache.
func (c *Cache[V]) GetOrAdd(key string, factory func() V, opts ...Option) V {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && !e.Expired(now) {
		e.touch(now)
		c.countHit()
		return e.Value
	}
	c.countMiss()
	ttl, pri := c.resolveOpts(opts)
	v := factory()
	c.entries[key] = newEntry(v, ttl, pri, now)
	c.evictLocked()
	return v
}

// GetOrAddAsync returns the cached value for key, joining any in-flight
// materialization for the same key, or invokes factory itself. Concurrent
// callers for an uncached key share a single factory call and receive the
// same value or the same error. A failed flight lingers for FailureGrace so
// a burst of callers does not hammer a failing source, then clears so the
// next caller retries.
func (c *Cache[V]) GetOrAddAsync(key string, factory func() (V, error), opts ...Option) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	c.flightMu.Lock()
	if f, ok := c.flights[key]; ok {
		c.flightMu.Unlock()
		<-f.done
		return f.val, f.err
	}
	f := &flight[V]{done: make(chan struct{})}
	c.flights[key] = f
	c.flightMu.Unlock()

	// Double-check under a fresh read: another caller may have Set the key
	// between our Get miss and flight registration.
	if v, ok := c.Get(key); ok {
		f.val = v
		close(f.done)
		c.removeFlight(key)
		return v, nil
	}

	f.val, f.err = factory()
	if f.err == nil {
		c.Set(key, f.val, opts...)
		close(f.done)
		c.removeFlight(key)
		return f.val, nil
	}

	close(f.done)
	time.AfterFunc(c.cfg.FailureGrace, func() { c.removeFlight(key) })
	return f.val, f.err
}

func (c *Cache[V]) removeFlight(key string) {
	c.flightMu.Lock()
	delete(c.flights, key)
	c.flightMu.Unlock()
}

// AddOrUpdate stores add() for a missing key, or replaces an existing entry
// with update(current). Both paths replace the envelope atomically.
func (c *Cache[V]) AddOrUpdate(key string, add func() V, update func(V) V, opts ...Option) V {
	ttl, pri := c.resolveOpts(opts)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var v V
	if e, ok := c.entries[key]; ok && !e.Expired(now) {
		v = update(e.Value)
	} else {
		v = add()
	}
	c.entries[key] = newEntry(v, ttl, pri, now)
	c.evictLocked()
	return v
}

// Remove deletes key. Returns whether an entry was present.
func (c *Cache[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Has reports whether key holds a live entry, removing it if expired.
// Unlike Get it does not count a hit or miss and does not touch access time.
func (c *Cache[V]) Has(key string) bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if e.Expired(now) {
		delete(c.entries, key)
		c.countExpiration()
		return false
	}
	return true
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry[V])
}

// Keys returns the keys of all live entries.
func (c *Cache[V]) Keys() []string {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k, e := range c.entries {
		if !e.Expired(now) {
			keys = append(keys, k)
		}
	}
	return keys
}

// GetAll returns every live value without touching access times, so bulk
// reads do not distort LRU ordering.
func (c *Cache[V]) GetAll() []V {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	vals := make([]V, 0, len(c.entries))
	for _, e := range c.entries {
		if !e.Expired(now) {
			vals = append(vals, e.Value)
		}
	}
	return vals
}

// Filter returns the values whose (key, value) pair satisfies pred.
func (c *Cache[V]) Filter(pred func(key string, value V) bool) []V {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []V
	for k, e := range c.entries {
		if !e.Expired(now) && pred(k, e.Value) {
			out = append(out, e.Value)
		}
	}
	return out
}

// ForEach calls fn for every live entry. fn must not call back into the cache.
func (c *Cache[V]) ForEach(fn func(key string, value V)) {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, e := range c.entries {
		if !e.Expired(now) {
			fn(k, e.Value)
		}
	}
}

// RemoveExpired sweeps the cache and returns how many entries were dropped.
func (c *Cache[V]) RemoveExpired() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if e.Expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 && c.cfg.TrackStats {
		c.expirations += int64(removed)
	}
	return removed
}

// SetTTL replaces the TTL of an existing entry. Returns false if key is absent.
func (c *Cache[V]) SetTTL(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.TTL = ttl
	return true
}

// Touch refreshes the access time of an entry without reading it.
func (c *Cache[V]) Touch(key string) bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.Expired(now) {
		return false
	}
	e.touch(now)
	return true
}

// Size returns the number of entries, expired or not. Expired entries are
// reclaimed by Get/Has/RemoveExpired.
func (c *Cache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Name returns the debug label.
func (c *Cache[V]) Name() string { return c.cfg.Name }

// Stats returns a snapshot of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{
		Name:        c.cfg.Name,
		Size:        len(c.entries),
		MaxEntries:  c.cfg.MaxEntries,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRatio = float64(s.Hits) / float64(total)
	}
	return s
}

// ResetStats zeroes all counters.
func (c *Cache[V]) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits, c.misses, c.evictions, c.expirations = 0, 0, 0, 0
}

// Dispose stops the cleanup sweep and clears all entries. Idempotent.
// In-flight materializations complete but their results are discarded.
func (c *Cache[V]) Dispose() {
	c.disposeOnce.Do(func() {
		close(c.stopCleanup)
	})
	c.mu.Lock()
	c.disposed = true
	c.entries = make(map[string]*Entry[V])
	c.mu.Unlock()
}

// String implements fmt.Stringer for debug logging.
func (c *Cache[V]) String() string {
	s := c.Stats()
	return fmt.Sprintf("cache %q: size=%d hits=%d misses=%d", s.Name, s.Size, s.Hits, s.Misses)
}

func (c *Cache[V]) resolveOpts(opts []Option) (time.Duration, Priority) {
	o := entryOpts{pri: PriorityNormal}
	for _, opt := range opts {
		opt(&o)
	}
	if o.hasTTL {
		return o.ttl, o.pri
	}
	return c.cfg.DefaultTTL, o.pri
}

// evictLocked drops the least-recently-accessed entries until the cache is
// back under its cap. PriorityNeverRemove entries are not candidates, so the
// cap may be exceeded when all entries carry that priority.
func (c *Cache[V]) evictLocked() {
	if c.cfg.MaxEntries == Unlimited || len(c.entries) <= c.cfg.MaxEntries {
		return
	}

	type candidate struct {
		key      string
		accessed time.Time
	}
	candidates := make([]candidate, 0, len(c.entries))
	for k, e := range c.entries {
		if e.Priority != PriorityNeverRemove {
			candidates = append(candidates, candidate{k, e.LastAccessedAt})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].accessed.Before(candidates[j].accessed)
	})

	for _, cand := range candidates {
		if len(c.entries) <= c.cfg.MaxEntries {
			break
		}
		delete(c.entries, cand.key)
		if c.cfg.TrackStats {
			c.evictions++
		}
	}
}

func (c *Cache[V]) countHit() {
	if c.cfg.TrackStats {
		c.hits++
	}
}

func (c *Cache[V]) countMiss() {
	if c.cfg.TrackStats {
		c.misses++
	}
}

func (c *Cache[V]) countExpiration() {
	if c.cfg.TrackStats {
		c.expirations++
	}
}
