// Package account maintains the per-instance view of the futures account:
// asset balances, margin totals, and the snapshot bookkeeping that drives
// periodic auto-refresh.
package account

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"futures-cache/internal/cache"
	"futures-cache/pkg/types"
)

// errNotFetched is the read-envelope reason for an instance with no snapshot.
const errNotFetched = "Account balance not yet fetched"

// Entry is the cached account state for one instance.
type Entry struct {
	Balance     types.AccountBalance
	LastFetch   time.Time
	NextRefresh time.Time
	FetchCount  int
	Errors      int

	// TransactionTime is the exchange time of the stored snapshot, used
	// for stale-update rejection.
	TransactionTime int64
}

// RefreshFunc fetches a fresh snapshot upstream and pushes it back through
// the updater. Errors are counted against the instance.
type RefreshFunc func(ctx context.Context) error

// Config tunes one account cache.
type Config struct {
	Cache           cache.Config
	RefreshInterval time.Duration
}

// DefaultConfig returns the standard account cache tuning: no entry expiry
// (staleness is reported, not enforced) and a 5 second refresh interval.
func DefaultConfig() Config {
	c := cache.DefaultConfig("account")
	c.DefaultTTL = cache.NoExpiry
	return Config{Cache: c, RefreshInterval: 5 * time.Second}
}

type refreshLoop struct {
	cancel   context.CancelFunc
	callback RefreshFunc
}

// Cache stores one account snapshot per instance plus the auto-refresh
// timers. Reads are lock-free with respect to writers; timer management is
// serialized by its own mutex.
type Cache struct {
	cache.Domain[Entry]
	logger *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	loops    map[string]*refreshLoop
	disposed bool
}

// New creates an account cache.
func New(cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.Cache.Name == "" {
		cfg.Cache.Name = "account"
	}
	return &Cache{
		Domain:   cache.NewDomain[Entry](cfg.Cache),
		logger:   logger.With("component", "account-cache"),
		interval: cfg.RefreshInterval,
		loops:    make(map[string]*refreshLoop),
	}
}

// Update stores a fresh balance snapshot. A snapshot older than the cached
// one (by exchange transaction time) is rejected; equal times are accepted
// as retries. A zero transactionTime falls back to the wall clock so a
// source that omits the field cannot wedge the cache. Returns whether the
// snapshot was accepted.
func (c *Cache) Update(instanceKey string, balance types.AccountBalance, transactionTime int64) bool {
	now := time.Now()
	tx := transactionTime
	if tx == 0 {
		tx = now.UnixMilli()
	}

	interval := c.refreshInterval()
	stale := false
	c.Store().AddOrUpdate(instanceKey,
		func() Entry {
			return Entry{
				Balance:         balance,
				LastFetch:       now,
				NextRefresh:     now.Add(interval),
				FetchCount:      1,
				TransactionTime: tx,
			}
		},
		func(cur Entry) Entry {
			if cur.TransactionTime > tx {
				stale = true
				return cur
			}
			return Entry{
				Balance:         balance,
				LastFetch:       now,
				NextRefresh:     now.Add(interval),
				FetchCount:      cur.FetchCount + 1,
				Errors:          0,
				TransactionTime: tx,
			}
		},
		cache.WithTTL(cache.NoExpiry),
	)

	if stale {
		c.logger.Warn("rejected stale account snapshot",
			"instance", instanceKey,
			"incoming_tx", tx,
		)
		return false
	}
	return true
}

// RecordError counts a failed refresh attempt and pushes the next refresh out.
func (c *Cache) RecordError(instanceKey string) {
	now := time.Now()
	interval := c.refreshInterval()
	if e, ok := c.Store().Get(instanceKey); ok {
		e.Errors++
		e.NextRefresh = now.Add(interval)
		c.Store().Set(instanceKey, e, cache.WithTTL(cache.NoExpiry))
	}
}

// Get returns the raw cache entry for an instance.
func (c *Cache) Get(instanceKey string) (Entry, bool) {
	return c.Store().Get(instanceKey)
}

// Balance returns the cached snapshot in the uniform read envelope, with
// StaleMs reporting the age of the data.
func (c *Cache) Balance(instanceKey string) types.Result[types.AccountBalance] {
	start := time.Now()
	e, ok := c.Store().Get(instanceKey)
	if !ok {
		return types.Fail[types.AccountBalance](errNotFetched, start)
	}
	res := types.Ok(e.Balance, start)
	res.StaleMs = time.Since(e.LastFetch).Milliseconds()
	return res
}

// StartAutoRefresh installs a periodic refresh timer for the instance,
// replacing any existing one. Callback failures are counted via RecordError
// and the loop keeps running.
func (c *Cache) StartAutoRefresh(instanceKey string, callback RefreshFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.stopLoopLocked(instanceKey)
	c.startLoopLocked(instanceKey, callback, c.interval)
}

// StopAutoRefresh cancels the instance's refresh timer and drops the callback.
func (c *Cache) StopAutoRefresh(instanceKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLoopLocked(instanceKey)
}

// SetRefreshInterval changes the interval for all future schedules and
// restarts every active timer on the new cadence.
func (c *Cache) SetRefreshInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = interval
	for key, loop := range c.loops {
		cb := loop.callback
		c.stopLoopLocked(key)
		c.startLoopLocked(key, cb, interval)
	}
}

// RefreshInterval returns the current refresh interval.
func (c *Cache) RefreshInterval() time.Duration { return c.refreshInterval() }

// Dispose stops all refresh timers and clears the cache. Idempotent.
func (c *Cache) Dispose() {
	c.mu.Lock()
	for key := range c.loops {
		c.stopLoopLocked(key)
	}
	c.disposed = true
	c.mu.Unlock()
	c.Domain.Dispose()
}

func (c *Cache) refreshInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

func (c *Cache) startLoopLocked(instanceKey string, callback RefreshFunc, interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	c.loops[instanceKey] = &refreshLoop{cancel: cancel, callback: callback}
	go c.runRefresh(ctx, instanceKey, callback, interval)
}

func (c *Cache) stopLoopLocked(instanceKey string) {
	if loop, ok := c.loops[instanceKey]; ok {
		loop.cancel()
		delete(c.loops, instanceKey)
	}
}

func (c *Cache) runRefresh(ctx context.Context, instanceKey string, callback RefreshFunc, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := callback(ctx); err != nil {
				c.RecordError(instanceKey)
				c.logger.Warn("auto-refresh failed",
					"instance", instanceKey,
					"error", err,
				)
			}
		}
	}
}
