// Package registry assembles the cache core: the shared multi-tenant caches
// plus the per-instance updaters that serialize writes into them.
//
// Account, order, symbol-info and rate-limit caches are shared and keyed by
// instance; position caches are keyed (symbol, side) only and therefore
// created per instance.
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"futures-cache/internal/account"
	"futures-cache/internal/cache"
	"futures-cache/internal/config"
	"futures-cache/internal/order"
	"futures-cache/internal/position"
	"futures-cache/internal/ratelimit"
	"futures-cache/internal/symbolinfo"
)

// Instance bundles one tenant's position cache and updaters.
type Instance struct {
	key string

	positions       *position.Cache
	positionUpdater *position.Updater
	accountUpdater  *account.Updater
	orderUpdater    *order.Updater
}

// Key returns the instance key.
func (i *Instance) Key() string { return i.key }

// Positions returns the instance's position cache.
func (i *Instance) Positions() *position.Cache { return i.positions }

// PositionUpdater returns the instance's position updater.
func (i *Instance) PositionUpdater() *position.Updater { return i.positionUpdater }

// AccountUpdater returns the instance's account updater.
func (i *Instance) AccountUpdater() *account.Updater { return i.accountUpdater }

// OrderUpdater returns the instance's order updater.
func (i *Instance) OrderUpdater() *order.Updater { return i.orderUpdater }

func (i *Instance) dispose() {
	// Reverse construction order: updaters stop emitting before their
	// caches go away.
	i.orderUpdater.Dispose()
	i.accountUpdater.Dispose()
	i.positionUpdater.Dispose()
	i.positions.Dispose()
}

// Registry owns the shared caches and hands out per-instance views.
type Registry struct {
	cfg    config.Config
	logger *slog.Logger

	accounts   *account.Cache
	orders     *order.Cache
	symbols    *symbolinfo.Cache
	ratelimits *ratelimit.Cache

	mu        sync.Mutex
	instances map[string]*Instance
	disposed  bool
}

// New builds the shared caches from config. The same substrate tuning
// applies to every cache; domain constructors override TTL where entries
// must not expire.
func New(cfg config.Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	accCfg := account.DefaultConfig()
	accCfg.Cache = substrateConfig(cfg.Cache, "accounts")
	accCfg.Cache.DefaultTTL = cache.NoExpiry
	accCfg.RefreshInterval = cfg.Account.RefreshInterval

	ordCfg := order.DefaultConfig()
	ordCfg.Cache = substrateConfig(cfg.Cache, "orders")
	ordCfg.Cache.DefaultTTL = cache.NoExpiry
	ordCfg.Cache.MaxEntries = cache.Unlimited
	ordCfg.MaxOrdersPerInstance = cfg.Order.MaxOrdersPerInstance

	return &Registry{
		cfg:        cfg,
		logger:     logger,
		accounts:   account.New(accCfg, logger),
		orders:     order.New(ordCfg, logger),
		symbols:    symbolinfo.New(substrateConfig(cfg.Cache, "symbolinfo"), logger),
		ratelimits: ratelimit.New(substrateConfig(cfg.Cache, "ratelimits"), logger),
		instances:  make(map[string]*Instance),
	}
}

// substrateConfig maps the file-level cache tuning onto one named substrate.
// Negative values carry the disable sentinels through unchanged.
func substrateConfig(c config.CacheConfig, name string) cache.Config {
	out := cache.DefaultConfig(name)
	if c.DefaultTTL < 0 {
		out.DefaultTTL = cache.NoExpiry
	} else if c.DefaultTTL > 0 {
		out.DefaultTTL = c.DefaultTTL
	}
	if c.MaxEntries < 0 {
		out.MaxEntries = cache.Unlimited
	} else if c.MaxEntries > 0 {
		out.MaxEntries = c.MaxEntries
	}
	out.CleanupInterval = c.CleanupInterval
	out.TrackStats = c.TrackStats
	return out
}

// Instance returns the per-tenant view, creating it on first use.
func (r *Registry) Instance(key string) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return nil, fmt.Errorf("registry disposed")
	}
	if inst, ok := r.instances[key]; ok {
		return inst, nil
	}

	positions := position.New(substrateConfig(r.cfg.Cache, "positions:"+key), r.logger)
	inst := &Instance{
		key:             key,
		positions:       positions,
		positionUpdater: position.NewUpdater(key, positions, r.logger),
		accountUpdater:  account.NewUpdater(key, r.accounts, r.logger),
		orderUpdater:    order.NewUpdater(key, r.orders, r.logger),
	}
	r.instances[key] = inst
	r.logger.Info("instance registered", "instance", key)
	return inst, nil
}

// Remove disposes one instance and clears its entries from the shared
// caches.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	inst, ok := r.instances[key]
	delete(r.instances, key)
	r.mu.Unlock()
	if !ok {
		return false
	}

	inst.dispose()
	r.accounts.StopAutoRefresh(key)
	r.accounts.Store().Remove(key)
	r.orders.ClearInstance(key)
	r.logger.Info("instance removed", "instance", key)
	return true
}

// Accounts returns the shared account cache.
func (r *Registry) Accounts() *account.Cache { return r.accounts }

// Orders returns the shared order cache.
func (r *Registry) Orders() *order.Cache { return r.orders }

// Symbols returns the shared symbol-info cache.
func (r *Registry) Symbols() *symbolinfo.Cache { return r.symbols }

// RateLimits returns the shared rate-limit cache.
func (r *Registry) RateLimits() *ratelimit.Cache { return r.ratelimits }

// InstanceKeys returns the keys of all registered instances.
func (r *Registry) InstanceKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.instances))
	for k := range r.instances {
		keys = append(keys, k)
	}
	return keys
}

// Dispose tears everything down in reverse construction order: instances
// first, then the shared caches. Idempotent.
func (r *Registry) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	instances := r.instances
	r.instances = make(map[string]*Instance)
	r.mu.Unlock()

	for _, inst := range instances {
		inst.dispose()
	}
	r.ratelimits.Dispose()
	r.symbols.Dispose()
	r.orders.Dispose()
	r.accounts.Dispose()
	r.logger.Info("registry disposed", "instances", len(instances))
}
