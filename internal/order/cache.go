// Package order tracks regular and algo orders per tenant instance.
//
// Regular and algo orders live in separate keyspaces so an orderId can never
// collide with an algoId. On top of the keyed store the cache maintains a
// per-instance active index: the set of orders that can still trade, kept
// current on every write so strategy code reads it without scanning.
package order

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"futures-cache/internal/cache"
	"futures-cache/pkg/types"
)

const (
	errOrderNotFound = "Order not found"
	errAlgoNotFound  = "Algo order not found"
)

// Statuses included in the active index. The algo set deliberately excludes
// TRIGGERED: once triggered, the child live order carries the tradable state
// and the algo record is only kept for correlation.
func orderIsIndexed(s types.OrderStatus) bool {
	return s == types.OrderNew || s == types.OrderPartiallyFill
}

func algoIsIndexed(s types.AlgoOrderStatus) bool {
	return s == types.AlgoNew || s == types.AlgoTriggering
}

func orderKey(instanceKey string, orderID int64) string {
	return instanceKey + ":" + strconv.FormatInt(orderID, 10)
}

func algoKey(instanceKey string, algoID int64) string {
	return instanceKey + ":" + strconv.FormatInt(algoID, 10)
}

// Stats aggregates one instance's cached orders.
type Stats struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Terminal   int `json:"terminal"`
	AlgoTotal  int `json:"algo_total"`
	AlgoActive int `json:"algo_active"`
}

// Config tunes the order cache.
type Config struct {
	Cache cache.Config
	// MaxOrdersPerInstance caps entries per instance; terminal orders are
	// pruned oldest-first when the cap is exceeded. <= 0 disables the cap.
	MaxOrdersPerInstance int
}

// DefaultConfig returns the standard order cache tuning. Orders never expire
// by TTL; the per-instance cap bounds memory instead.
func DefaultConfig() Config {
	cfg := cache.DefaultConfig("orders")
	cfg.DefaultTTL = cache.NoExpiry
	cfg.MaxEntries = cache.Unlimited
	return Config{Cache: cfg, MaxOrdersPerInstance: 1000}
}

// Cache stores orders in two substrates keyed "{instanceKey}:{id}".
type Cache struct {
	orders *cache.Cache[types.OrderUpdate]
	algos  *cache.Cache[types.AlgoOrderUpdate]
	logger *slog.Logger

	maxPerInstance int

	// mu guards the active indexes and lastUpdate.
	mu           sync.RWMutex
	activeOrders map[string]map[int64]types.OrderUpdate
	activeAlgos  map[string]map[int64]types.AlgoOrderUpdate
	lastUpdate   map[string]int64

	disposeOnce sync.Once
}

// New creates an order cache.
func New(cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	orderCfg := cfg.Cache
	if orderCfg.Name == "" {
		orderCfg.Name = "orders"
	}
	algoCfg := cfg.Cache
	algoCfg.Name = orderCfg.Name + "-algo"
	return &Cache{
		orders:         cache.New[types.OrderUpdate](orderCfg),
		algos:          cache.New[types.AlgoOrderUpdate](algoCfg),
		logger:         logger.With("component", "order-cache"),
		maxPerInstance: cfg.MaxOrdersPerInstance,
		activeOrders:   make(map[string]map[int64]types.OrderUpdate),
		activeAlgos:    make(map[string]map[int64]types.AlgoOrderUpdate),
		lastUpdate:     make(map[string]int64),
	}
}

// Update stores a regular order and maintains the active index. An update
// older than the cached record (by transaction time) is rejected; equal
// times are accepted. Returns whether the cache changed.
func (c *Cache) Update(instanceKey string, o types.OrderUpdate) bool {
	k := orderKey(instanceKey, o.OrderID)

	if cur, ok := c.orders.Get(k); ok && o.TransactionTime < cur.TransactionTime {
		c.logger.Warn("rejected stale order update",
			"instance", instanceKey,
			"order_id", o.OrderID,
			"incoming", o.TransactionTime,
			"cached", cur.TransactionTime,
		)
		return false
	}
	c.orders.Set(k, o)

	c.mu.Lock()
	if orderIsIndexed(o.OrderStatus) {
		idx := c.activeOrders[instanceKey]
		if idx == nil {
			idx = make(map[int64]types.OrderUpdate)
			c.activeOrders[instanceKey] = idx
		}
		idx[o.OrderID] = o
	} else {
		delete(c.activeOrders[instanceKey], o.OrderID)
	}
	c.lastUpdate[instanceKey] = types.NowMs()
	c.mu.Unlock()

	c.pruneInstance(instanceKey)
	return true
}

// UpdateAlgo stores an algo order, mirroring Update.
func (c *Cache) UpdateAlgo(instanceKey string, a types.AlgoOrderUpdate) bool {
	k := algoKey(instanceKey, a.AlgoID)

	if cur, ok := c.algos.Get(k); ok && a.TransactionTime < cur.TransactionTime {
		c.logger.Warn("rejected stale algo order update",
			"instance", instanceKey,
			"algo_id", a.AlgoID,
			"incoming", a.TransactionTime,
			"cached", cur.TransactionTime,
		)
		return false
	}
	c.algos.Set(k, a)

	c.mu.Lock()
	if algoIsIndexed(a.AlgoStatus) {
		idx := c.activeAlgos[instanceKey]
		if idx == nil {
			idx = make(map[int64]types.AlgoOrderUpdate)
			c.activeAlgos[instanceKey] = idx
		}
		idx[a.AlgoID] = a
	} else {
		delete(c.activeAlgos[instanceKey], a.AlgoID)
	}
	c.lastUpdate[instanceKey] = types.NowMs()
	c.mu.Unlock()
	return true
}

// pruneInstance drops the oldest terminal orders once an instance exceeds
// its cap. Active orders are never pruned, so the cap is soft.
func (c *Cache) pruneInstance(instanceKey string) {
	if c.maxPerInstance <= 0 {
		return
	}
	all := c.instanceOrders(instanceKey)
	over := len(all) - c.maxPerInstance
	if over <= 0 {
		return
	}
	terminal := all[:0:0]
	for _, o := range all {
		if o.OrderStatus.IsTerminal() {
			terminal = append(terminal, o)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].TransactionTime < terminal[j].TransactionTime
	})
	if over > len(terminal) {
		over = len(terminal)
	}
	for _, o := range terminal[:over] {
		c.orders.Remove(orderKey(instanceKey, o.OrderID))
	}
	if over > 0 {
		c.logger.Debug("pruned terminal orders", "instance", instanceKey, "pruned", over)
	}
}

func (c *Cache) instanceOrders(instanceKey string) []types.OrderUpdate {
	prefix := instanceKey + ":"
	return c.orders.Filter(func(k string, _ types.OrderUpdate) bool {
		return strings.HasPrefix(k, prefix)
	})
}

// Get returns one regular order.
func (c *Cache) Get(instanceKey string, orderID int64) types.Result[types.OrderUpdate] {
	start := time.Now()
	o, ok := c.orders.Get(orderKey(instanceKey, orderID))
	if !ok {
		return types.Fail[types.OrderUpdate](errOrderNotFound, start)
	}
	return types.Ok(o, start)
}

// GetAlgo returns one algo order.
func (c *Cache) GetAlgo(instanceKey string, algoID int64) types.Result[types.AlgoOrderUpdate] {
	start := time.Now()
	a, ok := c.algos.Get(algoKey(instanceKey, algoID))
	if !ok {
		return types.Fail[types.AlgoOrderUpdate](errAlgoNotFound, start)
	}
	return types.Ok(a, start)
}

// ActiveOrders returns the instance's active regular orders from the index.
func (c *Cache) ActiveOrders(instanceKey string) types.Result[[]types.OrderUpdate] {
	start := time.Now()
	c.mu.RLock()
	out := make([]types.OrderUpdate, 0, len(c.activeOrders[instanceKey]))
	for _, o := range c.activeOrders[instanceKey] {
		out = append(out, o)
	}
	c.mu.RUnlock()
	return types.Ok(out, start)
}

// ActiveAlgoOrders returns the instance's active algo orders from the index.
func (c *Cache) ActiveAlgoOrders(instanceKey string) types.Result[[]types.AlgoOrderUpdate] {
	start := time.Now()
	c.mu.RLock()
	out := make([]types.AlgoOrderUpdate, 0, len(c.activeAlgos[instanceKey]))
	for _, a := range c.activeAlgos[instanceKey] {
		out = append(out, a)
	}
	c.mu.RUnlock()
	return types.Ok(out, start)
}

// RecentOrders returns up to limit orders for the instance, most recent
// transaction time first.
func (c *Cache) RecentOrders(instanceKey string, limit int) types.Result[[]types.OrderUpdate] {
	start := time.Now()
	all := c.instanceOrders(instanceKey)
	sort.Slice(all, func(i, j int) bool {
		return all[i].TransactionTime > all[j].TransactionTime
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return types.Ok(all, start)
}

// BySymbol returns the instance's orders for one symbol.
func (c *Cache) BySymbol(instanceKey, symbol string) types.Result[[]types.OrderUpdate] {
	start := time.Now()
	prefix := instanceKey + ":"
	out := c.orders.Filter(func(k string, o types.OrderUpdate) bool {
		return strings.HasPrefix(k, prefix) && o.Symbol == symbol
	})
	return types.Ok(out, start)
}

// ByStatus returns the instance's orders with the given status.
func (c *Cache) ByStatus(instanceKey string, status types.OrderStatus) types.Result[[]types.OrderUpdate] {
	start := time.Now()
	prefix := instanceKey + ":"
	out := c.orders.Filter(func(k string, o types.OrderUpdate) bool {
		return strings.HasPrefix(k, prefix) && o.OrderStatus == status
	})
	return types.Ok(out, start)
}

// OrderStats aggregates the instance's cached orders.
func (c *Cache) OrderStats(instanceKey string) types.Result[Stats] {
	start := time.Now()
	var s Stats
	for _, o := range c.instanceOrders(instanceKey) {
		s.Total++
		if o.OrderStatus.IsTerminal() {
			s.Terminal++
		}
	}
	prefix := instanceKey + ":"
	s.AlgoTotal = len(c.algos.Filter(func(k string, _ types.AlgoOrderUpdate) bool {
		return strings.HasPrefix(k, prefix)
	}))
	c.mu.RLock()
	s.Active = len(c.activeOrders[instanceKey])
	s.AlgoActive = len(c.activeAlgos[instanceKey])
	c.mu.RUnlock()
	return types.Ok(s, start)
}

// LastUpdate returns the epoch-ms time of the instance's last accepted write,
// zero when the instance has never written.
func (c *Cache) LastUpdate(instanceKey string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate[instanceKey]
}

// ClearInstance removes every order, algo order and index entry for one
// instance.
func (c *Cache) ClearInstance(instanceKey string) int {
	prefix := instanceKey + ":"
	removed := 0
	for _, k := range c.orders.Keys() {
		if strings.HasPrefix(k, prefix) && c.orders.Remove(k) {
			removed++
		}
	}
	for _, k := range c.algos.Keys() {
		if strings.HasPrefix(k, prefix) && c.algos.Remove(k) {
			removed++
		}
	}
	c.mu.Lock()
	delete(c.activeOrders, instanceKey)
	delete(c.activeAlgos, instanceKey)
	delete(c.lastUpdate, instanceKey)
	c.mu.Unlock()
	return removed
}

// Stats returns the substrate counters (orders substrate).
func (c *Cache) Stats() cache.Stats { return c.orders.Stats() }

// Name reports the name for assembly diagnostics.
func (c *Cache) Name() string { return c.orders.Name() }

// String implements fmt.Stringer.
func (c *Cache) String() string {
	return fmt.Sprintf("OrderCache(orders=%d, algos=%d)", c.orders.Size(), c.algos.Size())
}

// Dispose stops both substrates and drops the indexes. Idempotent.
func (c *Cache) Dispose() {
	c.disposeOnce.Do(func() {
		c.orders.Dispose()
		c.algos.Dispose()
		c.mu.Lock()
		c.activeOrders = make(map[string]map[int64]types.OrderUpdate)
		c.activeAlgos = make(map[string]map[int64]types.AlgoOrderUpdate)
		c.lastUpdate = make(map[string]int64)
		c.mu.Unlock()
	})
}
