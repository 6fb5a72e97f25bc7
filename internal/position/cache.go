// Package position maintains the per-instance view of open futures
// positions, reconciled from the user-data stream and REST snapshots.
//
// The cache only ever holds open positions: a zero-quantity update removes
// the entry. Keys are (symbol, positionSide) pairs so hedged LONG/SHORT legs
// coexist with one-way BOTH positions.
package position

import (
	"log/slog"

	"futures-cache/internal/cache"
	"futures-cache/internal/events"
	"futures-cache/pkg/types"
)

// Event names emitted by the Cache itself.
const (
	EventPositionClosed = "positionClosed"
	EventReplaced       = "replaced"
	EventCleared        = "cleared"
)

// PositionClosedEvent is emitted when a position entry leaves the cache.
type PositionClosedEvent struct {
	Symbol       string             `json:"symbol"`
	PositionSide types.PositionSide `json:"position_side"`
}

// ReplacedEvent is emitted by ReplaceAll.
type ReplacedEvent struct {
	Count int `json:"count"`
}

// Stats summarizes the cached position set.
type Stats struct {
	Total            int     `json:"total"`
	Long             int     `json:"long"`
	Short            int     `json:"short"`
	TotalNotional    float64 `json:"total_notional"`
	TotalUnrealized  float64 `json:"total_unrealized"`
	CacheStats       cache.Stats
}

// key builds the composite cache key. The delimiter cannot occur in either
// component: symbols are alphanumeric and sides are a closed enum.
func key(symbol string, side types.PositionSide) string {
	return symbol + "|" + string(side)
}

// Cache stores open positions keyed by (symbol, positionSide).
type Cache struct {
	cache.Domain[types.Position]
	events *events.Manager
	logger *slog.Logger
}

// New creates a position cache. Positions never expire; the reconcile loop
// is responsible for removing what the exchange no longer reports.
func New(cfg cache.Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "positions"
	}
	cfg.DefaultTTL = cache.NoExpiry
	return &Cache{
		Domain: cache.NewDomain[types.Position](cfg),
		events: events.NewManager(),
		logger: logger.With("component", "position-cache"),
	}
}

// Events exposes the cache's emitter for subscription.
func (c *Cache) Events() *events.Manager { return c.events }

// Update stores a position. A zero-quantity update removes any existing
// entry and emits positionClosed. An update older than the cached entry (by
// exchange update time) is rejected; equal times are accepted. Returns
// whether the cache changed.
func (c *Cache) Update(p types.Position) bool {
	k := key(p.Symbol, p.PositionSide)

	if p.IsFlat() {
		return c.Delete(p.Symbol, p.PositionSide)
	}

	if cur, ok := c.Store().Get(k); ok && p.UpdateTime != 0 && p.UpdateTime < cur.UpdateTime {
		c.logger.Warn("rejected stale position update",
			"symbol", p.Symbol,
			"side", p.PositionSide,
			"incoming", p.UpdateTime,
			"cached", cur.UpdateTime,
		)
		return false
	}

	if p.UpdateTime == 0 {
		p.UpdateTime = types.NowMs()
	}
	c.Store().Set(k, p)
	return true
}

// Delete removes a position entry, emitting positionClosed if it existed.
func (c *Cache) Delete(symbol string, side types.PositionSide) bool {
	if !c.Store().Remove(key(symbol, side)) {
		return false
	}
	c.events.Emit(EventPositionClosed, PositionClosedEvent{Symbol: symbol, PositionSide: side})
	return true
}

// UpdateMarkPrice refreshes the mark price of an existing position and
// recomputes unrealized profit and notional from it:
// unrealized = sign(amt) × (mark − entry) × |amt|.
func (c *Cache) UpdateMarkPrice(symbol string, markPrice float64, side types.PositionSide) bool {
	k := key(symbol, side)
	p, ok := c.Store().Get(k)
	if !ok {
		return false
	}
	p.MarkPrice = markPrice
	p.UnrealizedProfit = p.Sign() * (markPrice - p.EntryPrice) * p.AbsAmt()
	p.Notional = markPrice * p.AbsAmt()
	c.Store().Set(k, p)
	return true
}

// UpdateLeverage sets the leverage of an existing position.
func (c *Cache) UpdateLeverage(symbol string, side types.PositionSide, leverage int) bool {
	k := key(symbol, side)
	p, ok := c.Store().Get(k)
	if !ok {
		return false
	}
	p.Leverage = leverage
	c.Store().Set(k, p)
	return true
}

// ReplaceAll swaps the entire position set for the given one, skipping flat
// entries, and emits replaced with the new count.
func (c *Cache) ReplaceAll(positions []types.Position) {
	c.Store().Clear()
	count := 0
	for _, p := range positions {
		if p.IsFlat() {
			continue
		}
		if p.UpdateTime == 0 {
			p.UpdateTime = types.NowMs()
		}
		c.Store().Set(key(p.Symbol, p.PositionSide), p)
		count++
	}
	c.events.Emit(EventReplaced, ReplacedEvent{Count: count})
}

// Get returns the position for (symbol, side).
func (c *Cache) Get(symbol string, side types.PositionSide) (types.Position, bool) {
	return c.Store().Get(key(symbol, side))
}

// Has reports whether a position is cached for (symbol, side).
func (c *Cache) Has(symbol string, side types.PositionSide) bool {
	return c.Store().Has(key(symbol, side))
}

// BySymbol returns all cached legs for a symbol.
func (c *Cache) BySymbol(symbol string) []types.Position {
	return c.Store().Filter(func(_ string, p types.Position) bool {
		return p.Symbol == symbol
	})
}

// Active returns all open positions. Entries are only stored when non-flat,
// so this is the full cache contents.
func (c *Cache) Active() []types.Position {
	return c.Store().Filter(func(_ string, p types.Position) bool {
		return !p.IsFlat()
	})
}

// PositionStats aggregates the cached set.
func (c *Cache) PositionStats() Stats {
	s := Stats{CacheStats: c.Stats()}
	c.Store().ForEach(func(_ string, p types.Position) {
		s.Total++
		if p.Sign() > 0 {
			s.Long++
		} else if p.Sign() < 0 {
			s.Short++
		}
		s.TotalNotional += p.Notional
		s.TotalUnrealized += p.UnrealizedProfit
	})
	return s
}

// Clear removes every position and emits cleared.
func (c *Cache) Clear() {
	c.Domain.Clear()
	c.events.Emit(EventCleared, nil)
}

// Dispose clears entries and removes all listeners. Idempotent.
func (c *Cache) Dispose() {
	c.Domain.Dispose()
	c.events.Clear()
}
