// Package symbolinfo caches per-symbol trading rules and validates prices
// and quantities against them.
//
// Rules come from the exchange-info endpoint and only change on exchange
// maintenance, so entries never expire and are pinned against eviction.
// Validation is permissive: a missing symbol or filter accepts the value,
// because rejecting an order for rules we simply have not loaded yet is
// worse than letting the exchange reject it.
package symbolinfo

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"futures-cache/internal/cache"
	"futures-cache/pkg/types"
)

const errSymbolNotFound = "Symbol info not found"

// Cache stores trading rules keyed by symbol.
type Cache struct {
	cache.Domain[types.SymbolInfo]
	logger *slog.Logger
}

// New creates a symbol-info cache.
func New(cfg cache.Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "symbolinfo"
	}
	cfg.DefaultTTL = cache.NoExpiry
	return &Cache{
		Domain: cache.NewDomain[types.SymbolInfo](cfg),
		logger: logger.With("component", "symbolinfo-cache"),
	}
}

// UpdateFromExchangeInfo bulk-loads symbol rules. Entries are pinned so LRU
// pressure from other uses of a shared config never drops trading rules.
func (c *Cache) UpdateFromExchangeInfo(symbols []types.SymbolInfo) int {
	for _, s := range symbols {
		c.Store().Set(s.Symbol, s, cache.WithPriority(cache.PriorityNeverRemove))
	}
	c.logger.Info("exchange info loaded", "symbols", len(symbols))
	return len(symbols)
}

// Get returns the rules for one symbol.
func (c *Cache) Get(symbol string) types.Result[types.SymbolInfo] {
	start := time.Now()
	s, ok := c.Store().Get(symbol)
	if !ok {
		return types.Fail[types.SymbolInfo](errSymbolNotFound, start)
	}
	return types.Ok(s, start)
}

// Has reports whether rules are loaded for the symbol.
func (c *Cache) Has(symbol string) bool {
	return c.Store().Has(symbol)
}

// Symbols returns every loaded symbol name.
func (c *Cache) Symbols() []string {
	return c.Store().Keys()
}

// PriceFilter returns the symbol's price filter.
func (c *Cache) PriceFilter(symbol string) (types.SymbolFilter, bool) {
	return c.filter(symbol, types.FilterPrice)
}

// LotSizeFilter returns the symbol's lot-size filter.
func (c *Cache) LotSizeFilter(symbol string) (types.SymbolFilter, bool) {
	return c.filter(symbol, types.FilterLotSize)
}

// MarketLotSizeFilter returns the symbol's market lot-size filter.
func (c *Cache) MarketLotSizeFilter(symbol string) (types.SymbolFilter, bool) {
	return c.filter(symbol, types.FilterMarketLotSize)
}

// MinNotionalFilter returns the symbol's min-notional filter.
func (c *Cache) MinNotionalFilter(symbol string) (types.SymbolFilter, bool) {
	return c.filter(symbol, types.FilterMinNotional)
}

func (c *Cache) filter(symbol string, ft types.FilterType) (types.SymbolFilter, bool) {
	s, ok := c.Store().Get(symbol)
	if !ok {
		return types.SymbolFilter{}, false
	}
	return s.Filter(ft)
}

// ValidatePrice checks the price against the symbol's price filter: within
// [minPrice, maxPrice] and on the tick grid.
func (c *Cache) ValidatePrice(symbol string, price float64) bool {
	f, ok := c.PriceFilter(symbol)
	if !ok {
		return true
	}
	if f.MinPrice > 0 && price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && price > f.MaxPrice {
		return false
	}
	return onGrid(price, f.TickSize)
}

// ValidateQuantity checks the quantity against the lot-size filter.
func (c *Cache) ValidateQuantity(symbol string, quantity float64) bool {
	f, ok := c.LotSizeFilter(symbol)
	if !ok {
		return true
	}
	if f.MinQty > 0 && quantity < f.MinQty {
		return false
	}
	if f.MaxQty > 0 && quantity > f.MaxQty {
		return false
	}
	return onGrid(quantity, f.StepSize)
}

// ValidateNotional checks that price × quantity clears the minimum order
// value.
func (c *Cache) ValidateNotional(symbol string, price, quantity float64) bool {
	f, ok := c.MinNotionalFilter(symbol)
	if !ok || f.Notional <= 0 {
		return true
	}
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(quantity))
	return notional.GreaterThanOrEqual(decimal.NewFromFloat(f.Notional))
}

// RoundPriceToTick floors the price to the symbol's tick grid.
func (c *Cache) RoundPriceToTick(symbol string, price float64) float64 {
	f, ok := c.PriceFilter(symbol)
	if !ok || f.TickSize <= 0 {
		return price
	}
	return floorToStep(price, f.TickSize)
}

// RoundQuantityToStep floors the quantity to the symbol's step grid.
func (c *Cache) RoundQuantityToStep(symbol string, quantity float64) float64 {
	f, ok := c.LotSizeFilter(symbol)
	if !ok || f.StepSize <= 0 {
		return quantity
	}
	return floorToStep(quantity, f.StepSize)
}

// onGrid reports whether v sits on the grid of the given step, within the
// shared absolute tolerance. Decimal arithmetic avoids the float residue of
// e.g. 0.3 mod 0.1.
func onGrid(v, step float64) bool {
	if step <= 0 {
		return true
	}
	rem := decimal.NewFromFloat(v).Mod(decimal.NewFromFloat(step)).Abs()
	if rem.LessThanOrEqual(decimal.NewFromFloat(types.PriceTolerance)) {
		return true
	}
	// A value one tolerance short of the next grid line is also on grid.
	return decimal.NewFromFloat(step).Sub(rem).LessThanOrEqual(decimal.NewFromFloat(types.PriceTolerance))
}

// floorToStep returns the largest multiple of step not exceeding v.
func floorToStep(v, step float64) float64 {
	d := decimal.NewFromFloat(v)
	s := decimal.NewFromFloat(step)
	out, _ := d.Div(s).Floor().Mul(s).Float64()
	return out
}
