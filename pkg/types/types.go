// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the cache core — order and
// position records, account balances, exchange symbol rules, and rate-limit
// counters as reported by the derivatives exchange. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import "time"

// Numeric tolerances. Prices and quantities arrive as floats parsed upstream,
// so all comparisons must allow for representation error.
const (
	// PriceTolerance is the absolute tolerance for quantity/price equality.
	PriceTolerance = 1e-8

	// BalanceEmitTolerance is the minimum wallet-balance delta that counts
	// as a change worth notifying downstream about.
	BalanceEmitTolerance = 1e-7
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// PositionSide identifies which leg of a hedged position a record refers to.
// BOTH is used in one-way position mode.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
	PositionBoth  PositionSide = "BOTH"
)

// MarginType is the margin mode of a position.
type MarginType string

const (
	MarginIsolated MarginType = "ISOLATED"
	MarginCrossed  MarginType = "CROSSED"
)

// ExecutionType is the reason a regular-order event was generated.
type ExecutionType string

const (
	ExecNew        ExecutionType = "NEW"
	ExecTrade      ExecutionType = "TRADE"
	ExecCanceled   ExecutionType = "CANCELED"
	ExecExpired    ExecutionType = "EXPIRED"
	ExecAmendment  ExecutionType = "AMENDMENT"
	ExecCalculated ExecutionType = "CALCULATED" // liquidation execution
)

// OrderStatus is the lifecycle status of a regular order.
type OrderStatus string

const (
	OrderNew            OrderStatus = "NEW"
	OrderPartiallyFill  OrderStatus = "PARTIALLY_FILLED"
	OrderFilled         OrderStatus = "FILLED"
	OrderCanceled       OrderStatus = "CANCELED"
	OrderExpired        OrderStatus = "EXPIRED"
	OrderExpiredInMatch OrderStatus = "EXPIRED_IN_MATCH"
)

// IsActive reports whether the order can still trade.
func (s OrderStatus) IsActive() bool {
	return s == OrderNew || s == OrderPartiallyFill
}

// IsTerminal reports whether the order will receive no further changes.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderExpired, OrderExpiredInMatch:
		return true
	}
	return false
}

// AlgoOrderStatus is the lifecycle status of a conditional (algo) order
// managed by the exchange's algorithmic service.
type AlgoOrderStatus string

const (
	AlgoNew        AlgoOrderStatus = "NEW"
	AlgoTriggering AlgoOrderStatus = "TRIGGERING"
	AlgoTriggered  AlgoOrderStatus = "TRIGGERED"
	AlgoFinished   AlgoOrderStatus = "FINISHED"
	AlgoExecuted   AlgoOrderStatus = "EXECUTED"
	AlgoRejected   AlgoOrderStatus = "REJECTED"
	AlgoCancelled  AlgoOrderStatus = "CANCELLED"
	AlgoExpired    AlgoOrderStatus = "EXPIRED"
)

// IsActive reports whether the algo order may still fire.
func (s AlgoOrderStatus) IsActive() bool {
	return s == AlgoNew || s == AlgoTriggering || s == AlgoTriggered
}

// IsTerminal reports whether the algo order is done.
func (s AlgoOrderStatus) IsTerminal() bool {
	return s != "" && !s.IsActive()
}

// ————————————————————————————————————————————————————————————————————————
// Account
// ————————————————————————————————————————————————————————————————————————

// AssetBalance holds the per-asset margin fields of a futures account.
type AssetBalance struct {
	Asset                  string  `json:"asset"`
	WalletBalance          float64 `json:"wallet_balance"`
	CrossWalletBalance     float64 `json:"cross_wallet_balance"`
	AvailableBalance       float64 `json:"available_balance"`
	UnrealizedProfit       float64 `json:"unrealized_profit"`
	MarginBalance          float64 `json:"margin_balance"`
	InitialMargin          float64 `json:"initial_margin"`
	MaintMargin            float64 `json:"maint_margin"`
	PositionInitialMargin  float64 `json:"position_initial_margin"`
	OpenOrderInitialMargin float64 `json:"open_order_initial_margin"`
	MaxWithdrawAmount      float64 `json:"max_withdraw_amount"`
}

// AccountBalance is the full account snapshot. The embedded position list is
// duplicated from the position cache and may lag it; the position cache is
// authoritative for per-symbol state.
type AccountBalance struct {
	Assets                []AssetBalance `json:"assets"`
	Positions             []Position     `json:"positions"`
	TotalWalletBalance    float64        `json:"total_wallet_balance"`
	TotalUnrealizedProfit float64        `json:"total_unrealized_profit"`
	TotalMarginBalance    float64        `json:"total_margin_balance"`

	// LastUpdate is the exchange transaction time of this snapshot in
	// epoch milliseconds.
	LastUpdate int64 `json:"last_update"`
}

// Asset returns the balance record for an asset symbol.
func (b *AccountBalance) Asset(name string) (AssetBalance, bool) {
	for _, a := range b.Assets {
		if a.Asset == name {
			return a, true
		}
	}
	return AssetBalance{}, false
}

// WSBalanceUpdate is one per-asset delta from an account WebSocket event,
// already parsed by the upstream decoder.
type WSBalanceUpdate struct {
	Asset              string  `json:"asset"`
	WalletBalance      float64 `json:"wallet_balance"`
	CrossWalletBalance float64 `json:"cross_wallet_balance"`
	BalanceChange      float64 `json:"balance_change"`
}

// ————————————————————————————————————————————————————————————————————————
// Positions
// ————————————————————————————————————————————————————————————————————————

// Position is the cached state of one (symbol, positionSide) leg.
// PositionAmt is signed: positive long, negative short, zero closed.
type Position struct {
	Symbol           string       `json:"symbol"`
	PositionSide     PositionSide `json:"position_side"`
	PositionAmt      float64      `json:"position_amt"`
	EntryPrice       float64      `json:"entry_price"`
	MarkPrice        float64      `json:"mark_price"`
	UnrealizedProfit float64      `json:"unrealized_profit"`
	RealizedProfit   float64      `json:"realized_profit"`
	MarginType       MarginType   `json:"margin_type"`
	Leverage         int          `json:"leverage"`
	LiquidationPrice float64      `json:"liquidation_price"`
	Notional         float64      `json:"notional"`
	IsolatedWallet   float64      `json:"isolated_wallet"`

	// UpdateTime is the exchange update time in epoch milliseconds.
	UpdateTime int64 `json:"update_time"`
}

// IsFlat reports whether the position is closed (zero quantity within tolerance).
func (p *Position) IsFlat() bool {
	return p.PositionAmt < PriceTolerance && p.PositionAmt > -PriceTolerance
}

// Sign returns +1 for a long position, -1 for a short one, 0 when flat.
func (p *Position) Sign() float64 {
	switch {
	case p.PositionAmt > PriceTolerance:
		return 1
	case p.PositionAmt < -PriceTolerance:
		return -1
	}
	return 0
}

// AbsAmt returns the unsigned position quantity.
func (p *Position) AbsAmt() float64 {
	if p.PositionAmt < 0 {
		return -p.PositionAmt
	}
	return p.PositionAmt
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderUpdate is the cached state of one regular (matching-engine) order.
// It is produced both by the user-data stream decoder and by the REST
// open-orders snapshot mapper.
type OrderUpdate struct {
	OrderID          int64         `json:"order_id"`
	ClientOrderID    string        `json:"client_order_id"`
	Symbol           string        `json:"symbol"`
	Side             Side          `json:"side"`
	OrderType        string        `json:"order_type"`
	OriginalQuantity float64       `json:"original_quantity"`
	FilledQuantity   float64       `json:"filled_quantity"`
	OriginalPrice    float64       `json:"original_price"`
	AveragePrice     float64       `json:"average_price"`
	StopPrice        float64       `json:"stop_price"`
	ExecutionType    ExecutionType `json:"execution_type"`
	OrderStatus      OrderStatus   `json:"order_status"`
	ReduceOnly       bool          `json:"reduce_only"`

	// Epoch-millisecond timestamps from the exchange.
	EventTime       int64 `json:"event_time"`
	TransactionTime int64 `json:"transaction_time"`
	TradeTime       int64 `json:"trade_time"`
}

// AlgoOrderUpdate is the cached state of one conditional order. OrderID is
// zero until the algo fires and the exchange places the child live order.
type AlgoOrderUpdate struct {
	AlgoID          int64           `json:"algo_id"`
	ClientAlgoID    string          `json:"client_algo_id"`
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	OrderType       string          `json:"order_type"`
	Quantity        float64         `json:"quantity"`
	TriggerPrice    float64         `json:"trigger_price"`
	LimitPrice      float64         `json:"limit_price"`
	AlgoStatus      AlgoOrderStatus `json:"algo_status"`
	OrderID         int64           `json:"order_id"` // child order, set once triggered
	EventTime       int64           `json:"event_time"`
	TransactionTime int64           `json:"transaction_time"`
}

// ————————————————————————————————————————————————————————————————————————
// Symbol rules
// ————————————————————————————————————————————————————————————————————————

// FilterType enumerates the exchange filter records this core understands.
type FilterType string

const (
	FilterPrice         FilterType = "PRICE_FILTER"
	FilterLotSize       FilterType = "LOT_SIZE"
	FilterMarketLotSize FilterType = "MARKET_LOT_SIZE"
	FilterMinNotional   FilterType = "MIN_NOTIONAL"
)

// SymbolFilter is one trading rule attached to a symbol. Only the fields
// relevant to the filter type are populated.
type SymbolFilter struct {
	FilterType FilterType `json:"filter_type"`
	MinPrice   float64    `json:"min_price"`
	MaxPrice   float64    `json:"max_price"`
	TickSize   float64    `json:"tick_size"`
	MinQty     float64    `json:"min_qty"`
	MaxQty     float64    `json:"max_qty"`
	StepSize   float64    `json:"step_size"`
	Notional   float64    `json:"notional"`
}

// SymbolInfo holds the exchange trading rules for one symbol.
// Rules change only on exchange maintenance, so entries never expire.
type SymbolInfo struct {
	Symbol  string         `json:"symbol"`
	Status  string         `json:"status"` // e.g. "TRADING"
	Filters []SymbolFilter `json:"filters"`
}

// Filter returns the filter record of the given type.
func (s *SymbolInfo) Filter(ft FilterType) (SymbolFilter, bool) {
	for _, f := range s.Filters {
		if f.FilterType == ft {
			return f, true
		}
	}
	return SymbolFilter{}, false
}

// ————————————————————————————————————————————————————————————————————————
// Rate limits
// ————————————————————————————————————————————————————————————————————————

// RateLimitClient identifies which transport reported a rate-limit header.
type RateLimitClient string

const (
	ClientRest      RateLimitClient = "rest"
	ClientWebsocket RateLimitClient = "websocket"
	ClientUserdata  RateLimitClient = "userdata"
)

// RateLimitType is the exchange limit category.
type RateLimitType string

const (
	LimitRequestWeight RateLimitType = "REQUEST_WEIGHT"
	LimitOrders        RateLimitType = "ORDERS"
	LimitRawRequests   RateLimitType = "RAW_REQUESTS"
)

// RateLimitInterval is the window unit of a rate limit.
type RateLimitInterval string

const (
	IntervalSecond RateLimitInterval = "SECOND"
	IntervalMinute RateLimitInterval = "MINUTE"
	IntervalDay    RateLimitInterval = "DAY"
)

// RateLimit is one counter as reported by the exchange: Count used out of
// Limit within the (Interval × IntervalNum) window.
type RateLimit struct {
	RateLimitType RateLimitType     `json:"rate_limit_type"`
	Interval      RateLimitInterval `json:"interval"`
	IntervalNum   int               `json:"interval_num"`
	Count         int64             `json:"count"`
	Limit         int64             `json:"limit"`
}

// ————————————————————————————————————————————————————————————————————————
// Read envelope
// ————————————————————————————————————————————————————————————————————————

// Result is the uniform envelope returned by every lock-free read method.
// Reads never return a Go error for missing data; Success is false and Error
// carries a human-readable reason instead.
type Result[T any] struct {
	Success   bool    `json:"success"`
	Data      T       `json:"data,omitempty"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
	Timestamp int64   `json:"timestamp"` // epoch milliseconds

	// StaleMs is the age of the data in milliseconds, where the read
	// supports it (account balance). Zero when not applicable.
	StaleMs int64 `json:"stale_ms,omitempty"`
}

// Ok builds a successful Result measured from start.
func Ok[T any](data T, start time.Time) Result[T] {
	return Result[T]{
		Success:   true,
		Data:      data,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Fail builds a failed Result with the given reason.
func Fail[T any](reason string, start time.Time) Result[T] {
	return Result[T]{
		Success:   false,
		Error:     reason,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NowMs returns the current wall clock in epoch milliseconds, the unit used
// for every exchange timestamp in this package.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// EqualWithin reports whether two floats are equal within tol.
func EqualWithin(a, b, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}
