// Package ratelimit caches the API usage counters the exchange reports in
// response headers and stream payloads, keyed per instance and transport.
package ratelimit

import (
	"log/slog"
	"time"

	"futures-cache/internal/cache"
	"futures-cache/pkg/types"
)

const errNoRateLimits = "No rate limit data"

// Entry is the cached counter set reported by one transport.
type Entry struct {
	RateLimits  []types.RateLimit     `json:"rate_limits"`
	LastUpdated int64                 `json:"last_updated"`
	Source      types.RateLimitClient `json:"source"`
}

// LimitSummary is one counter with derived headroom.
type LimitSummary struct {
	Type      types.RateLimitType     `json:"type"`
	Interval  types.RateLimitInterval `json:"interval"`
	Used      int64                   `json:"used"`
	Limit     int64                   `json:"limit"`
	Remaining int64                   `json:"remaining"`
	// ResetIn is milliseconds until the current window rolls over.
	ResetIn int64 `json:"reset_in"`
}

// Usage is a used/limit pair.
type Usage struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

// Snapshot collapses every transport's counters into the two limits callers
// throttle on.
type Snapshot struct {
	RequestWeight Usage `json:"request_weight"`
	Orders        Usage `json:"orders"`
}

// Exchange defaults used when no counter has been observed yet.
const (
	DefaultWeightLimit = 2400
	DefaultOrderLimit  = 300
)

func key(instanceKey string, client types.RateLimitClient) string {
	return instanceKey + ":" + string(client)
}

// Cache stores rate-limit counters keyed "{instanceKey}:{client}".
type Cache struct {
	cache.Domain[Entry]
	logger *slog.Logger
}

// New creates a rate-limit cache. Counters go stale quickly, so the TTL from
// cfg applies as-is.
func New(cfg cache.Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "ratelimits"
	}
	return &Cache{
		Domain: cache.NewDomain[Entry](cfg),
		logger: logger.With("component", "ratelimit-cache"),
	}
}

// Update stores the counters reported by one transport. Counters arriving on
// the user-data stream are recorded with a websocket source, since that is
// the connection they consume.
func (c *Cache) Update(instanceKey string, client types.RateLimitClient, limits []types.RateLimit) {
	source := client
	if client == types.ClientUserdata {
		source = types.ClientWebsocket
	}
	c.Store().Set(key(instanceKey, client), Entry{
		RateLimits:  limits,
		LastUpdated: types.NowMs(),
		Source:      source,
	})
}

// Get returns the raw entry for one transport.
func (c *Cache) Get(instanceKey string, client types.RateLimitClient) (Entry, bool) {
	return c.Store().Get(key(instanceKey, client))
}

// Summary returns derived headroom per counter for one transport.
func (c *Cache) Summary(instanceKey string, client types.RateLimitClient) types.Result[[]LimitSummary] {
	start := time.Now()
	e, ok := c.Store().Get(key(instanceKey, client))
	if !ok {
		return types.Fail[[]LimitSummary](errNoRateLimits, start)
	}

	now := time.Now()
	out := make([]LimitSummary, 0, len(e.RateLimits))
	for _, rl := range e.RateLimits {
		out = append(out, LimitSummary{
			Type:      rl.RateLimitType,
			Interval:  rl.Interval,
			Used:      rl.Count,
			Limit:     rl.Limit,
			Remaining: rl.Limit - rl.Count,
			ResetIn:   msUntilWindowBoundary(now, rl.Interval, rl.IntervalNum),
		})
	}
	return types.Ok(out, start)
}

// RateLimits collapses every transport's counters into one snapshot of the
// request-weight and order limits, keeping the highest observed usage per
// type. Exchange defaults apply when nothing has been observed.
func (c *Cache) RateLimits(instanceKey string) Snapshot {
	snap := Snapshot{
		RequestWeight: Usage{Limit: DefaultWeightLimit},
		Orders:        Usage{Limit: DefaultOrderLimit},
	}
	for _, client := range []types.RateLimitClient{types.ClientRest, types.ClientWebsocket, types.ClientUserdata} {
		e, ok := c.Store().Get(key(instanceKey, client))
		if !ok {
			continue
		}
		for _, rl := range e.RateLimits {
			switch rl.RateLimitType {
			case types.LimitRequestWeight:
				if rl.Count > snap.RequestWeight.Used {
					snap.RequestWeight = Usage{Used: rl.Count, Limit: rl.Limit}
				}
			case types.LimitOrders:
				if rl.Count > snap.Orders.Used {
					snap.Orders = Usage{Used: rl.Count, Limit: rl.Limit}
				}
			}
		}
	}
	return snap
}

// msUntilWindowBoundary computes milliseconds until the counter's window
// rolls over. SECOND and MINUTE windows are aligned to epoch multiples; DAY
// windows reset at local midnight, matching the exchange's daily counters.
func msUntilWindowBoundary(now time.Time, interval types.RateLimitInterval, intervalNum int) int64 {
	if intervalNum <= 0 {
		intervalNum = 1
	}
	nowMs := now.UnixMilli()
	switch interval {
	case types.IntervalSecond:
		window := int64(intervalNum) * 1000
		return window - nowMs%window
	case types.IntervalMinute:
		window := int64(intervalNum) * 60_000
		return window - nowMs%window
	case types.IntervalDay:
		y, m, d := now.Date()
		midnight := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
		return midnight.UnixMilli() - nowMs
	default:
		return 0
	}
}
