package position

import (
	"testing"

	"futures-cache/internal/cache"
	"futures-cache/internal/events"
	"futures-cache/pkg/types"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cfg := cache.DefaultConfig("positions-test")
	cfg.CleanupInterval = 0
	c := New(cfg, nil)
	t.Cleanup(c.Dispose)
	return c
}

func long(symbol string, amt, entry float64, updateTime int64) types.Position {
	return types.Position{
		Symbol:       symbol,
		PositionSide: types.PositionBoth,
		PositionAmt:  amt,
		EntryPrice:   entry,
		MarkPrice:    entry,
		MarginType:   types.MarginCrossed,
		Leverage:     10,
		UpdateTime:   updateTime,
	}
}

func TestUpdateStoresAndReads(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)

	if !c.Update(long("BTCUSDT", 1, 100, 10)) {
		t.Fatal("update rejected")
	}
	p, ok := c.Get("BTCUSDT", types.PositionBoth)
	if !ok || p.PositionAmt != 1 {
		t.Fatalf("Get = %+v, %v", p, ok)
	}
	if !c.Has("BTCUSDT", types.PositionBoth) {
		t.Error("Has = false")
	}
}

// Property: a zero-quantity update removes the entry and emits exactly one
// positionClosed when a prior entry existed.
func TestZeroQuantityCloses(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)

	closed := 0
	c.Events().Subscribe(EventPositionClosed, func(data any, _ events.Context) error {
		ev := data.(PositionClosedEvent)
		if ev.Symbol != "BTCUSDT" || ev.PositionSide != types.PositionBoth {
			t.Errorf("event = %+v", ev)
		}
		closed++
		return nil
	})

	c.Update(long("BTCUSDT", 1, 100, 10))
	c.Update(long("BTCUSDT", 0, 0, 20))

	if c.Has("BTCUSDT", types.PositionBoth) {
		t.Error("position still cached after zero-quantity update")
	}
	if closed != 1 {
		t.Errorf("positionClosed events = %d, want 1", closed)
	}

	// Closing again must not emit.
	c.Update(long("BTCUSDT", 0, 0, 30))
	if closed != 1 {
		t.Errorf("positionClosed re-emitted: %d", closed)
	}
}

// Property: an update older than the cached entry leaves the cache unchanged.
func TestStaleUpdateRejected(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)

	c.Update(long("BTCUSDT", 1, 100, 20))
	if c.Update(long("BTCUSDT", 2, 105, 10)) {
		t.Fatal("stale update accepted")
	}
	p, _ := c.Get("BTCUSDT", types.PositionBoth)
	if p.PositionAmt != 1 || p.UpdateTime != 20 {
		t.Errorf("post-state = %+v, want pre-state", p)
	}

	// Equal update time is accepted as a retry.
	if !c.Update(long("BTCUSDT", 3, 105, 20)) {
		t.Error("equal-timestamp update rejected")
	}
}

func TestUpdateMarkPriceRecomputes(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)

	c.Update(long("BTCUSDT", 2, 100, 10))
	if !c.UpdateMarkPrice("BTCUSDT", 110, types.PositionBoth) {
		t.Fatal("UpdateMarkPrice returned false")
	}

	p, _ := c.Get("BTCUSDT", types.PositionBoth)
	if !types.EqualWithin(p.UnrealizedProfit, 20, 1e-9) { // +1 × (110-100) × 2
		t.Errorf("unrealized = %v, want 20", p.UnrealizedProfit)
	}
	if !types.EqualWithin(p.Notional, 220, 1e-9) {
		t.Errorf("notional = %v, want 220", p.Notional)
	}

	// Short side: profit when mark drops.
	c.Update(types.Position{Symbol: "ETHUSDT", PositionSide: types.PositionShort, PositionAmt: -5, EntryPrice: 200, UpdateTime: 10})
	c.UpdateMarkPrice("ETHUSDT", 190, types.PositionShort)
	p, _ = c.Get("ETHUSDT", types.PositionShort)
	if !types.EqualWithin(p.UnrealizedProfit, 50, 1e-9) { // -1 × (190-200) × 5
		t.Errorf("short unrealized = %v, want 50", p.UnrealizedProfit)
	}
}

func TestReplaceAllAndStats(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)

	c.Update(long("OLDUSDT", 1, 50, 10))

	var replaced []ReplacedEvent
	c.Events().Subscribe(EventReplaced, func(data any, _ events.Context) error {
		replaced = append(replaced, data.(ReplacedEvent))
		return nil
	})

	c.ReplaceAll([]types.Position{
		long("BTCUSDT", 1, 100, 20),
		{Symbol: "ETHUSDT", PositionSide: types.PositionShort, PositionAmt: -2, EntryPrice: 200, UpdateTime: 20},
		long("FLATUSDT", 0, 0, 20), // skipped
	})

	if c.Has("OLDUSDT", types.PositionBoth) {
		t.Error("old position survived ReplaceAll")
	}
	if len(replaced) != 1 || replaced[0].Count != 2 {
		t.Errorf("replaced events = %+v", replaced)
	}

	s := c.PositionStats()
	if s.Total != 2 || s.Long != 1 || s.Short != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestBySymbol(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)

	c.Update(types.Position{Symbol: "BTCUSDT", PositionSide: types.PositionLong, PositionAmt: 1, EntryPrice: 100, UpdateTime: 10})
	c.Update(types.Position{Symbol: "BTCUSDT", PositionSide: types.PositionShort, PositionAmt: -1, EntryPrice: 105, UpdateTime: 10})
	c.Update(long("ETHUSDT", 2, 200, 10))

	if got := len(c.BySymbol("BTCUSDT")); got != 2 {
		t.Errorf("BySymbol(BTCUSDT) = %d legs, want 2", got)
	}
	if got := len(c.Active()); got != 3 {
		t.Errorf("Active() = %d, want 3", got)
	}
}

// Property: comparing any active set against itself yields an empty delta.
func TestCompareIdentity(t *testing.T) {
	t.Parallel()
	set := []types.Position{
		long("BTCUSDT", 1, 100, 10),
		{Symbol: "ETHUSDT", PositionSide: types.PositionShort, PositionAmt: -3, EntryPrice: 200, MarkPrice: 201, UpdateTime: 10},
	}
	d := Compare(set, set)
	if !d.Empty() {
		t.Errorf("Compare(A, A) = %+v, want empty", d)
	}
}

func TestCompareCreateUpdateDelete(t *testing.T) {
	t.Parallel()
	cached := []types.Position{
		long("AAAUSDT", 1, 100, 10), // unchanged
		long("BBBUSDT", 2, 50, 10),  // will change
		long("CCCUSDT", 3, 30, 10),  // absent from source
		long("DDDUSDT", 4, 20, 10),  // flat in source
	}
	source := []types.Position{
		long("AAAUSDT", 1, 100, 20),
		long("BBBUSDT", 2.5, 50, 20),
		long("DDDUSDT", 0, 0, 20),
		long("EEEUSDT", 1, 10, 20), // new
	}

	d := Compare(cached, source)
	if len(d.ToCreate) != 1 || d.ToCreate[0].Symbol != "EEEUSDT" {
		t.Errorf("toCreate = %+v", d.ToCreate)
	}
	if len(d.ToUpdate) != 1 || d.ToUpdate[0].Symbol != "BBBUSDT" {
		t.Errorf("toUpdate = %+v", d.ToUpdate)
	}
	if len(d.ToDelete) != 2 {
		t.Errorf("toDelete = %+v", d.ToDelete)
	}
}

func TestCompareMergePreservesFields(t *testing.T) {
	t.Parallel()
	cached := []types.Position{{
		Symbol: "BTCUSDT", PositionSide: types.PositionBoth,
		PositionAmt: 1, EntryPrice: 100, MarkPrice: 102, RealizedProfit: 7.5, UpdateTime: 10,
	}}
	source := []types.Position{{
		Symbol: "BTCUSDT", PositionSide: types.PositionBoth,
		PositionAmt: 2, EntryPrice: 0, MarkPrice: 0, UpdateTime: 20,
	}}

	d := Compare(cached, source)
	if len(d.ToUpdate) != 1 {
		t.Fatalf("toUpdate = %+v", d.ToUpdate)
	}
	m := d.ToUpdate[0]
	if m.EntryPrice != 100 {
		t.Errorf("entry price = %v, want preserved 100", m.EntryPrice)
	}
	if m.MarkPrice != 102 {
		t.Errorf("mark price = %v, want preserved 102", m.MarkPrice)
	}
	if m.RealizedProfit != 7.5 {
		t.Errorf("realized = %v, want preserved 7.5", m.RealizedProfit)
	}
	if m.PositionAmt != 2 {
		t.Errorf("amt = %v, want source 2", m.PositionAmt)
	}
}

func TestApplyDeltaEmitsLifecycle(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	u := NewUpdater("tenant-1", c, nil)
	defer u.Dispose()

	c.Update(long("DELUSDT", 1, 10, 10))

	counts := map[string]int{}
	for _, name := range []string{EventPositionOpened, EventPositionUpdated, EventPositionClosedU, EventReconciled} {
		name := name
		u.Events().Subscribe(name, func(any, events.Context) error {
			counts[name]++
			return nil
		})
	}

	u.ApplyDelta(Delta{
		ToCreate: []types.Position{long("NEWUSDT", 1, 20, 20)},
		ToUpdate: []types.Position{long("DELUSDT", 2, 10, 20)},
		ToDelete: nil,
	})

	if counts[EventPositionOpened] != 1 || counts[EventPositionUpdated] != 1 {
		t.Errorf("events = %v", counts)
	}
	if counts[EventReconciled] != 1 {
		t.Errorf("reconciled = %d", counts[EventReconciled])
	}
}

func TestRefreshFromSnapshot(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	u := NewUpdater("tenant-1", c, nil)
	defer u.Dispose()

	c.Update(long("GONEUSDT", 1, 10, 10))
	c.Update(long("KEEPUSDT", 1, 20, 10))

	d := u.RefreshFromSnapshot([]types.Position{
		long("KEEPUSDT", 1, 20, 20),
		long("FRESHUSDT", 2, 30, 20),
	})

	if len(d.ToCreate) != 1 || len(d.ToDelete) != 1 {
		t.Errorf("delta = %+v", d)
	}
	if c.Has("GONEUSDT", types.PositionBoth) {
		t.Error("deleted position still cached")
	}
	if !c.Has("FRESHUSDT", types.PositionBoth) {
		t.Error("created position missing")
	}
}

// Scenario: +1 @ 100 reversed by a -2 @ 110 stream event.
func TestWsReversal(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	u := NewUpdater("tenant-1", c, nil)
	defer u.Dispose()

	c.Update(long("BTCUSDT", 1, 100, 10))

	res := u.UpdateFromWsEvent(long("BTCUSDT", -2, 110, 20))
	if res.StateChange != StateReversed {
		t.Fatalf("state = %s, want REVERSED", res.StateChange)
	}
	if res.Existing == nil || res.Existing.PositionAmt != 1 {
		t.Errorf("existing = %+v", res.Existing)
	}

	p, _ := c.Get("BTCUSDT", types.PositionBoth)
	if p.PositionAmt != -2 || p.EntryPrice != 110 {
		t.Errorf("cached = %+v", p)
	}
}

func TestWsStateChanges(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	u := NewUpdater("tenant-1", c, nil)
	defer u.Dispose()

	if res := u.UpdateFromWsEvent(long("BTCUSDT", 1, 100, 10)); res.StateChange != StateOpened {
		t.Errorf("first event state = %s, want OPENED", res.StateChange)
	}
	if res := u.UpdateFromWsEvent(long("BTCUSDT", 2, 100, 20)); res.StateChange != StateUpdated {
		t.Errorf("same-sign state = %s, want UPDATED", res.StateChange)
	}
	if res := u.UpdateFromWsEvent(long("BTCUSDT", 0, 0, 30)); res.StateChange != StateClosed {
		t.Errorf("flat state = %s, want CLOSED", res.StateChange)
	}
	if res := u.UpdateFromWsEvent(long("BTCUSDT", 0, 0, 40)); res.StateChange != StateUnchanged {
		t.Errorf("flat-on-empty state = %s, want UNCHANGED", res.StateChange)
	}
}

func TestWsMergePreservesEntryAndLeverage(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	u := NewUpdater("tenant-1", c, nil)
	defer u.Dispose()

	c.Update(types.Position{
		Symbol: "BTCUSDT", PositionSide: types.PositionBoth,
		PositionAmt: 1, EntryPrice: 100, MarkPrice: 101,
		Leverage: 20, LiquidationPrice: 80, UpdateTime: 10,
	})

	u.UpdateFromWsEvent(types.Position{
		Symbol: "BTCUSDT", PositionSide: types.PositionBoth,
		PositionAmt: 2, EntryPrice: 0, MarkPrice: 0,
	})

	p, _ := c.Get("BTCUSDT", types.PositionBoth)
	if p.EntryPrice != 100 || p.MarkPrice != 101 || p.Leverage != 20 || p.LiquidationPrice != 80 {
		t.Errorf("merged = %+v", p)
	}
}
