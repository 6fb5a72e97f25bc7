package registry

import (
	"testing"

	"futures-cache/internal/config"
	"futures-cache/pkg/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := config.Default()
	cfg.Cache.CleanupInterval = 0
	r := New(cfg, nil)
	t.Cleanup(r.Dispose)
	return r
}

func TestInstanceGetOrCreate(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	a, err := r.Instance("tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Instance("tenant-a")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("same key produced distinct instances")
	}
	if a.Key() != "tenant-a" {
		t.Errorf("key = %q", a.Key())
	}

	other, _ := r.Instance("tenant-b")
	if other == a {
		t.Error("distinct keys share an instance")
	}
	if len(r.InstanceKeys()) != 2 {
		t.Errorf("keys = %v", r.InstanceKeys())
	}
}

func TestInstancesShareDomainCaches(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	a, _ := r.Instance("tenant-a")
	b, _ := r.Instance("tenant-b")

	a.OrderUpdater().UpdateFromWsEvent(types.OrderUpdate{
		OrderID: 1, Symbol: "BTCUSDT", OrderStatus: types.OrderNew,
		ExecutionType: types.ExecNew, TransactionTime: 100,
	})

	if res := r.Orders().Get("tenant-a", 1); !res.Success {
		t.Error("tenant-a order not visible through shared cache")
	}
	if res := r.Orders().Get("tenant-b", 1); res.Success {
		t.Error("tenant-b sees tenant-a's order")
	}

	// Position caches are per instance.
	a.Positions().Update(types.Position{
		Symbol: "BTCUSDT", PositionSide: types.PositionBoth,
		PositionAmt: 1, EntryPrice: 100, UpdateTime: 10,
	})
	if b.Positions().Has("BTCUSDT", types.PositionBoth) {
		t.Error("tenant-b sees tenant-a's position")
	}
}

func TestRemoveClearsInstanceState(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	a, _ := r.Instance("tenant-a")
	a.OrderUpdater().UpdateFromWsEvent(types.OrderUpdate{
		OrderID: 1, Symbol: "BTCUSDT", OrderStatus: types.OrderNew,
		ExecutionType: types.ExecNew, TransactionTime: 100,
	})
	a.AccountUpdater().RefreshFromSnapshot(types.AccountBalance{
		Assets:             []types.AssetBalance{{Asset: "USDT", WalletBalance: 1000}},
		TotalWalletBalance: 1000,
		LastUpdate:         100,
	})

	if !r.Remove("tenant-a") {
		t.Fatal("Remove returned false for existing instance")
	}
	if r.Remove("tenant-a") {
		t.Error("Remove returned true for removed instance")
	}
	if res := r.Orders().Get("tenant-a", 1); res.Success {
		t.Error("orders survived instance removal")
	}
	if res := r.Accounts().Balance("tenant-a"); res.Success {
		t.Error("account survived instance removal")
	}
}

func TestDisposeIsTerminalAndIdempotent(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Cache.CleanupInterval = 0
	r := New(cfg, nil)

	r.Instance("tenant-a")
	r.Dispose()
	r.Dispose()

	if _, err := r.Instance("tenant-b"); err == nil {
		t.Error("disposed registry handed out an instance")
	}
	if len(r.InstanceKeys()) != 0 {
		t.Errorf("keys after dispose = %v", r.InstanceKeys())
	}
}

func TestSharedSymbolAndRateLimitCaches(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	r.Symbols().UpdateFromExchangeInfo([]types.SymbolInfo{{Symbol: "BTCUSDT", Status: "TRADING"}})
	if !r.Symbols().Has("BTCUSDT") {
		t.Error("symbol info not loaded")
	}

	r.RateLimits().Update("tenant-a", types.ClientRest, []types.RateLimit{{
		RateLimitType: types.LimitRequestWeight,
		Interval:      types.IntervalMinute,
		IntervalNum:   1,
		Count:         10,
		Limit:         2400,
	}})
	snap := r.RateLimits().RateLimits("tenant-a")
	if snap.RequestWeight.Used != 10 {
		t.Errorf("snapshot = %+v", snap)
	}
}
