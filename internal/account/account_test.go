package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"futures-cache/internal/events"
	"futures-cache/pkg/types"
)

const inst = "tenant-1"

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Cache.CleanupInterval = 0
	c := New(cfg, nil)
	t.Cleanup(c.Dispose)
	return c
}

func usdtBalance(wallet float64, lastUpdate int64) types.AccountBalance {
	return types.AccountBalance{
		Assets: []types.AssetBalance{{
			Asset:            "USDT",
			WalletBalance:    wallet,
			AvailableBalance: wallet,
		}},
		TotalWalletBalance: wallet,
		LastUpdate:         lastUpdate,
	}
}

func TestBalanceNotFetched(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)

	res := c.Balance(inst)
	if res.Success {
		t.Fatal("read of missing instance succeeded")
	}
	if res.Error != "Account balance not yet fetched" {
		t.Errorf("error = %q", res.Error)
	}
}

func TestUpdateAndRead(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)

	if !c.Update(inst, usdtBalance(1000, 100), 100) {
		t.Fatal("initial update rejected")
	}

	res := c.Balance(inst)
	if !res.Success {
		t.Fatalf("read failed: %s", res.Error)
	}
	if res.Data.TotalWalletBalance != 1000 {
		t.Errorf("TotalWalletBalance = %v", res.Data.TotalWalletBalance)
	}
	if res.StaleMs < 0 {
		t.Errorf("StaleMs = %d", res.StaleMs)
	}

	e, _ := c.Get(inst)
	if e.FetchCount != 1 || e.Errors != 0 {
		t.Errorf("entry = %+v", e)
	}
}

func TestStaleSnapshotRejected(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)

	c.Update(inst, usdtBalance(1000, 200), 200)
	if c.Update(inst, usdtBalance(500, 100), 100) {
		t.Fatal("older snapshot accepted")
	}

	res := c.Balance(inst)
	if res.Data.TotalWalletBalance != 1000 {
		t.Errorf("balance = %v after stale update, want 1000", res.Data.TotalWalletBalance)
	}

	// Equal transaction time is a retry, not stale.
	if !c.Update(inst, usdtBalance(1100, 200), 200) {
		t.Error("equal-timestamp update rejected")
	}
}

func TestRecordErrorCounts(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)

	c.Update(inst, usdtBalance(1000, 100), 100)
	c.RecordError(inst)
	c.RecordError(inst)

	e, _ := c.Get(inst)
	if e.Errors != 2 {
		t.Errorf("Errors = %d, want 2", e.Errors)
	}

	// A successful update resets the error count.
	c.Update(inst, usdtBalance(1000, 300), 300)
	e, _ = c.Get(inst)
	if e.Errors != 0 {
		t.Errorf("Errors after update = %d, want 0", e.Errors)
	}
}

func TestAutoRefreshInvokesCallback(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	c.SetRefreshInterval(10 * time.Millisecond)

	var mu sync.Mutex
	calls := 0
	c.StartAutoRefresh(inst, func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	c.StopAutoRefresh(inst)

	mu.Lock()
	n := calls
	mu.Unlock()
	if n < 2 {
		t.Errorf("callback calls = %d, want >= 2", n)
	}

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	after := calls
	mu.Unlock()
	if after != n {
		t.Errorf("callback still running after stop: %d -> %d", n, after)
	}
}

func TestAutoRefreshErrorCounted(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	c.Update(inst, usdtBalance(1000, 100), 100)
	c.SetRefreshInterval(10 * time.Millisecond)

	c.StartAutoRefresh(inst, func(context.Context) error {
		return errors.New("upstream down")
	})
	time.Sleep(35 * time.Millisecond)
	c.StopAutoRefresh(inst)

	e, _ := c.Get(inst)
	if e.Errors == 0 {
		t.Error("callback failures not recorded")
	}
}

func TestDisposeStopsTimers(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Cache.CleanupInterval = 0
	c := New(cfg, nil)
	c.SetRefreshInterval(5 * time.Millisecond)

	var mu sync.Mutex
	calls := 0
	c.StartAutoRefresh(inst, func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	time.Sleep(15 * time.Millisecond)
	c.Dispose()
	c.Dispose() // idempotent

	mu.Lock()
	n := calls
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	after := calls
	mu.Unlock()
	if after != n {
		t.Error("refresh loop survived dispose")
	}
}

// Scenario: prior USDT balance 1000, snapshot arrives at 1250.0000001.
func TestSnapshotDeltaEmission(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	u := NewUpdater(inst, c, nil)
	defer u.Dispose()

	u.RefreshFromSnapshot(usdtBalance(1000, 100))

	var updated []BalanceUpdatedEvent
	var synced []AccountSyncedEvent
	u.Events().Subscribe(EventBalanceUpdated, func(data any, _ events.Context) error {
		updated = append(updated, data.(BalanceUpdatedEvent))
		return nil
	})
	u.Events().Subscribe(EventAccountSynced, func(data any, _ events.Context) error {
		synced = append(synced, data.(AccountSyncedEvent))
		return nil
	})

	u.RefreshFromSnapshot(usdtBalance(1250.0000001, 200))

	if len(updated) != 1 {
		t.Fatalf("balanceUpdated events = %d, want 1", len(updated))
	}
	ev := updated[0]
	if ev.Asset != "USDT" || ev.PreviousBalance != 1000 || ev.NewBalance != 1250.0000001 {
		t.Errorf("event = %+v", ev)
	}
	if !types.EqualWithin(ev.Change, 250.0000001, 1e-9) {
		t.Errorf("change = %v", ev.Change)
	}
	if len(synced) != 1 || synced[0].AssetCount != 1 {
		t.Errorf("accountSynced = %+v", synced)
	}
}

func TestSnapshotBelowToleranceNotEmitted(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	u := NewUpdater(inst, c, nil)
	defer u.Dispose()

	u.RefreshFromSnapshot(usdtBalance(1000, 100))

	emitted := 0
	u.Events().Subscribe(EventBalanceUpdated, func(any, events.Context) error {
		emitted++
		return nil
	})

	u.RefreshFromSnapshot(usdtBalance(1000+5e-8, 200))
	if emitted != 0 {
		t.Errorf("emitted = %d for sub-tolerance change", emitted)
	}
}

func TestWsEventBuildsMinimalBalance(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	u := NewUpdater(inst, c, nil)
	defer u.Dispose()

	u.UpdateFromWsEvent([]types.WSBalanceUpdate{
		{Asset: "USDT", WalletBalance: 500, CrossWalletBalance: 500, BalanceChange: 500},
	}, 100)

	res := c.Balance(inst)
	if !res.Success {
		t.Fatalf("read failed: %s", res.Error)
	}
	a, ok := res.Data.Asset("USDT")
	if !ok {
		t.Fatal("USDT missing from minimal balance")
	}
	if a.WalletBalance != 500 || a.AvailableBalance != 500 {
		t.Errorf("asset = %+v", a)
	}
	if res.Data.TotalWalletBalance != 500 {
		t.Errorf("total = %v", res.Data.TotalWalletBalance)
	}
}

func TestWsEventMergesAndAppends(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	u := NewUpdater(inst, c, nil)
	defer u.Dispose()

	u.RefreshFromSnapshot(usdtBalance(1000, 100))

	var got []BalanceUpdatedEvent
	u.Events().Subscribe(EventBalanceUpdated, func(data any, _ events.Context) error {
		got = append(got, data.(BalanceUpdatedEvent))
		return nil
	})

	u.UpdateFromWsEvent([]types.WSBalanceUpdate{
		{Asset: "USDT", WalletBalance: 900, CrossWalletBalance: 900, BalanceChange: -100},
		{Asset: "BNB", WalletBalance: 2, CrossWalletBalance: 2, BalanceChange: 2},
	}, 200)

	res := c.Balance(inst)
	if n := len(res.Data.Assets); n != 2 {
		t.Fatalf("asset count = %d, want 2", n)
	}
	if res.Data.TotalWalletBalance != 902 {
		t.Errorf("total = %v, want 902", res.Data.TotalWalletBalance)
	}
	if len(got) != 2 {
		t.Errorf("events = %d, want 2", len(got))
	}
}
