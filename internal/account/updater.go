package account

import (
	"log/slog"
	"time"

	"futures-cache/internal/events"
	"futures-cache/pkg/types"
)

// Event names emitted by the Updater.
const (
	EventBalanceUpdated = "balanceUpdated"
	EventAccountSynced  = "accountSynced"
)

// BalanceUpdatedEvent is emitted for each asset whose wallet balance moved by
// more than the emission tolerance.
type BalanceUpdatedEvent struct {
	InstanceKey     string  `json:"instance_key"`
	Asset           string  `json:"asset"`
	PreviousBalance float64 `json:"previous_balance"`
	NewBalance      float64 `json:"new_balance"`
	Change          float64 `json:"change"`
	Timestamp       int64   `json:"timestamp"`
}

// AccountSyncedEvent is emitted after a full snapshot lands in the cache.
type AccountSyncedEvent struct {
	InstanceKey string `json:"instance_key"`
	AssetCount  int    `json:"asset_count"`
	Timestamp   int64  `json:"timestamp"`
}

// Updater merges REST snapshots and WebSocket balance deltas into one
// instance's account cache and fans out per-asset change notifications.
//
// Unlike the position and order updaters it carries no mutex: account writes
// are idempotent by transaction time, so concurrent writers converge on the
// newest snapshot.
type Updater struct {
	instanceKey string
	cache       *Cache
	events      *events.Manager
	logger      *slog.Logger
}

// NewUpdater creates an updater bound to one instance.
func NewUpdater(instanceKey string, c *Cache, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{
		instanceKey: instanceKey,
		cache:       c,
		events:      events.NewManager(),
		logger:      logger.With("component", "account-updater", "instance", instanceKey),
	}
}

// Events exposes the updater's emitter for subscription.
func (u *Updater) Events() *events.Manager { return u.events }

// RefreshFromSnapshot diffs a REST snapshot against the cached balance,
// emits balanceUpdated for every asset that moved, stores the snapshot, and
// emits accountSynced.
func (u *Updater) RefreshFromSnapshot(balance types.AccountBalance) {
	now := time.Now().UnixMilli()

	prev, had := u.cache.Get(u.instanceKey)
	if had {
		for _, asset := range balance.Assets {
			var prevBal float64
			if pa, ok := prev.Balance.Asset(asset.Asset); ok {
				prevBal = pa.WalletBalance
			}
			change := asset.WalletBalance - prevBal
			if types.EqualWithin(change, 0, types.BalanceEmitTolerance) {
				continue
			}
			u.events.Emit(EventBalanceUpdated, BalanceUpdatedEvent{
				InstanceKey:     u.instanceKey,
				Asset:           asset.Asset,
				PreviousBalance: prevBal,
				NewBalance:      asset.WalletBalance,
				Change:          change,
				Timestamp:       now,
			})
		}
	}

	u.cache.Update(u.instanceKey, balance, balance.LastUpdate)
	u.events.Emit(EventAccountSynced, AccountSyncedEvent{
		InstanceKey: u.instanceKey,
		AssetCount:  len(balance.Assets),
		Timestamp:   now,
	})

	u.logger.Debug("account snapshot applied",
		"assets", len(balance.Assets),
		"last_update", balance.LastUpdate,
	)
}

// UpdateFromWsEvent merges per-asset deltas from the user-data stream into
// the cached balance. With no prior balance a minimal snapshot is built from
// the deltas; otherwise known assets are updated in place and unknown assets
// appended with defaults. Totals are recomputed from the merged asset list.
func (u *Updater) UpdateFromWsEvent(updates []types.WSBalanceUpdate, transactionTime int64) {
	if len(updates) == 0 {
		return
	}
	now := time.Now().UnixMilli()

	cur, had := u.cache.Get(u.instanceKey)

	var balance types.AccountBalance
	if had {
		balance = cur.Balance
		// The cached entry shares the asset slice; copy before mutating.
		balance.Assets = append([]types.AssetBalance(nil), cur.Balance.Assets...)
		for _, upd := range updates {
			merged := false
			for i := range balance.Assets {
				if balance.Assets[i].Asset == upd.Asset {
					balance.Assets[i].WalletBalance = upd.WalletBalance
					balance.Assets[i].CrossWalletBalance = upd.CrossWalletBalance
					merged = true
					break
				}
			}
			if !merged {
				balance.Assets = append(balance.Assets, minimalAsset(upd))
			}
		}
	} else {
		assets := make([]types.AssetBalance, 0, len(updates))
		for _, upd := range updates {
			assets = append(assets, minimalAsset(upd))
		}
		balance = types.AccountBalance{Assets: assets}
	}

	total := 0.0
	for _, a := range balance.Assets {
		total += a.WalletBalance
	}
	balance.TotalWalletBalance = total
	if transactionTime > 0 {
		balance.LastUpdate = transactionTime
	}

	u.cache.Update(u.instanceKey, balance, transactionTime)

	for _, upd := range updates {
		if types.EqualWithin(upd.BalanceChange, 0, types.BalanceEmitTolerance) {
			continue
		}
		u.events.Emit(EventBalanceUpdated, BalanceUpdatedEvent{
			InstanceKey:     u.instanceKey,
			Asset:           upd.Asset,
			PreviousBalance: upd.WalletBalance - upd.BalanceChange,
			NewBalance:      upd.WalletBalance,
			Change:          upd.BalanceChange,
			Timestamp:       now,
		})
	}
}

// Dispose removes all event listeners.
func (u *Updater) Dispose() {
	u.events.Clear()
}

// minimalAsset builds an asset record from a WS delta. Fields the stream
// does not carry default to the wallet value or zero.
func minimalAsset(upd types.WSBalanceUpdate) types.AssetBalance {
	return types.AssetBalance{
		Asset:              upd.Asset,
		WalletBalance:      upd.WalletBalance,
		CrossWalletBalance: upd.CrossWalletBalance,
		AvailableBalance:   upd.WalletBalance,
	}
}
