package position

import (
	"log/slog"
	"sync"
	"time"

	"futures-cache/internal/events"
	"futures-cache/pkg/types"
)

// Event names emitted by the Updater.
const (
	EventPositionOpened  = "POSITION_OPENED"
	EventPositionUpdated = "POSITION_UPDATED"
	EventPositionClosedU = "POSITION_CLOSED"
	EventReconciled      = "reconciled"
)

// StateChange classifies the effect of one WebSocket position update.
type StateChange string

const (
	StateOpened    StateChange = "OPENED"
	StateUpdated   StateChange = "UPDATED"
	StateReversed  StateChange = "REVERSED"
	StateClosed    StateChange = "CLOSED"
	StateUnchanged StateChange = "UNCHANGED"
)

// UpdateResult reports what a WS position event did to the cache.
type UpdateResult struct {
	StateChange StateChange
	// Existing is the position as cached before the update, nil when there
	// was none.
	Existing *types.Position
}

// ReconciledEvent summarizes one snapshot reconciliation.
type ReconciledEvent struct {
	InstanceKey string `json:"instance_key"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	Deleted     int    `json:"deleted"`
	Timestamp   int64  `json:"timestamp"`
}

// PositionEvent is the payload for opened/updated/closed lifecycle events.
type PositionEvent struct {
	InstanceKey string         `json:"instance_key"`
	Position    types.Position `json:"position"`
	Timestamp   int64          `json:"timestamp"`
}

// Updater serializes all position writes for one instance behind a mutex
// and fans out lifecycle events. Cache reads stay lock-free; only the
// merge paths contend here.
type Updater struct {
	instanceKey string
	cache       *Cache
	events      *events.Manager
	logger      *slog.Logger

	// mu serializes writers. It is never held across a call that takes it
	// again: RefreshFromSnapshot releases before ApplyDelta.
	mu sync.Mutex
}

// NewUpdater creates an updater bound to one instance's position cache.
func NewUpdater(instanceKey string, c *Cache, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{
		instanceKey: instanceKey,
		cache:       c,
		events:      events.NewManager(),
		logger:      logger.With("component", "position-updater", "instance", instanceKey),
	}
}

// Events exposes the updater's emitter for subscription.
func (u *Updater) Events() *events.Manager { return u.events }

// RefreshFromSnapshot diffs the cached active set against a REST snapshot
// and applies the resulting delta. The delta is computed under the writer
// lock, which is released before ApplyDelta re-acquires it.
func (u *Updater) RefreshFromSnapshot(source []types.Position) Delta {
	u.mu.Lock()
	current := u.cache.Active()
	delta := Compare(current, source)
	u.mu.Unlock()

	u.ApplyDelta(delta)
	return delta
}

// ApplyDelta applies a computed delta atomically with respect to other
// writers: deletes emit POSITION_CLOSED, updates POSITION_UPDATED, creates
// POSITION_OPENED, followed by one reconciled summary.
func (u *Updater) ApplyDelta(d Delta) {
	u.mu.Lock()
	defer u.mu.Unlock()
	now := time.Now().UnixMilli()

	for _, p := range d.ToDelete {
		u.cache.Delete(p.Symbol, p.PositionSide)
		u.events.Emit(EventPositionClosedU, PositionEvent{
			InstanceKey: u.instanceKey, Position: p, Timestamp: now,
		})
	}
	for _, p := range d.ToUpdate {
		u.cache.Update(p)
		u.events.Emit(EventPositionUpdated, PositionEvent{
			InstanceKey: u.instanceKey, Position: p, Timestamp: now,
		})
	}
	for _, p := range d.ToCreate {
		u.cache.Update(p)
		u.events.Emit(EventPositionOpened, PositionEvent{
			InstanceKey: u.instanceKey, Position: p, Timestamp: now,
		})
	}

	u.events.Emit(EventReconciled, ReconciledEvent{
		InstanceKey: u.instanceKey,
		Created:     len(d.ToCreate),
		Updated:     len(d.ToUpdate),
		Deleted:     len(d.ToDelete),
		Timestamp:   now,
	})

	if !d.Empty() {
		u.logger.Debug("position delta applied",
			"created", len(d.ToCreate),
			"updated", len(d.ToUpdate),
			"deleted", len(d.ToDelete),
		)
	}
}

// UpdateFromWsEvent merges one position record from the user-data stream.
// Zero-quantity closes the position. Otherwise the incoming record wins,
// with entry price, mark price, leverage and liquidation price preserved
// from the cached record when the stream reports zero for them.
func (u *Updater) UpdateFromWsEvent(p types.Position) UpdateResult {
	u.mu.Lock()
	defer u.mu.Unlock()

	existing, had := u.cache.Get(p.Symbol, p.PositionSide)

	if p.IsFlat() {
		if !had {
			return UpdateResult{StateChange: StateUnchanged}
		}
		u.cache.Delete(p.Symbol, p.PositionSide)
		ex := existing
		return UpdateResult{StateChange: StateClosed, Existing: &ex}
	}

	merged := p
	if had {
		if merged.EntryPrice == 0 && existing.EntryPrice > 0 {
			merged.EntryPrice = existing.EntryPrice
		}
		if merged.MarkPrice == 0 && existing.MarkPrice > 0 {
			merged.MarkPrice = existing.MarkPrice
		}
		if merged.Leverage == 0 {
			merged.Leverage = existing.Leverage
		}
		if merged.LiquidationPrice == 0 {
			merged.LiquidationPrice = existing.LiquidationPrice
		}
	}
	merged.UpdateTime = types.NowMs()
	u.cache.Update(merged)

	switch {
	case !had || existing.IsFlat():
		return UpdateResult{StateChange: StateOpened}
	case existing.Sign() != merged.Sign():
		ex := existing
		return UpdateResult{StateChange: StateReversed, Existing: &ex}
	default:
		ex := existing
		return UpdateResult{StateChange: StateUpdated, Existing: &ex}
	}
}

// Dispose removes all event listeners.
func (u *Updater) Dispose() {
	u.events.Clear()
}
