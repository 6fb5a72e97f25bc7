package order

import (
	"log/slog"
	"sync"
	"time"

	"futures-cache/internal/events"
	"futures-cache/pkg/types"
)

// Lifecycle events for regular orders.
const (
	EventOrderCreated         = "orderCreated"
	EventOrderUpdated         = "orderUpdated"
	EventOrderFilled          = "orderFilled"
	EventOrderPartiallyFilled = "orderPartiallyFilled"
	EventOrderCancelled       = "orderCancelled"
	EventOrderExpired         = "orderExpired"
)

// Lifecycle events for algo orders.
const (
	EventAlgoOrderCreated    = "algoOrderCreated"
	EventAlgoOrderTriggering = "algoOrderTriggering"
	EventAlgoOrderTriggered  = "algoOrderTriggered"
	EventAlgoOrderFinished   = "algoOrderFinished"
	EventAlgoOrderRejected   = "algoOrderRejected"
	EventAlgoOrderCancelled  = "algoOrderCancelled"
	EventAlgoOrderExpired    = "algoOrderExpired"
)

// EventReconciled summarizes one snapshot reconciliation.
const EventReconciled = "reconciled"

// OrderEvent is the payload for every regular-order lifecycle event.
type OrderEvent struct {
	InstanceKey string            `json:"instance_key"`
	Order       types.OrderUpdate `json:"order"`
	Timestamp   int64             `json:"timestamp"`
}

// AlgoOrderEvent is the payload for every algo-order lifecycle event.
type AlgoOrderEvent struct {
	InstanceKey string                `json:"instance_key"`
	Order       types.AlgoOrderUpdate `json:"order"`
	Timestamp   int64                 `json:"timestamp"`
}

// ReconciledEvent reports the outcome of one snapshot reconciliation.
type ReconciledEvent struct {
	InstanceKey string `json:"instance_key"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	Deleted     int    `json:"deleted"`
	Timestamp   int64  `json:"timestamp"`
}

// Updater serializes order writes for one instance and fans out lifecycle
// events. The cache write always completes before the event fires, so a
// listener reading the cache sees at least the state the event describes.
type Updater struct {
	instanceKey string
	cache       *Cache
	events      *events.Manager
	logger      *slog.Logger

	mu sync.Mutex
}

// NewUpdater creates an updater bound to one instance's order cache.
func NewUpdater(instanceKey string, c *Cache, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{
		instanceKey: instanceKey,
		cache:       c,
		events:      events.NewManager(),
		logger:      logger.With("component", "order-updater", "instance", instanceKey),
	}
}

// Events exposes the updater's emitter for subscription.
func (u *Updater) Events() *events.Manager { return u.events }

// eventForExecution maps an execution type (with the order status as a hint
// for TRADE) to the lifecycle event to emit.
func eventForExecution(o types.OrderUpdate) string {
	switch o.ExecutionType {
	case types.ExecNew:
		return EventOrderCreated
	case types.ExecTrade:
		if o.OrderStatus == types.OrderPartiallyFill {
			return EventOrderPartiallyFilled
		}
		return EventOrderFilled
	case types.ExecCanceled:
		return EventOrderCancelled
	case types.ExecExpired:
		return EventOrderExpired
	case types.ExecAmendment:
		return EventOrderUpdated
	case types.ExecCalculated:
		return EventOrderFilled
	default:
		return EventOrderUpdated
	}
}

// eventForAlgoStatus maps an algo status straight to its lifecycle event.
// FINISHED and EXECUTED both mean the algo completed its work and collapse
// to one event.
func eventForAlgoStatus(s types.AlgoOrderStatus) string {
	switch s {
	case types.AlgoNew:
		return EventAlgoOrderCreated
	case types.AlgoTriggering:
		return EventAlgoOrderTriggering
	case types.AlgoTriggered:
		return EventAlgoOrderTriggered
	case types.AlgoFinished, types.AlgoExecuted:
		return EventAlgoOrderFinished
	case types.AlgoRejected:
		return EventAlgoOrderRejected
	case types.AlgoCancelled:
		return EventAlgoOrderCancelled
	case types.AlgoExpired:
		return EventAlgoOrderExpired
	default:
		return EventAlgoOrderCreated
	}
}

// UpdateFromWsEvent merges one regular-order record from the user-data
// stream, then emits the lifecycle event selected by its execution type.
// Returns the emitted event name, empty when the update was rejected as
// stale.
func (u *Updater) UpdateFromWsEvent(o types.OrderUpdate) string {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.cache.Update(u.instanceKey, o) {
		return ""
	}
	name := eventForExecution(o)
	u.events.Emit(name, OrderEvent{
		InstanceKey: u.instanceKey, Order: o, Timestamp: types.NowMs(),
	})
	return name
}

// UpdateAlgoFromWsEvent merges one algo-order record, then emits the event
// for its status. Returns the emitted event name, empty when rejected.
func (u *Updater) UpdateAlgoFromWsEvent(a types.AlgoOrderUpdate) string {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.cache.UpdateAlgo(u.instanceKey, a) {
		return ""
	}
	name := eventForAlgoStatus(a.AlgoStatus)
	u.events.Emit(name, AlgoOrderEvent{
		InstanceKey: u.instanceKey, Order: a, Timestamp: types.NowMs(),
	})
	return name
}

// RefreshFromSnapshot diffs the cached active set against a REST open-orders
// snapshot and applies the resulting delta. The delta is computed under the
// writer lock, which is released before ApplyDelta re-acquires it.
func (u *Updater) RefreshFromSnapshot(source []types.OrderUpdate) Delta {
	u.mu.Lock()
	active := u.cache.ActiveOrders(u.instanceKey).Data
	delta := Compare(active, source)
	u.mu.Unlock()

	u.ApplyDelta(delta)
	return delta
}

// ApplyDelta applies a computed delta. Creates emit orderCreated and updates
// orderUpdated. Deletes are cached active orders the snapshot no longer
// lists: they are marked FILLED and emitted as orderFilled, though the
// snapshot cannot distinguish a fill from a cancellation. Consumers needing
// the true terminal status must query the order individually.
func (u *Updater) ApplyDelta(d Delta) {
	u.mu.Lock()
	defer u.mu.Unlock()
	now := time.Now().UnixMilli()

	for _, o := range d.ToDelete {
		o.OrderStatus = types.OrderFilled
		o.ExecutionType = types.ExecTrade
		u.cache.Update(u.instanceKey, o)
		u.events.Emit(EventOrderFilled, OrderEvent{
			InstanceKey: u.instanceKey, Order: o, Timestamp: now,
		})
	}
	for _, o := range d.ToUpdate {
		u.cache.Update(u.instanceKey, o)
		u.events.Emit(EventOrderUpdated, OrderEvent{
			InstanceKey: u.instanceKey, Order: o, Timestamp: now,
		})
	}
	for _, o := range d.ToCreate {
		u.cache.Update(u.instanceKey, o)
		u.events.Emit(EventOrderCreated, OrderEvent{
			InstanceKey: u.instanceKey, Order: o, Timestamp: now,
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
		u.logger.Debug("order delta applied",
			"created", len(d.ToCreate),
			"updated", len(d.ToUpdate),
			"deleted", len(d.ToDelete),
		)
	}
}

// Dispose removes all event listeners.
func (u *Updater) Dispose() {
	u.events.Clear()
}
