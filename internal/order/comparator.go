package order

import (
	"fmt"

	"futures-cache/pkg/types"
)

// Delta is the difference between the cached order set and a REST snapshot.
type Delta struct {
	ToCreate []types.OrderUpdate
	ToUpdate []types.OrderUpdate
	ToDelete []types.OrderUpdate
}

// Empty reports whether the delta carries no changes.
func (d Delta) Empty() bool {
	return len(d.ToCreate) == 0 && len(d.ToUpdate) == 0 && len(d.ToDelete) == 0
}

// Action is the decision for one incoming order record.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionIgnore Action = "IGNORE"
)

// Decision is the outcome of ShouldUpdateCache with its reason, useful for
// dispatch logging.
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Compare diffs cached orders against a snapshot. A source order is a create
// when its id is unknown, an update when any of the fill-relevant fields
// moved. A cached *active* order absent from the snapshot became terminal
// while we were not watching and goes to ToDelete; the caller decides how to
// surface that (the snapshot cannot say whether it filled or was cancelled).
func Compare(cached, source []types.OrderUpdate) Delta {
	var d Delta

	cachedByID := make(map[int64]types.OrderUpdate, len(cached))
	for _, o := range cached {
		cachedByID[o.OrderID] = o
	}
	seen := make(map[int64]bool, len(source))

	for _, src := range source {
		seen[src.OrderID] = true
		cur, exists := cachedByID[src.OrderID]
		if !exists {
			d.ToCreate = append(d.ToCreate, src)
			continue
		}
		if ordersDiffer(cur, src) {
			d.ToUpdate = append(d.ToUpdate, src)
		}
	}

	for id, cur := range cachedByID {
		if !seen[id] && cur.OrderStatus.IsActive() {
			d.ToDelete = append(d.ToDelete, cur)
		}
	}
	return d
}

// ordersDiffer compares the fields a snapshot can legitimately move.
func ordersDiffer(a, b types.OrderUpdate) bool {
	tol := types.PriceTolerance
	return a.OrderStatus != b.OrderStatus ||
		!types.EqualWithin(a.FilledQuantity, b.FilledQuantity, tol) ||
		!types.EqualWithin(a.AveragePrice, b.AveragePrice, tol) ||
		!types.EqualWithin(a.OriginalPrice, b.OriginalPrice, tol) ||
		!types.EqualWithin(a.OriginalQuantity, b.OriginalQuantity, tol)
}

// ShouldUpdateCache decides how to apply one stream order event against the
// cached record (nil when the order is unknown). DELETE means the order
// reached a terminal status and should leave the active index; the keyed
// record is still written so recent-order queries see the final state.
func ShouldUpdateCache(ws types.OrderUpdate, cached *types.OrderUpdate) Decision {
	if cached == nil {
		return Decision{ActionCreate, "order not cached"}
	}
	if ws.TransactionTime < cached.TransactionTime {
		return Decision{ActionIgnore, fmt.Sprintf(
			"stale: incoming %d < cached %d", ws.TransactionTime, cached.TransactionTime)}
	}
	if ws.OrderStatus.IsTerminal() {
		return Decision{ActionDelete, "order reached terminal status " + string(ws.OrderStatus)}
	}
	if !ordersDiffer(*cached, ws) {
		return Decision{ActionIgnore, "no tracked field changed"}
	}
	return Decision{ActionUpdate, "tracked fields changed"}
}
