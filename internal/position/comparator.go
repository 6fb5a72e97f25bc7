package position

import "futures-cache/pkg/types"

// Delta is the atomic difference between the cached position set and a REST
// snapshot, decomposed into create/update/delete sets.
type Delta struct {
	ToCreate []types.Position
	ToUpdate []types.Position
	ToDelete []types.Position
}

// Empty reports whether the delta carries no changes.
func (d Delta) Empty() bool {
	return len(d.ToCreate) == 0 && len(d.ToUpdate) == 0 && len(d.ToDelete) == 0
}

// Compare diffs the cached set against a snapshot. All price and quantity
// comparisons use the shared absolute tolerance. Updates are merged records:
// snapshot fields win, except entry price, mark price (when the snapshot
// reports zero and the cache has a value) and realized profit, which the
// snapshot endpoint does not carry reliably.
func Compare(cached, source []types.Position) Delta {
	var d Delta

	cachedByKey := make(map[string]types.Position, len(cached))
	for _, p := range cached {
		cachedByKey[key(p.Symbol, p.PositionSide)] = p
	}
	seen := make(map[string]bool, len(source))

	for _, src := range source {
		k := key(src.Symbol, src.PositionSide)
		seen[k] = true

		cur, exists := cachedByKey[k]
		if src.IsFlat() {
			if exists && !cur.IsFlat() {
				d.ToDelete = append(d.ToDelete, cur)
			}
			continue
		}
		if !exists {
			d.ToCreate = append(d.ToCreate, src)
			continue
		}
		if equalPositions(cur, src) {
			continue
		}
		d.ToUpdate = append(d.ToUpdate, merge(cur, src))
	}

	for k, cur := range cachedByKey {
		if !seen[k] {
			d.ToDelete = append(d.ToDelete, cur)
		}
	}
	return d
}

// equalPositions compares the fields the snapshot is authoritative for.
func equalPositions(a, b types.Position) bool {
	tol := types.PriceTolerance
	return types.EqualWithin(a.PositionAmt, b.PositionAmt, tol) &&
		types.EqualWithin(a.EntryPrice, b.EntryPrice, tol) &&
		types.EqualWithin(a.MarkPrice, b.MarkPrice, tol) &&
		types.EqualWithin(a.UnrealizedProfit, b.UnrealizedProfit, tol) &&
		a.MarginType == b.MarginType &&
		a.Leverage == b.Leverage &&
		types.EqualWithin(a.LiquidationPrice, b.LiquidationPrice, tol) &&
		types.EqualWithin(a.IsolatedWallet, b.IsolatedWallet, tol)
}

// merge produces the update record: source fields with cached values
// preserved where the source reports nothing useful.
func merge(cached, src types.Position) types.Position {
	out := src
	if src.EntryPrice == 0 && cached.EntryPrice > 0 {
		out.EntryPrice = cached.EntryPrice
	}
	if src.MarkPrice == 0 && cached.MarkPrice > 0 {
		out.MarkPrice = cached.MarkPrice
	}
	out.RealizedProfit = cached.RealizedProfit
	return out
}
