package room

import "github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/pkg/wire"

// AcquireCell applies the cell-acquisition conflict-resolution rule (C7,
// spec §4.7), grounded directly in the prototype's Grid.claim_cell:
// first writer wins; an out-of-range or already-owned cell is a no-op
// with no snapshot advance and no score change. ESP adds the
// snapshot-id advance and updates-deque append that the prototype's
// scoring-only version didn't need.
//
// owner is the resulting owner of cellIdx (the existing owner if the
// cell was already claimed, 0 if cellIdx was out of range); changed
// reports whether this call was the one that claimed the cell.
func (r *Room) AcquireCell(localID wire.LocalID, cellIdx uint16) (owner wire.LocalID, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cellIdx >= wire.GridSize {
		return 0, false
	}
	if r.grid[cellIdx] != 0 {
		return r.grid[cellIdx], false
	}

	r.grid[cellIdx] = localID
	r.scores[localID]++
	r.snapshotID++
	r.appendUpdate(Update{EventType: wire.EventCellAcquired, LocalID: localID, CellIdx: cellIdx})
	return localID, true
}
