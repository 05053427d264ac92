// Package client implements the ESP client-side state reconciler (C8,
// spec §4.8): applying server deltas or full snapshots to a local grid
// mirror, tracking pending local cell requests, and retrying them.
//
// No teacher component matches this directly — RakNet is transport
// only, so the teacher never mirrors authoritative state client-side.
// This is grounded in the original prototype's
// _examples/original_source/grid_clash/network/client.py (the local
// `grid`/`players`/`room_id` mirror kept in sync from inbound traffic),
// reimplemented with explicit pending-request tracking and the 100 ms
// retry rule §4.8 requires; the request/reply correlation shape follows
// the teacher's RPC dispatch style in source/protocol/rpc.go.
package client

import (
	"sync"
	"time"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/pkg/wire"
)

// PendingTimeout is how long a local cell request waits before being
// cleared and retried (spec §4.8).
const PendingTimeout = 100 * time.Millisecond

// Reconciler owns one peer's local view of its room: the grid mirror,
// the locally known snapshot id, and pending cell requests.
type Reconciler struct {
	mu sync.Mutex

	PlayerID uint32
	RoomID   wire.RoomID
	LocalID  wire.LocalID

	snapshotID uint32
	grid       [wire.GridSize]wire.LocalID
	pending    map[uint16]time.Time
}

// New returns a Reconciler with an empty grid and no pending requests.
func New() *Reconciler {
	return &Reconciler{pending: make(map[uint16]time.Time)}
}

// SnapshotID returns the client's locally known snapshot id.
func (r *Reconciler) SnapshotID() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotID
}

// Grid returns a copy of the local grid mirror.
func (r *Reconciler) Grid() [wire.GridSize]wire.LocalID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.grid
}

// ApplyEvent handles an EVENT (spec §4.8): local_id == 0 means
// rejection — the cell is simply cleared from pending. Otherwise the
// grid is updated and the server's snapshot id from the packet header
// is remembered.
func (r *Reconciler) ApplyEvent(body wire.EventBody, headerSnapshotID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.pending, body.CellIdx)
	if body.LocalID == 0 {
		return
	}
	if int(body.CellIdx) < len(r.grid) {
		r.grid[body.CellIdx] = body.LocalID
	}
	r.snapshotID = headerSnapshotID
}

// ApplyUpdates handles an UPDATES packet (spec §4.8). serverSnapshotID
// is the header's snapshot_id. Returns whether the deltas were applied;
// false covers both the "stale/duplicate" case (required <= 0) and the
// "can't safely apply" case (required > len(updates)) — the caller ACKs
// in both, and the return value does not tell the two apart.
func (r *Reconciler) ApplyUpdates(serverSnapshotID uint32, updates []wire.UpdateEntry) (applied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	required := int64(serverSnapshotID) - int64(r.snapshotID)
	if required <= 0 {
		return false
	}
	if required > int64(len(updates)) {
		return false
	}

	trailing := updates[len(updates)-int(required):]
	for _, u := range trailing {
		if u.EventType == wire.EventCellAcquired && int(u.CellIdx) < len(r.grid) {
			r.grid[u.CellIdx] = u.LocalID
			delete(r.pending, u.CellIdx)
		}
	}
	r.snapshotID = serverSnapshotID
	return true
}

// ApplySnapshot handles a SNAPSHOT packet (spec §4.8): the entire local
// grid is overwritten and the local snapshot id is set to the packet's.
func (r *Reconciler) ApplySnapshot(serverSnapshotID uint32, grid [wire.GridSize]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, owner := range grid {
		r.grid[i] = wire.LocalID(owner)
	}
	r.snapshotID = serverSnapshotID
	r.pending = make(map[uint16]time.Time)
}

// RequestCell records cellIdx as pending at time now, per §3's Pending
// Cell Request invariant: only cells the local grid shows as empty may
// be marked pending. Returns false (no request should be sent) if the
// cell is already occupied locally or already pending.
func (r *Reconciler) RequestCell(cellIdx uint16, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(cellIdx) >= len(r.grid) || r.grid[cellIdx] != 0 {
		return false
	}
	if _, pending := r.pending[cellIdx]; pending {
		return false
	}
	r.pending[cellIdx] = now
	return true
}

// RetryDue scans pending requests and returns the cell indices that have
// been pending for more than PendingTimeout and are still locally empty
// (spec §4.8's pending-cell retry rule). Each returned cell is cleared
// from pending — the caller is expected to re-request it
// fire-and-forget; cells the local grid has since filled in are dropped
// silently instead of being retried.
func (r *Reconciler) RetryDue(now time.Time) []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []uint16
	for cellIdx, requestedAt := range r.pending {
		if now.Sub(requestedAt) < PendingTimeout {
			continue
		}
		delete(r.pending, cellIdx)
		if r.grid[cellIdx] == 0 {
			due = append(due, cellIdx)
		}
	}
	return due
}

// PendingCount reports the number of outstanding cell requests, for
// tests and metrics.
func (r *Reconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
