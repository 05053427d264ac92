// Package room implements the ESP room manager (spec §4.5) and the
// per-room data model of spec §3: the 400-cell grid, the player roster,
// and the bounded updates deque.
//
// The grid/roster layout is grounded directly in the original prototype
// at _examples/original_source/grid_clash/game/{grid,room}.py: the
// `0 == empty` convention and color-by-collision assignment are kept;
// `host_id`/migration and `is_game_started` are dropped, since ESP's
// room lifecycle is driven by reaching `RequiredPlayers` capacity, not
// an explicit start signal.
package room

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/pkg/wire"
)

// ErrRoomNotFound, ErrRoomFull, and ErrNameTooLong are the failure modes
// spec §7 classifies as "resource exhaustion" or "out-of-state" — all
// silently dropped by the caller, never surfaced on the wire.
var (
	ErrRoomNotFound = errors.New("room: not found")
	ErrRoomFull     = errors.New("room: no free local id slot")
	ErrNameTooLong  = errors.New("room: name exceeds 255 bytes")
)

// MaxUpdates is the capacity of a room's rolling updates deque (spec §3,
// §9's "snapshot vs updates threshold" knob).
const MaxUpdates = 10

// Update is one `(event_type, local_id, cell_idx)` tuple (spec §3).
type Update struct {
	EventType wire.EventType
	LocalID   wire.LocalID
	CellIdx   uint16
}

// Member is one room roster entry.
type Member struct {
	PlayerID uint32
	LocalID  wire.LocalID
	Color    wire.Color
}

// Room is the per-room authoritative state (spec §3's Room).
type Room struct {
	mu sync.Mutex

	ID              wire.RoomID
	Name            string
	RequiredPlayers int

	snapshotID uint32
	grid       [wire.GridSize]wire.LocalID
	members    map[wire.LocalID]Member
	scores     map[wire.LocalID]int
	updates    []Update
}

func newRoom(id wire.RoomID, name string, requiredPlayers int) *Room {
	return &Room{
		ID:              id,
		Name:            name,
		RequiredPlayers: requiredPlayers,
		members:         make(map[wire.LocalID]Member),
		scores:          make(map[wire.LocalID]int),
	}
}

// SnapshotID returns the room's current monotonic snapshot id.
func (r *Room) SnapshotID() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotID
}

// Members returns a copy of the current roster, ordered by local id, for
// inclusion in JOIN_ACK/LEAVE_ACK.
func (r *Room) Members() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Member, 0, len(r.members))
	for localID := wire.LocalID(1); localID <= wire.LocalID(r.RequiredPlayers); localID++ {
		if m, ok := r.members[localID]; ok {
			out = append(out, m)
		}
	}
	return out
}

// PlayerCount reports the current roster size, for LIST_ROOMS_ACK.
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// IsFull reports whether the room has reached RequiredPlayers — the
// point at which cell acquisitions stop being auto-rejected (spec
// §4.6's event-propagation cases).
func (r *Room) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members) >= r.RequiredPlayers
}

// IsGridFull reports whether every cell has an owner, i.e. whether the
// room can still produce new cell-acquisition events. Supplemented from
// the prototype's Grid.is_full; a read-only query with no caller in the
// server, the replication engine does not consult it.
func (r *Room) IsGridFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.grid {
		if c == 0 {
			return false
		}
	}
	return true
}

// GetWinner returns the local id with the highest cell count and its
// score. Supplemented from the prototype's Grid.get_winner; ok is false
// if no cell has ever been claimed.
func (r *Room) GetWinner() (localID wire.LocalID, score int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	best := -1
	for id, s := range r.scores {
		if s > best {
			best = s
			localID = id
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	return localID, best, true
}

// Snapshot returns a copy of the full 400-cell grid (SNAPSHOT body).
func (r *Room) Snapshot() [wire.GridSize]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [wire.GridSize]byte
	for i, c := range r.grid {
		out[i] = byte(c)
	}
	return out
}

// UpdatesSince returns the trailing updates needed to cover a member
// currently at fromSnapshotID, or ok=false if the room's deque no longer
// covers the gap (the caller must fall back to a full SNAPSHOT per spec
// §4.6). A fromSnapshotID equal to the room's current snapshot id yields
// an empty, ok=true slice (lag is zero — no further action).
func (r *Room) UpdatesSince(fromSnapshotID uint32) (tail []Update, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lag := r.snapshotID - fromSnapshotID
	if fromSnapshotID > r.snapshotID || lag == 0 {
		return nil, true
	}
	if lag > MaxUpdates {
		return nil, false
	}
	start := len(r.updates) - int(lag)
	if start < 0 {
		return nil, false
	}
	out := make([]Update, lag)
	copy(out, r.updates[start:])
	return out, true
}

// RecentUpdates returns the last min(n, len) updates, for the periodic
// UPDATES broadcast (spec §4.6).
func (r *Room) RecentUpdates(n int) []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.updates) {
		n = len(r.updates)
	}
	out := make([]Update, n)
	copy(out, r.updates[len(r.updates)-n:])
	return out
}

func (r *Room) appendUpdate(u Update) {
	r.updates = append(r.updates, u)
	if len(r.updates) > MaxUpdates {
		r.updates = r.updates[len(r.updates)-MaxUpdates:]
	}
}

// join assigns the lowest free local id and a color not already held in
// this room, resampling on collision (spec §4.5, §9's color-uniqueness
// open question — this implementation resamples rather than picking the
// lowest free index, matching the prototype's behavior).
func (r *Room) join(playerID uint32, pickColor func(taken map[wire.Color]bool) wire.Color) (Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var localID wire.LocalID
	for id := wire.LocalID(1); id <= wire.LocalID(r.RequiredPlayers); id++ {
		if _, taken := r.members[id]; !taken {
			localID = id
			break
		}
	}
	if localID == 0 {
		return Member{}, ErrRoomFull
	}

	taken := make(map[wire.Color]bool, len(r.members))
	for _, m := range r.members {
		taken[m.Color] = true
	}
	color := pickColor(taken)

	m := Member{PlayerID: playerID, LocalID: localID, Color: color}
	r.members[localID] = m
	return m, nil
}

// leave removes localID from the roster, freeing its slot.
func (r *Room) leave(localID wire.LocalID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, localID)
}

// Manager owns the set of live rooms and the monotonic room-id
// allocator (spec §4.5).
type Manager struct {
	mu          sync.Mutex
	rooms       map[wire.RoomID]*Room
	nextRoomID  wire.RoomID
	randColor   func(taken map[wire.Color]bool) wire.Color
	requiredDef int
}

// NewManager returns an empty Manager. requiredPlayers is the default
// capacity (spec §4.6's "required number of players (default 4)")
// applied to every room created via CreateRoom. colorPicker supplies
// randomness for color assignment; tests can inject a deterministic one.
func NewManager(requiredPlayers int, colorPicker func(taken map[wire.Color]bool) wire.Color) *Manager {
	return &Manager{
		rooms:       make(map[wire.RoomID]*Room),
		nextRoomID:  1,
		randColor:   colorPicker,
		requiredDef: requiredPlayers,
	}
}

// CreateRoom allocates the next room id and stores name (spec §4.5). The
// creator is NOT automatically joined.
func (m *Manager) CreateRoom(name string) (wire.RoomID, error) {
	if len(name) > 255 {
		return 0, ErrNameTooLong
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextRoomID
	m.nextRoomID++
	m.rooms[id] = newRoom(id, name, m.requiredDef)
	return id, nil
}

// Get returns the room with the given id.
func (m *Manager) Get(id wire.RoomID) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: room %d", ErrRoomNotFound, id)
	}
	return r, nil
}

// Join assigns playerID the lowest free local id and a collision-free
// color in room id, returning the updated roster for fan-out.
func (m *Manager) Join(id wire.RoomID, playerID uint32) (*Room, Member, []Member, error) {
	r, err := m.Get(id)
	if err != nil {
		return nil, Member{}, nil, err
	}
	member, err := r.join(playerID, m.randColor)
	if err != nil {
		return nil, Member{}, nil, err
	}
	return r, member, r.Members(), nil
}

// Leave removes playerID's localID from room id, destroying the room if
// it becomes empty (spec §3's "destroyed when the last player leaves").
// Returns the updated roster for fan-out.
func (m *Manager) Leave(id wire.RoomID, localID wire.LocalID) ([]Member, error) {
	r, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	r.leave(localID)
	roster := r.Members()

	if len(roster) == 0 {
		m.mu.Lock()
		delete(m.rooms, id)
		m.mu.Unlock()
	}
	return roster, nil
}

// List returns a snapshot of every live room for LIST_ROOMS_ACK.
func (m *Manager) List() []*Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}

// Len reports the number of live rooms, for tests and metrics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
