// Package registry implements the ESP peer registry (spec §4.4): the
// mapping between a datagram address and a player identity, per-peer
// outbound sequence allocation, and peer lifecycle.
//
// Adapted from the teacher's Player struct in
// ventosilenzioso-go-raknet/source/server/player.go, stripped of the
// SA-MP position/health/skin fields (out of scope for a grid game) and
// composed with the nextID-plus-map allocation pattern from
// core/systems/vehicle_system.go, generalized from vehicle ids to
// player ids.
package registry

import (
	"errors"
	"net"
	"sync"
)

// ErrUnknownPeer is returned for any operation on an address that was
// never registered via Init, or was already removed.
var ErrUnknownPeer = errors.New("registry: unknown peer")

// Peer is one connected player (spec §3's Peer Identity).
type Peer struct {
	PlayerID uint32
	Addr     *net.UDPAddr

	// RoomID is 0 while the peer is in the lobby.
	RoomID uint8
	// LocalID is 0 while the peer is not in a room.
	LocalID uint8

	nextSeq uint32
}

// Registry maps peer addresses to identities and owns the process-wide
// player id allocator.
type Registry struct {
	mu          sync.Mutex
	byAddr      map[string]*Peer
	byPlayerID  map[uint32]*Peer
	nextPlayerID uint32
}

// New returns an empty Registry. Player ids start at 1; 0 is reserved
// for "none" per spec §3.
func New() *Registry {
	return &Registry{
		byAddr:       make(map[string]*Peer),
		byPlayerID:   make(map[uint32]*Peer),
		nextPlayerID: 1,
	}
}

// Init registers a new peer at addr, allocating the next player id and a
// per-peer sequence counter starting at 1 (spec §4.4). If addr is
// already registered, the existing peer is returned unchanged — a
// repeated INIT from the same address is not a new player.
func (r *Registry) Init(addr *net.UDPAddr) *Peer {
	key := addr.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.byAddr[key]; ok {
		return p
	}

	p := &Peer{
		PlayerID: r.nextPlayerID,
		Addr:     addr,
		nextSeq:  1,
	}
	r.nextPlayerID++
	r.byAddr[key] = p
	r.byPlayerID[p.PlayerID] = p
	return p
}

// Lookup finds the peer registered at addr.
func (r *Registry) Lookup(addr *net.UDPAddr) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byAddr[addr.String()]
	return p, ok
}

// ByPlayerID finds the peer with the given player id.
func (r *Registry) ByPlayerID(playerID uint32) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byPlayerID[playerID]
	return p, ok
}

// NextSeq returns the next per-peer outbound sequence number for
// playerID and advances the counter by n (n is the fragment count of the
// message about to be sent, so fragments of one message share
// consecutive sequence numbers, and the following message continues
// from there). Returns 0, false if the peer is unknown.
func (r *Registry) NextSeq(playerID uint32, n uint32) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byPlayerID[playerID]
	if !ok {
		return 0, false
	}
	start := p.nextSeq
	p.nextSeq += n
	return start, true
}

// SetRoom updates a peer's room/local-id state, called by the room
// manager on join/leave.
func (r *Registry) SetRoom(playerID uint32, roomID, localID uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byPlayerID[playerID]
	if !ok {
		return ErrUnknownPeer
	}
	p.RoomID = roomID
	p.LocalID = localID
	return nil
}

// Remove deletes a peer entirely, called on DISCONNECT or after
// reliability abandonment (spec §4.4). Returns the removed peer so the
// caller can drive room-leave and table-purge side effects; returns
// ErrUnknownPeer if the peer was already gone.
func (r *Registry) Remove(addr *net.UDPAddr) (*Peer, error) {
	key := addr.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byAddr[key]
	if !ok {
		return nil, ErrUnknownPeer
	}
	delete(r.byAddr, key)
	delete(r.byPlayerID, p.PlayerID)
	return p, nil
}

// Len reports the number of registered peers, for tests and metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byAddr)
}
