// Package reassembly implements the ESP fragment reassembler (spec §4.2):
// fragments are grouped by (peer address, pkt_id), delivered to the
// caller exactly once on completion, and evicted if they go stale.
//
// Adapted from the teacher's Session.SplitPackets map-of-maps in
// ventosilenzioso-go-raknet/source/protocol/raknet.go, generalized from a
// single session's split-packet table to a server-wide table keyed by
// peer address as well as packet id.
package reassembly

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/pkg/wire"
)

// Expiry is how long an incomplete group may sit idle before it is purged.
const Expiry = 5 * time.Second

type groupKey struct {
	addr  string
	pktID uint32
}

type group struct {
	fragments   map[uint32][]byte
	terminal    bool
	terminalSeq uint32
	lastTouch   time.Time
}

// Reassembler accumulates fragments per (peer, pkt_id) group.
type Reassembler struct {
	mu     sync.Mutex
	groups map[groupKey]*group
}

// New returns an empty Reassembler.
func New() *Reassembler {
	return &Reassembler{groups: make(map[groupKey]*group)}
}

// Result is a fully reassembled logical message.
type Result struct {
	// Body is the ordered concatenation of every fragment's payload.
	Body []byte
	// SeqNums lists every fragment sequence number the message covered,
	// ascending — callers (the reliability layer) ACK each of these.
	SeqNums []uint32
}

// Add contributes one fragment from addr to its (addr, pkt_id) group.
// Returns (result, true) exactly once, the moment the group becomes
// complete. A duplicate fragment sequence within an existing group is
// discarded and reported via the second return value being false with a
// zero Result.
func (r *Reassembler) Add(addr *net.UDPAddr, p wire.Packet, now time.Time) (Result, bool) {
	key := groupKey{addr: addr.String(), pktID: p.Header.PacketID}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[key]
	if !ok {
		g = &group{fragments: make(map[uint32][]byte)}
		r.groups[key] = g
	}
	g.lastTouch = now

	if _, dup := g.fragments[p.Header.SeqNum]; dup {
		return Result{}, false
	}
	g.fragments[p.Header.SeqNum] = p.Body
	if wire.IsTerminalFragment(p) {
		g.terminal = true
		g.terminalSeq = p.Header.SeqNum
	}

	if !g.terminal {
		return Result{}, false
	}

	seqs := make([]uint32, 0, len(g.fragments))
	for s := range g.fragments {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	if seqs[len(seqs)-1] != g.terminalSeq {
		return Result{}, false
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			return Result{}, false
		}
	}

	body := make([]byte, 0, len(seqs)*wire.MaxBodySize)
	for _, s := range seqs {
		body = append(body, g.fragments[s]...)
	}
	delete(r.groups, key)
	return Result{Body: body, SeqNums: seqs}, true
}

// Expire evicts groups that have not received a fragment within Expiry.
// Evicted groups yield no delivery — the peer is expected to retransmit
// via the reliability layer. Returns the number of groups purged.
func (r *Reassembler) Expire(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for k, g := range r.groups {
		if now.Sub(g.lastTouch) >= Expiry {
			delete(r.groups, k)
			purged++
		}
	}
	return purged
}

// PurgePeer drops every in-progress group for addr, used on peer removal
// (disconnect or reliability abandonment).
func (r *Reassembler) PurgePeer(addr *net.UDPAddr) {
	prefix := addr.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	for k := range r.groups {
		if k.addr == prefix {
			delete(r.groups, k)
		}
	}
}

// Len reports the number of in-progress groups, for tests and metrics.
func (r *Reassembler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}
