// Package reliability implements the ESP reliability layer (spec §4.3):
// per-(seq, player) unacknowledged-packet tracking with a retransmit
// timer and retry cap, plus the orthogonal K-redundant fire-and-forget
// mode. The two modes are intentionally disjoint — a packet either has an
// ACK slot in the Table or it does not; nothing is both tracked and
// K-replicated.
//
// Adapted from the teacher's per-session RecoveryQueue/ACKQueue/NACKQueue
// in ventosilenzioso-go-raknet/source/protocol/raknet.go, reshaped from
// RakNet's NACK-driven retransmission (the peer tells the sender what it
// is missing) to ESP's timer-driven retransmission (the wire format has
// no NACK message; the sender alone decides when to resend).
package reliability

import (
	"net"
	"sync"
	"time"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/pkg/wire"
)

const (
	// RetransmitTimeout is how long a reliable send waits for an ACK
	// before it is resent verbatim.
	RetransmitTimeout = 100 * time.Millisecond
	// RetryCap is the number of sends (including the first) after which
	// an unacknowledged entry is abandoned.
	RetryCap = 5
	// K is the fan-out count for fire-and-forget redundant sends.
	K = 3
)

type key struct {
	seq      uint32
	playerID uint32
}

// Entry is one outstanding reliable send (spec §3's Unacknowledged Entry).
type Entry struct {
	Seq       uint32
	PlayerID  uint32
	Addr      *net.UDPAddr
	MsgType   wire.MessageType
	Data      []byte
	SendCount int
	LastSend  time.Time
}

// Abandoned reports a reliable send whose retry cap was reached.
type Abandoned struct {
	PlayerID uint32
	Seq      uint32
	MsgType  wire.MessageType
}

// Table tracks unacknowledged reliable sends, keyed by (seq, player id).
type Table struct {
	mu      sync.Mutex
	entries map[key]*Entry
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{entries: make(map[key]*Entry)}
}

// Track registers data as sent reliably to addr on behalf of playerID
// under sequence seq. Call once per reliable packet emitted.
func (t *Table) Track(playerID, seq uint32, addr *net.UDPAddr, msgType wire.MessageType, data []byte, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key{seq: seq, playerID: playerID}] = &Entry{
		Seq:       seq,
		PlayerID:  playerID,
		Addr:      addr,
		MsgType:   msgType,
		Data:      data,
		SendCount: 1,
		LastSend:  now,
	}
}

// Ack clears the entry for (playerID, seq) if present. Returns whether an
// entry was actually cleared — a repeat ACK for an already-cleared
// sequence is silently ignored (spec §4.3's duplicate suppression), and
// this idempotence is what §8 property 6 requires.
func (t *Table) Ack(playerID, seq uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{seq: seq, playerID: playerID}
	if _, ok := t.entries[k]; !ok {
		return false
	}
	delete(t.entries, k)
	return true
}

// Tick scans for entries due for retransmission or abandonment. send is
// invoked with the exact bytes to resend for each retransmitted entry.
// Entries whose send count has reached RetryCap are dropped and reported
// in the returned slice instead of being resent again.
func (t *Table) Tick(now time.Time, send func(addr *net.UDPAddr, data []byte)) []Abandoned {
	t.mu.Lock()
	defer t.mu.Unlock()

	var abandoned []Abandoned
	for k, e := range t.entries {
		if now.Sub(e.LastSend) < RetransmitTimeout {
			continue
		}
		if e.SendCount >= RetryCap {
			abandoned = append(abandoned, Abandoned{PlayerID: e.PlayerID, Seq: e.Seq, MsgType: e.MsgType})
			delete(t.entries, k)
			continue
		}
		send(e.Addr, e.Data)
		e.SendCount++
		e.LastSend = now
	}
	return abandoned
}

// PurgePeer drops every outstanding entry for playerID, used on peer
// removal (disconnect or abandonment cleanup by the caller).
func (t *Table) PurgePeer(playerID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.entries {
		if k.playerID == playerID {
			delete(t.entries, k)
		}
	}
}

// Len reports the number of outstanding entries, for tests and metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// SendRedundant performs a fire-and-forget send K times back to back,
// retaining no state — loss of some copies is tolerated by design.
func SendRedundant(send func(data []byte), data []byte) {
	for i := 0; i < K; i++ {
		send(data)
	}
}
