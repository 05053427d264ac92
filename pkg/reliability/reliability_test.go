package reliability

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/pkg/wire"
)

func testAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}
}

func TestAckClearsEntry(t *testing.T) {
	tbl := NewTable()
	now := time.Now()
	tbl.Track(1, 5, testAddr(), wire.MsgEvent, []byte("x"), now)

	if tbl.Len() != 1 {
		t.Fatalf("expected 1 tracked entry, got %d", tbl.Len())
	}
	if !tbl.Ack(1, 5) {
		t.Fatal("expected first ack to clear the entry")
	}
	if tbl.Len() != 0 {
		t.Error("entry should be gone after ack")
	}
}

func TestAckIsIdempotent(t *testing.T) {
	tbl := NewTable()
	now := time.Now()
	tbl.Track(1, 5, testAddr(), wire.MsgEvent, []byte("x"), now)

	tbl.Ack(1, 5)
	if tbl.Ack(1, 5) {
		t.Error("repeat ack of an already-cleared entry must report false")
	}
}

func TestAckUnknownEntryIsNoop(t *testing.T) {
	tbl := NewTable()
	if tbl.Ack(99, 1) {
		t.Error("ack of a never-tracked entry must report false")
	}
}

func TestTickRetransmitsAfterTimeout(t *testing.T) {
	tbl := NewTable()
	addr := testAddr()
	data := []byte("payload")
	start := time.Now()
	tbl.Track(1, 5, addr, wire.MsgEvent, data, start)

	var sent [][]byte
	abandoned := tbl.Tick(start.Add(RetransmitTimeout/2), func(a *net.UDPAddr, d []byte) {
		sent = append(sent, d)
	})
	if len(sent) != 0 || len(abandoned) != 0 {
		t.Fatal("should not retransmit before timeout elapses")
	}

	abandoned = tbl.Tick(start.Add(RetransmitTimeout+time.Millisecond), func(a *net.UDPAddr, d []byte) {
		sent = append(sent, d)
	})
	if len(abandoned) != 0 {
		t.Fatal("should not abandon on first retransmit")
	}
	if len(sent) != 1 || !bytes.Equal(sent[0], data) {
		t.Fatalf("expected one verbatim retransmit, got %v", sent)
	}
}

func TestTickAbandonsAfterRetryCap(t *testing.T) {
	tbl := NewTable()
	addr := testAddr()
	now := time.Now()
	tbl.Track(7, 3, addr, wire.MsgUpdates, []byte("u"), now)

	for i := 1; i < RetryCap; i++ {
		now = now.Add(RetransmitTimeout + time.Millisecond)
		abandoned := tbl.Tick(now, func(a *net.UDPAddr, d []byte) {})
		if len(abandoned) != 0 {
			t.Fatalf("unexpected abandonment on attempt %d", i)
		}
	}

	now = now.Add(RetransmitTimeout + time.Millisecond)
	abandoned := tbl.Tick(now, func(a *net.UDPAddr, d []byte) {})
	if len(abandoned) != 1 {
		t.Fatalf("expected exactly 1 abandonment at retry cap, got %d", len(abandoned))
	}
	if abandoned[0].PlayerID != 7 || abandoned[0].Seq != 3 || abandoned[0].MsgType != wire.MsgUpdates {
		t.Errorf("unexpected abandoned report: %+v", abandoned[0])
	}
	if tbl.Len() != 0 {
		t.Error("abandoned entry must be removed from the table")
	}
}

func TestPurgePeerRemovesOnlyThatPlayer(t *testing.T) {
	tbl := NewTable()
	now := time.Now()
	tbl.Track(1, 1, testAddr(), wire.MsgEvent, []byte("a"), now)
	tbl.Track(1, 2, testAddr(), wire.MsgEvent, []byte("b"), now)
	tbl.Track(2, 1, testAddr(), wire.MsgEvent, []byte("c"), now)

	tbl.PurgePeer(1)

	if tbl.Len() != 1 {
		t.Fatalf("expected 1 entry left, got %d", tbl.Len())
	}
	if tbl.Ack(2, 1) == false {
		t.Error("player 2's entry should have survived the purge of player 1")
	}
}

func TestSendRedundantCallsSenderExactlyKTimes(t *testing.T) {
	var calls int
	SendRedundant(func(data []byte) { calls++ }, []byte("ping"))
	if calls != K {
		t.Errorf("expected %d redundant sends, got %d", K, calls)
	}
}
