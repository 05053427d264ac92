package registry

import (
	"net"
	"testing"
)

func addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestInitAllocatesIncreasingPlayerIDs(t *testing.T) {
	r := New()
	p1 := r.Init(addr(1))
	p2 := r.Init(addr(2))

	if p1.PlayerID != 1 {
		t.Errorf("expected first player id 1, got %d", p1.PlayerID)
	}
	if p2.PlayerID != 2 {
		t.Errorf("expected second player id 2, got %d", p2.PlayerID)
	}
}

func TestRepeatInitFromSameAddressReturnsSamePeer(t *testing.T) {
	r := New()
	a := addr(1)
	p1 := r.Init(a)
	p2 := r.Init(a)

	if p1.PlayerID != p2.PlayerID {
		t.Errorf("expected repeated INIT to reuse player id, got %d and %d", p1.PlayerID, p2.PlayerID)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 registered peer, got %d", r.Len())
	}
}

func TestNextSeqStartsAtOneAndAdvancesByN(t *testing.T) {
	r := New()
	p := r.Init(addr(1))

	seq, ok := r.NextSeq(p.PlayerID, 1)
	if !ok || seq != 1 {
		t.Fatalf("expected first seq 1, got %d ok=%v", seq, ok)
	}
	seq, ok = r.NextSeq(p.PlayerID, 3)
	if !ok || seq != 2 {
		t.Fatalf("expected second alloc to start at 2, got %d ok=%v", seq, ok)
	}
	seq, ok = r.NextSeq(p.PlayerID, 1)
	if !ok || seq != 5 {
		t.Fatalf("expected third alloc at 5 after a 3-fragment message, got %d ok=%v", seq, ok)
	}
}

func TestNextSeqUnknownPeer(t *testing.T) {
	r := New()
	if _, ok := r.NextSeq(999, 1); ok {
		t.Error("expected NextSeq on unknown player to report false")
	}
}

func TestSetRoomAndRemove(t *testing.T) {
	r := New()
	p := r.Init(addr(1))

	if err := r.SetRoom(p.PlayerID, 1, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := r.ByPlayerID(p.PlayerID)
	if !ok || got.RoomID != 1 || got.LocalID != 2 {
		t.Fatalf("expected room/local id to stick, got %+v", got)
	}

	removed, err := r.Remove(p.Addr)
	if err != nil {
		t.Fatalf("unexpected error removing peer: %v", err)
	}
	if removed.PlayerID != p.PlayerID {
		t.Error("removed peer mismatch")
	}
	if r.Len() != 0 {
		t.Error("registry should be empty after removal")
	}
	if _, err := r.Remove(p.Addr); err != ErrUnknownPeer {
		t.Errorf("expected ErrUnknownPeer on double remove, got %v", err)
	}
}

func TestLookupAndByPlayerIDUnknown(t *testing.T) {
	r := New()
	if _, ok := r.Lookup(addr(42)); ok {
		t.Error("expected lookup of unregistered address to fail")
	}
	if _, ok := r.ByPlayerID(42); ok {
		t.Error("expected lookup of unknown player id to fail")
	}
}
