package wire

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	pkts := Fragment(MsgEvent, 7, 42, 100, 1234567890, []byte("hello cell 37"))
	if len(pkts) != 1 {
		t.Fatalf("expected 1 packet for short body, got %d", len(pkts))
	}

	encoded := Encode(pkts[0])
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded.Header.Type != MsgEvent {
		t.Errorf("expected type EVENT, got %v", decoded.Header.Type)
	}
	if decoded.Header.SeqNum != 7 {
		t.Errorf("expected seq 7, got %d", decoded.Header.SeqNum)
	}
	if decoded.Header.PacketID != 42 {
		t.Errorf("expected pkt_id 42, got %d", decoded.Header.PacketID)
	}
	if decoded.Header.SnapshotID != 100 {
		t.Errorf("expected snapshot_id 100, got %d", decoded.Header.SnapshotID)
	}
	if !bytes.Equal(decoded.Body, []byte("hello cell 37")) {
		t.Errorf("body mismatch: got %q", decoded.Body)
	}
}

func TestEmptyBodyStillProducesOnePacket(t *testing.T) {
	pkts := Fragment(MsgInit, 0, 1, 0, 0, nil)
	if len(pkts) != 1 {
		t.Fatalf("expected 1 packet for empty body, got %d", len(pkts))
	}
	encoded := Encode(pkts[0])
	if len(encoded) != HeaderSize {
		t.Errorf("expected header-only packet (%d bytes), got %d", HeaderSize, len(encoded))
	}
}

func TestFragmentationRespectsMaxPacketSize(t *testing.T) {
	body := bytes.Repeat([]byte{0xAB}, MaxBodySize*3+17)
	pkts := Fragment(MsgUpdates, 10, 99, 0, 0, body)

	if len(pkts) != 4 {
		t.Fatalf("expected 4 fragments, got %d", len(pkts))
	}

	var reassembled []byte
	for i, p := range pkts {
		if p.Header.PacketID != 99 {
			t.Errorf("fragment %d: expected shared pkt_id 99, got %d", i, p.Header.PacketID)
		}
		if p.Header.SeqNum != uint32(10+i) {
			t.Errorf("fragment %d: expected seq %d, got %d", i, 10+i, p.Header.SeqNum)
		}
		encoded := Encode(p)
		if len(encoded) > MaxPacketSize {
			t.Errorf("fragment %d exceeds max packet size: %d bytes", i, len(encoded))
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("fragment %d failed to decode: %v", i, err)
		}
		reassembled = append(reassembled, decoded.Body...)
	}

	if !bytes.Equal(reassembled, body) {
		t.Error("reassembled body does not match original")
	}
}

func TestFragmentExactMultipleAddsTerminator(t *testing.T) {
	body := bytes.Repeat([]byte{0x01}, MaxBodySize*2)
	pkts := Fragment(MsgSnapshot, 0, 1, 0, 0, body)

	if len(pkts) != 3 {
		t.Fatalf("expected 2 full fragments + 1 terminator, got %d", len(pkts))
	}
	if !IsTerminalFragment(pkts[len(pkts)-1]) {
		t.Error("expected final fragment to be terminal")
	}
	if IsTerminalFragment(pkts[0]) {
		t.Error("expected first full-size fragment to not be terminal")
	}
	if len(pkts[len(pkts)-1].Body) != 0 {
		t.Errorf("expected empty terminator body, got %d bytes", len(pkts[len(pkts)-1].Body))
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	encoded := Encode(Fragment(MsgInit, 0, 1, 0, 0, nil)[0])
	encoded[0] = 'X'
	if _, err := Decode(encoded); err == nil {
		t.Error("expected error for corrupted magic")
	}
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	encoded := Encode(Fragment(MsgInit, 0, 1, 0, 0, nil)[0])
	encoded[4] = ProtocolVersion + 1
	if _, err := Decode(encoded); err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	if _, err := Decode(make([]byte, HeaderSize-1)); err == nil {
		t.Error("expected error for short header")
	}
}

func TestChecksumDetectsSingleBitFlip(t *testing.T) {
	encoded := Encode(Fragment(MsgEvent, 1, 1, 0, 0, []byte{0x01, 0x02, 0x03})[0])

	for i := range encoded {
		corrupted := make([]byte, len(encoded))
		copy(corrupted, encoded)
		corrupted[i] ^= 0x01
		if _, err := Decode(corrupted); err == nil {
			t.Errorf("byte %d: expected checksum mismatch to be detected", i)
		}
	}
}

func TestTrailingBytesIgnored(t *testing.T) {
	encoded := Encode(Fragment(MsgInit, 0, 1, 0, 0, []byte("abc"))[0])
	withGarbage := append(append([]byte{}, encoded...), 0xDE, 0xAD, 0xBE, 0xEF)

	decoded, err := Decode(withGarbage)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(decoded.Body, []byte("abc")) {
		t.Errorf("expected body 'abc', got %q", decoded.Body)
	}
}

func TestEventBodyRoundTrip(t *testing.T) {
	want := EventBody{EventType: EventCellAcquired, RoomID: 3, LocalID: 2, CellIdx: 137}
	got, err := UnmarshalEvent(want.Marshal())
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestJoinAckBodyRoundTrip(t *testing.T) {
	want := JoinAckBody{
		Seq:         5,
		RoomID:      1,
		YourLocalID: 2,
		Members: []Member{
			{PlayerID: 10, LocalID: 1, Color: Color{R: 200, G: 50, B: 60}},
			{PlayerID: 11, LocalID: 2, Color: Color{R: 60, G: 200, B: 50}},
		},
	}
	got, err := UnmarshalJoinAck(want.Marshal())
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got.Seq != want.Seq || got.RoomID != want.RoomID || got.YourLocalID != want.YourLocalID {
		t.Fatalf("header fields mismatch: got %+v", got)
	}
	if len(got.Members) != len(want.Members) {
		t.Fatalf("expected %d members, got %d", len(want.Members), len(got.Members))
	}
	for i := range want.Members {
		if got.Members[i] != want.Members[i] {
			t.Errorf("member %d mismatch: want %+v got %+v", i, want.Members[i], got.Members[i])
		}
	}
}

func TestSnapshotBodyRoundTrip(t *testing.T) {
	var want SnapshotBody
	for i := range want.Grid {
		want.Grid[i] = byte(i % 7)
	}
	got, err := UnmarshalSnapshot(want.Marshal())
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got != want {
		t.Error("grid mismatch after round trip")
	}
}

func TestUpdatesBodyRoundTrip(t *testing.T) {
	want := UpdatesBody{Updates: []UpdateEntry{
		{EventType: EventCellAcquired, LocalID: 1, CellIdx: 0},
		{EventType: EventCellAcquired, LocalID: 2, CellIdx: 399},
	}}
	got, err := UnmarshalUpdates(want.Marshal())
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(got.Updates) != 2 || got.Updates[0] != want.Updates[0] || got.Updates[1] != want.Updates[1] {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}
