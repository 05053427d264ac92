package wire

import (
	"encoding/binary"
	"fmt"
)

// RoomID identifies a room. The wire format allocates one byte to it
// (spec §6), consistent with §1's "bounded small number of rooms"
// non-goal — ESP never targets more than 255 live rooms per server.
type RoomID byte

// LocalID identifies a player within a room, 1..N, 0 meaning "none".
type LocalID byte

// EventType distinguishes the kinds of state-changing events carried in
// EVENT and UPDATES bodies. Cell acquisition is the only one spec.md
// defines.
type EventType byte

// EventCellAcquired is the sole event type: a cell changed from empty to
// owned (or the acquisition was rejected, signaled by LocalID == 0).
const EventCellAcquired EventType = 0

// Color is a player's RGB room color (component channels 50..255 per
// spec §4.5's color-assignment rule).
type Color struct {
	R, G, B byte
}

// Member is one room roster entry as carried in JOIN_ACK/LEAVE_ACK.
type Member struct {
	PlayerID uint32
	LocalID  LocalID
	Color    Color
}

func marshalMembers(buf []byte, members []Member) []byte {
	buf = append(buf, byte(len(members)))
	for _, m := range members {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], m.PlayerID)
		buf = append(buf, tmp[:]...)
		buf = append(buf, byte(m.LocalID), m.Color.R, m.Color.G, m.Color.B)
	}
	return buf
}

func unmarshalMembers(data []byte) ([]Member, []byte, error) {
	if len(data) < 1 {
		return nil, nil, fmt.Errorf("%w: missing member count", ErrInvalidPacket)
	}
	count := int(data[0])
	data = data[1:]
	members := make([]Member, 0, count)
	for i := 0; i < count; i++ {
		if len(data) < 8 {
			return nil, nil, fmt.Errorf("%w: truncated member entry", ErrInvalidPacket)
		}
		members = append(members, Member{
			PlayerID: binary.BigEndian.Uint32(data[0:4]),
			LocalID:  LocalID(data[4]),
			Color:    Color{R: data[5], G: data[6], B: data[7]},
		})
		data = data[8:]
	}
	return members, data, nil
}

// InitAckBody is the INIT_ACK payload: seq(4) player_id(4).
type InitAckBody struct {
	Seq      uint32
	PlayerID uint32
}

func (b InitAckBody) Marshal() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], b.Seq)
	binary.BigEndian.PutUint32(buf[4:8], b.PlayerID)
	return buf
}

func UnmarshalInitAck(data []byte) (InitAckBody, error) {
	if len(data) < 8 {
		return InitAckBody{}, fmt.Errorf("%w: short INIT_ACK", ErrInvalidPacket)
	}
	return InitAckBody{
		Seq:      binary.BigEndian.Uint32(data[0:4]),
		PlayerID: binary.BigEndian.Uint32(data[4:8]),
	}, nil
}

// CreateAckBody is the CREATE_ACK payload: seq(4) room_id(1).
type CreateAckBody struct {
	Seq    uint32
	RoomID RoomID
}

func (b CreateAckBody) Marshal() []byte {
	buf := make([]byte, 5)
	binary.BigEndian.PutUint32(buf[0:4], b.Seq)
	buf[4] = byte(b.RoomID)
	return buf
}

func UnmarshalCreateAck(data []byte) (CreateAckBody, error) {
	if len(data) < 5 {
		return CreateAckBody{}, fmt.Errorf("%w: short CREATE_ACK", ErrInvalidPacket)
	}
	return CreateAckBody{
		Seq:    binary.BigEndian.Uint32(data[0:4]),
		RoomID: RoomID(data[4]),
	}, nil
}

// JoinRoomBody is the JOIN_ROOM payload: room_id(1).
type JoinRoomBody struct {
	RoomID RoomID
}

func (b JoinRoomBody) Marshal() []byte { return []byte{byte(b.RoomID)} }

func UnmarshalJoinRoom(data []byte) (JoinRoomBody, error) {
	if len(data) < 1 {
		return JoinRoomBody{}, fmt.Errorf("%w: short JOIN_ROOM", ErrInvalidPacket)
	}
	return JoinRoomBody{RoomID: RoomID(data[0])}, nil
}

// JoinAckBody is the JOIN_ACK payload:
// seq(4) room_id(1) your_local_id(1) count(1) then count * member.
type JoinAckBody struct {
	Seq         uint32
	RoomID      RoomID
	YourLocalID LocalID
	Members     []Member
}

func (b JoinAckBody) Marshal() []byte {
	buf := make([]byte, 0, 7+8*len(b.Members))
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], b.Seq)
	buf = append(buf, tmp[:]...)
	buf = append(buf, byte(b.RoomID), byte(b.YourLocalID))
	return marshalMembers(buf, b.Members)
}

func UnmarshalJoinAck(data []byte) (JoinAckBody, error) {
	if len(data) < 6 {
		return JoinAckBody{}, fmt.Errorf("%w: short JOIN_ACK", ErrInvalidPacket)
	}
	b := JoinAckBody{
		Seq:         binary.BigEndian.Uint32(data[0:4]),
		RoomID:      RoomID(data[4]),
		YourLocalID: LocalID(data[5]),
	}
	members, _, err := unmarshalMembers(data[6:])
	if err != nil {
		return JoinAckBody{}, err
	}
	b.Members = members
	return b, nil
}

// LeaveAckBody is the LEAVE_ACK payload: seq(4) count(1) then count * member.
type LeaveAckBody struct {
	Seq     uint32
	Members []Member
}

func (b LeaveAckBody) Marshal() []byte {
	buf := make([]byte, 0, 5+8*len(b.Members))
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], b.Seq)
	buf = append(buf, tmp[:]...)
	return marshalMembers(buf, b.Members)
}

func UnmarshalLeaveAck(data []byte) (LeaveAckBody, error) {
	if len(data) < 4 {
		return LeaveAckBody{}, fmt.Errorf("%w: short LEAVE_ACK", ErrInvalidPacket)
	}
	b := LeaveAckBody{Seq: binary.BigEndian.Uint32(data[0:4])}
	members, _, err := unmarshalMembers(data[4:])
	if err != nil {
		return LeaveAckBody{}, err
	}
	b.Members = members
	return b, nil
}

// RoomSummary is one LIST_ROOMS_ACK entry.
type RoomSummary struct {
	RoomID      RoomID
	PlayerCount byte
	Name        string
}

// ListRoomsAckBody is the LIST_ROOMS_ACK payload:
// seq(4) count(1) then count * (room_id(1) player_count(1) name_len(1) name).
type ListRoomsAckBody struct {
	Seq   uint32
	Rooms []RoomSummary
}

func (b ListRoomsAckBody) Marshal() []byte {
	buf := make([]byte, 0, 5+8*len(b.Rooms))
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], b.Seq)
	buf = append(buf, tmp[:]...)
	buf = append(buf, byte(len(b.Rooms)))
	for _, r := range b.Rooms {
		name := []byte(r.Name)
		if len(name) > 255 {
			name = name[:255]
		}
		buf = append(buf, byte(r.RoomID), r.PlayerCount, byte(len(name)))
		buf = append(buf, name...)
	}
	return buf
}

func UnmarshalListRoomsAck(data []byte) (ListRoomsAckBody, error) {
	if len(data) < 5 {
		return ListRoomsAckBody{}, fmt.Errorf("%w: short LIST_ROOMS_ACK", ErrInvalidPacket)
	}
	b := ListRoomsAckBody{Seq: binary.BigEndian.Uint32(data[0:4])}
	count := int(data[4])
	rest := data[5:]
	for i := 0; i < count; i++ {
		if len(rest) < 3 {
			return ListRoomsAckBody{}, fmt.Errorf("%w: truncated room summary", ErrInvalidPacket)
		}
		nameLen := int(rest[2])
		if len(rest) < 3+nameLen {
			return ListRoomsAckBody{}, fmt.Errorf("%w: truncated room name", ErrInvalidPacket)
		}
		b.Rooms = append(b.Rooms, RoomSummary{
			RoomID:      RoomID(rest[0]),
			PlayerCount: rest[1],
			Name:        string(rest[3 : 3+nameLen]),
		})
		rest = rest[3+nameLen:]
	}
	return b, nil
}

// EventBody is the EVENT payload: event_type(1) room_id(1) local_id(1) cell_idx(2).
// LocalID == 0 in server-to-client direction means "rejected".
type EventBody struct {
	EventType EventType
	RoomID    RoomID
	LocalID   LocalID
	CellIdx   uint16
}

func (b EventBody) Marshal() []byte {
	buf := make([]byte, 5)
	buf[0] = byte(b.EventType)
	buf[1] = byte(b.RoomID)
	buf[2] = byte(b.LocalID)
	binary.BigEndian.PutUint16(buf[3:5], b.CellIdx)
	return buf
}

func UnmarshalEvent(data []byte) (EventBody, error) {
	if len(data) < 5 {
		return EventBody{}, fmt.Errorf("%w: short EVENT", ErrInvalidPacket)
	}
	return EventBody{
		EventType: EventType(data[0]),
		RoomID:    RoomID(data[1]),
		LocalID:   LocalID(data[2]),
		CellIdx:   binary.BigEndian.Uint16(data[3:5]),
	}, nil
}

// UpdateEntry is one `(event_type, local_id, cell_idx)` tuple.
type UpdateEntry struct {
	EventType EventType
	LocalID   LocalID
	CellIdx   uint16
}

// UpdatesBody is the UPDATES payload: count(2) then count * UpdateEntry.
type UpdatesBody struct {
	Updates []UpdateEntry
}

func (b UpdatesBody) Marshal() []byte {
	buf := make([]byte, 2, 2+4*len(b.Updates))
	binary.BigEndian.PutUint16(buf, uint16(len(b.Updates)))
	for _, u := range b.Updates {
		var cell [2]byte
		binary.BigEndian.PutUint16(cell[:], u.CellIdx)
		buf = append(buf, byte(u.EventType), byte(u.LocalID), cell[0], cell[1])
	}
	return buf
}

func UnmarshalUpdates(data []byte) (UpdatesBody, error) {
	if len(data) < 2 {
		return UpdatesBody{}, fmt.Errorf("%w: short UPDATES", ErrInvalidPacket)
	}
	count := int(binary.BigEndian.Uint16(data[0:2]))
	rest := data[2:]
	if len(rest) < count*4 {
		return UpdatesBody{}, fmt.Errorf("%w: truncated UPDATES", ErrInvalidPacket)
	}
	b := UpdatesBody{Updates: make([]UpdateEntry, 0, count)}
	for i := 0; i < count; i++ {
		entry := rest[i*4 : i*4+4]
		b.Updates = append(b.Updates, UpdateEntry{
			EventType: EventType(entry[0]),
			LocalID:   LocalID(entry[1]),
			CellIdx:   binary.BigEndian.Uint16(entry[2:4]),
		})
	}
	return b, nil
}

// SeqAckBody is the UPDATES_ACK/SNAPSHOT_ACK payload: seq(4), the
// fragment-sequence number being acknowledged.
type SeqAckBody struct {
	Seq uint32
}

func (b SeqAckBody) Marshal() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, b.Seq)
	return buf
}

func UnmarshalSeqAck(data []byte) (SeqAckBody, error) {
	if len(data) < 4 {
		return SeqAckBody{}, fmt.Errorf("%w: short seq ack", ErrInvalidPacket)
	}
	return SeqAckBody{Seq: binary.BigEndian.Uint32(data[0:4])}, nil
}

// GridSize is the fixed room grid dimension (20x20 cells, spec §1).
const GridSize = 400

// SnapshotBody is the SNAPSHOT payload: 400 bytes, one cell owner's
// local_id each.
type SnapshotBody struct {
	Grid [GridSize]byte
}

func (b SnapshotBody) Marshal() []byte {
	buf := make([]byte, GridSize)
	copy(buf, b.Grid[:])
	return buf
}

func UnmarshalSnapshot(data []byte) (SnapshotBody, error) {
	if len(data) < GridSize {
		return SnapshotBody{}, fmt.Errorf("%w: short SNAPSHOT", ErrInvalidPacket)
	}
	var b SnapshotBody
	copy(b.Grid[:], data[:GridSize])
	return b, nil
}
