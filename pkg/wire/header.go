// Package wire implements the ESP fragmented-datagram protocol: a fixed
// 32-byte header, CRC32 integrity digest, and the typed payload bodies
// carried by each message type (spec §6).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// HeaderSize is the fixed on-wire header length in bytes.
const HeaderSize = 32

// MaxPacketSize is the maximum total size of one datagram, header included.
const MaxPacketSize = 1200

// MaxBodySize is the largest body one fragment can carry.
const MaxBodySize = MaxPacketSize - HeaderSize

// ProtocolVersion is the only version this codec understands.
const ProtocolVersion = 1

// Magic is the 4-byte protocol identifier at the start of every packet.
var Magic = [4]byte{'E', 'S', 'P', '1'}

// MessageType enumerates the wire message types (spec §6).
type MessageType byte

const (
	MsgInit MessageType = iota
	MsgInitAck
	MsgCreateRoom
	MsgCreateAck
	MsgJoinRoom
	MsgJoinAck
	MsgLeaveRoom
	MsgLeaveAck
	MsgListRooms
	MsgListRoomsAck
	MsgEvent
	MsgUpdates
	MsgUpdatesAck
	MsgSnapshot
	MsgSnapshotAck
	MsgDisconnect
)

func (t MessageType) String() string {
	switch t {
	case MsgInit:
		return "INIT"
	case MsgInitAck:
		return "INIT_ACK"
	case MsgCreateRoom:
		return "CREATE_ROOM"
	case MsgCreateAck:
		return "CREATE_ACK"
	case MsgJoinRoom:
		return "JOIN_ROOM"
	case MsgJoinAck:
		return "JOIN_ACK"
	case MsgLeaveRoom:
		return "LEAVE_ROOM"
	case MsgLeaveAck:
		return "LEAVE_ACK"
	case MsgListRooms:
		return "LIST_ROOMS"
	case MsgListRoomsAck:
		return "LIST_ROOMS_ACK"
	case MsgEvent:
		return "EVENT"
	case MsgUpdates:
		return "UPDATES"
	case MsgUpdatesAck:
		return "UPDATES_ACK"
	case MsgSnapshot:
		return "SNAPSHOT"
	case MsgSnapshotAck:
		return "SNAPSHOT_ACK"
	case MsgDisconnect:
		return "DISCONNECT"
	default:
		return fmt.Sprintf("MSG(0x%02X)", byte(t))
	}
}

// ErrInvalidPacket is returned for any malformed packet: wrong magic,
// wrong version, short header, or checksum mismatch. Per spec §4.1, a
// caller must treat this as "silently drop", not log at more than debug.
var ErrInvalidPacket = errors.New("wire: invalid packet")

// Header is the fixed 32-byte packet header (spec §6).
type Header struct {
	Version    byte
	Type       MessageType
	SnapshotID uint32
	SeqNum     uint32
	Timestamp  uint64
	PayloadLen uint16
	PacketID   uint32
	Checksum   uint32
}

func (h Header) put(buf []byte, checksum uint32) {
	copy(buf[0:4], Magic[:])
	buf[4] = h.Version
	buf[5] = byte(h.Type)
	binary.BigEndian.PutUint32(buf[6:10], h.SnapshotID)
	binary.BigEndian.PutUint32(buf[10:14], h.SeqNum)
	binary.BigEndian.PutUint64(buf[14:22], h.Timestamp)
	binary.BigEndian.PutUint16(buf[22:24], h.PayloadLen)
	binary.BigEndian.PutUint32(buf[24:28], h.PacketID)
	binary.BigEndian.PutUint32(buf[28:32], checksum)
}

// Packet is one fragment: header plus the bytes it carries.
type Packet struct {
	Header Header
	Body   []byte
}

// Encode serializes p, computing and filling in the CRC32 checksum.
// PayloadLen is derived from len(Body) regardless of what the caller set.
func Encode(p Packet) []byte {
	p.Header.PayloadLen = uint16(len(p.Body))
	buf := make([]byte, HeaderSize+len(p.Body))
	p.Header.put(buf, 0)
	copy(buf[HeaderSize:], p.Body)
	sum := crc32.ChecksumIEEE(buf)
	binary.BigEndian.PutUint32(buf[28:32], sum)
	return buf
}

// Decode parses a single datagram into a Packet. Bytes beyond the
// declared payload length are ignored. Returns ErrInvalidPacket for any
// malformed input; no partial decode is ever observable to the caller.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: short header (%d bytes)", ErrInvalidPacket, len(data))
	}
	if data[0] != Magic[0] || data[1] != Magic[1] || data[2] != Magic[2] || data[3] != Magic[3] {
		return Packet{}, fmt.Errorf("%w: bad magic", ErrInvalidPacket)
	}
	if data[4] != ProtocolVersion {
		return Packet{}, fmt.Errorf("%w: bad version %d", ErrInvalidPacket, data[4])
	}

	payloadLen := binary.BigEndian.Uint16(data[22:24])
	total := HeaderSize + int(payloadLen)
	if total > len(data) {
		return Packet{}, fmt.Errorf("%w: payload_len %d exceeds packet", ErrInvalidPacket, payloadLen)
	}

	gotChecksum := binary.BigEndian.Uint32(data[28:32])
	zeroed := make([]byte, total)
	copy(zeroed, data[:total])
	binary.BigEndian.PutUint32(zeroed[28:32], 0)
	if crc32.ChecksumIEEE(zeroed) != gotChecksum {
		return Packet{}, fmt.Errorf("%w: checksum mismatch", ErrInvalidPacket)
	}

	body := make([]byte, payloadLen)
	copy(body, data[HeaderSize:total])

	return Packet{
		Header: Header{
			Version:    data[4],
			Type:       MessageType(data[5]),
			SnapshotID: binary.BigEndian.Uint32(data[6:10]),
			SeqNum:     binary.BigEndian.Uint32(data[10:14]),
			Timestamp:  binary.BigEndian.Uint64(data[14:22]),
			PayloadLen: payloadLen,
			PacketID:   binary.BigEndian.Uint32(data[24:28]),
			Checksum:   gotChecksum,
		},
		Body: body,
	}, nil
}

// Fragment splits body into an ordered list of packets, each respecting
// MaxPacketSize, sharing pktID, and bearing consecutive sequence numbers
// starting at startSeq. An empty body still produces exactly one packet.
//
// The fixed 32-byte header (spec §6) carries no explicit "total body
// length" field, so completion is signaled structurally instead: the
// final fragment of a logical message always carries a body shorter than
// MaxBodySize. When len(body) is an exact multiple of MaxBodySize, an
// extra empty terminal fragment is appended so the rule still holds — the
// reassembler (pkg/reassembly) relies on this to detect the last piece.
func Fragment(msgType MessageType, startSeq, pktID, snapshotID uint32, timestamp uint64, body []byte) []Packet {
	base := Header{
		Version:    ProtocolVersion,
		Type:       msgType,
		SnapshotID: snapshotID,
		Timestamp:  timestamp,
		PacketID:   pktID,
	}

	if len(body) == 0 {
		h := base
		h.SeqNum = startSeq
		return []Packet{{Header: h}}
	}

	packets := make([]Packet, 0, (len(body)+MaxBodySize-1)/MaxBodySize+1)
	seq := startSeq
	for offset := 0; offset < len(body); offset += MaxBodySize {
		end := offset + MaxBodySize
		if end > len(body) {
			end = len(body)
		}
		h := base
		h.SeqNum = seq
		chunk := make([]byte, end-offset)
		copy(chunk, body[offset:end])
		packets = append(packets, Packet{Header: h, Body: chunk})
		seq++
	}

	if len(body)%MaxBodySize == 0 {
		h := base
		h.SeqNum = seq
		packets = append(packets, Packet{Header: h})
	}

	return packets
}

// IsTerminalFragment reports whether p is the last fragment of its
// logical message under the short-final-fragment convention Fragment uses.
func IsTerminalFragment(p Packet) bool {
	return len(p.Body) < MaxBodySize
}
