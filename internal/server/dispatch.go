// Per-message handling: a reassembled, integrity-verified logical
// message is decoded by type and routed to the peer registry, room
// manager, or replication engine (spec §4.1/§4.9's peer state machine).
//
// Grounded in the teacher's Session.handlePacket dispatch switch in
// ventosilenzioso-go-raknet/source/protocol/raknet.go, generalized from
// RakNet's internal reliability messages to ESP's application-level
// message-type enumeration.
package server

import (
	"net"
	"time"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/metrics"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/room"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/pkg/reliability"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/pkg/wire"
)

// fragmentCount is the fragment count estimate used to reserve
// sequence numbers for a reply whose body embeds its own Seq field
// (every *_ACK body except UPDATES/SNAPSHOT, which the replication
// engine sends through its own reliable/redundant path).
func fragmentCount(bodyLen int) uint32 {
	if bodyLen == 0 {
		return 1
	}
	n := (bodyLen + wire.MaxBodySize - 1) / wire.MaxBodySize
	if bodyLen%wire.MaxBodySize == 0 {
		n++
	}
	return uint32(n)
}

// replySeq reserves the right number of sequence numbers for a reply
// whose body has zero-length impact from the Seq value itself (Seq is a
// fixed-width field), builds the body twice — once to measure length,
// once with the real starting sequence number baked in — and returns the
// ready-to-fragment body plus the reserved starting sequence.
func (s *Shard) replySeq(playerID uint32, marshal func(seq uint32) []byte) (body []byte, start uint32, ok bool) {
	probe := marshal(0)
	count := fragmentCount(len(probe))
	start, ok = s.registry.NextSeq(playerID, count)
	if !ok {
		return nil, 0, false
	}
	return marshal(start), start, true
}

func (s *Shard) sendRedundantReply(playerID uint32, msgType wire.MessageType, snapshotID uint32, marshal func(seq uint32) []byte, now time.Time) {
	peer, ok := s.registry.ByPlayerID(playerID)
	if !ok {
		return
	}
	body, start, ok := s.replySeq(playerID, marshal)
	if !ok {
		return
	}
	pktID := s.allocPktID()
	packets := wire.Fragment(msgType, start, pktID, snapshotID, uint64(now.UnixNano()), body)
	for _, p := range packets {
		encoded := wire.Encode(p)
		reliability.SendRedundant(func(data []byte) {
			if _, err := s.conn.WriteToUDP(data, peer.Addr); err == nil {
				s.metrics.PacketsSent.Inc()
			}
		}, encoded)
	}
}

func (s *Shard) allocPktID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextPktID
	s.nextPktID++
	return id
}

// handleDatagram is the PacketHandler wired into the shard's event loop.
// It decodes the fragment, reassembles, then dispatches the completed
// logical message.
func (s *Shard) handleDatagram(data []byte, addr *net.UDPAddr) {
	now := time.Now()

	pkt, err := wire.Decode(data)
	if err != nil {
		s.metrics.PacketsDropped.WithLabelValues(metrics.DropReasonMalformed).Inc()
		s.log.WithField("shard_hint", s.shardFor(addr.String())).WithError(err).Debug("dropped malformed datagram")
		return
	}
	s.metrics.PacketsReceived.Inc()

	if pkt.Header.Type != wire.MsgInit {
		if _, ok := s.registry.Lookup(addr); !ok {
			s.metrics.PacketsDropped.WithLabelValues(metrics.DropReasonUnknownPeer).Inc()
			s.log.WithField("shard_hint", s.shardFor(addr.String())).WithField("addr", addr.String()).Debug("dropped datagram from unknown peer")
			return
		}
	}

	result, complete := s.reassembler.Add(addr, pkt, now)
	if !complete {
		return
	}

	// result.SeqNums are the client's own independent fragment-sequence
	// numbers, not an ack of anything tracked in s.reliability — that
	// table is only ever acked via the UPDATES_ACK/SNAPSHOT_ACK body's
	// own seq field (handleUpdatesAck, handleSnapshotAck).
	s.dispatch(pkt.Header.Type, pkt.Header.SnapshotID, result.Body, addr, now)
}

func (s *Shard) dispatch(msgType wire.MessageType, headerSnapshotID uint32, body []byte, addr *net.UDPAddr, now time.Time) {
	switch msgType {
	case wire.MsgInit:
		s.handleInit(addr, now)
	case wire.MsgCreateRoom:
		s.handleCreateRoom(addr, body, now)
	case wire.MsgJoinRoom:
		s.handleJoinRoom(addr, body, now)
	case wire.MsgLeaveRoom:
		s.handleLeaveRoom(addr, now)
	case wire.MsgListRooms:
		s.handleListRooms(addr, now)
	case wire.MsgEvent:
		s.handleEvent(addr, body, now)
	case wire.MsgUpdatesAck:
		s.handleUpdatesAck(addr, headerSnapshotID, body, now)
	case wire.MsgSnapshotAck:
		s.handleSnapshotAck(addr, headerSnapshotID, body, now)
	case wire.MsgDisconnect:
		s.handleDisconnect(addr)
	default:
		s.metrics.PacketsDropped.WithLabelValues(metrics.DropReasonOutOfState).Inc()
	}
}

func (s *Shard) handleInit(addr *net.UDPAddr, now time.Time) {
	peer := s.registry.Init(addr)
	s.sendRedundantReply(peer.PlayerID, wire.MsgInitAck, 0, func(seq uint32) []byte {
		return wire.InitAckBody{Seq: seq, PlayerID: peer.PlayerID}.Marshal()
	}, now)
}

func (s *Shard) handleCreateRoom(addr *net.UDPAddr, body []byte, now time.Time) {
	peer, ok := s.registry.Lookup(addr)
	if !ok {
		return
	}
	id, err := s.rooms.CreateRoom(string(body))
	if err != nil {
		s.metrics.PacketsDropped.WithLabelValues(metrics.DropReasonOutOfState).Inc()
		return
	}
	s.sendRedundantReply(peer.PlayerID, wire.MsgCreateAck, 0, func(seq uint32) []byte {
		return wire.CreateAckBody{Seq: seq, RoomID: id}.Marshal()
	}, now)
}

func (s *Shard) handleJoinRoom(addr *net.UDPAddr, body []byte, now time.Time) {
	peer, ok := s.registry.Lookup(addr)
	if !ok {
		return
	}
	req, err := wire.UnmarshalJoinRoom(body)
	if err != nil {
		s.metrics.PacketsDropped.WithLabelValues(metrics.DropReasonMalformed).Inc()
		return
	}

	r, member, roster, err := s.rooms.Join(req.RoomID, peer.PlayerID)
	if err != nil {
		s.metrics.PacketsDropped.WithLabelValues(metrics.DropReasonOutOfState).Inc()
		return
	}
	if err := s.registry.SetRoom(peer.PlayerID, uint8(req.RoomID), uint8(member.LocalID)); err != nil {
		return
	}

	// Every existing member's local view of the roster must converge on
	// the new membership too, each told its own your_local_id.
	wireMembers := toWireMembers(roster)
	for _, m := range roster {
		m := m
		s.sendRedundantReply(m.PlayerID, wire.MsgJoinAck, r.SnapshotID(), func(seq uint32) []byte {
			return wire.JoinAckBody{Seq: seq, RoomID: req.RoomID, YourLocalID: m.LocalID, Members: wireMembers}.Marshal()
		}, now)
	}
}

func (s *Shard) handleLeaveRoom(addr *net.UDPAddr, now time.Time) {
	peer, ok := s.registry.Lookup(addr)
	if !ok || peer.RoomID == 0 {
		s.metrics.PacketsDropped.WithLabelValues(metrics.DropReasonOutOfState).Inc()
		return
	}

	roomID := wire.RoomID(peer.RoomID)
	localID := wire.LocalID(peer.LocalID)
	roster, err := s.rooms.Leave(roomID, localID)
	if err != nil {
		return
	}
	s.registry.SetRoom(peer.PlayerID, 0, 0)

	wireMembers := toWireMembers(roster)
	for _, m := range roster {
		s.sendRedundantReply(m.PlayerID, wire.MsgLeaveAck, 0, func(seq uint32) []byte {
			return wire.LeaveAckBody{Seq: seq, Members: wireMembers}.Marshal()
		}, now)
	}
	// The departing peer also learns the (now roster-minus-self) result,
	// so it can clear its local roster view even though it is no longer
	// a member.
	s.sendRedundantReply(peer.PlayerID, wire.MsgLeaveAck, 0, func(seq uint32) []byte {
		return wire.LeaveAckBody{Seq: seq, Members: wireMembers}.Marshal()
	}, now)
}

func (s *Shard) handleListRooms(addr *net.UDPAddr, now time.Time) {
	peer, ok := s.registry.Lookup(addr)
	if !ok {
		return
	}
	rooms := s.rooms.List()
	summaries := make([]wire.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		summaries = append(summaries, wire.RoomSummary{
			RoomID:      r.ID,
			PlayerCount: byte(r.PlayerCount()),
			Name:        r.Name,
		})
	}
	s.sendRedundantReply(peer.PlayerID, wire.MsgListRoomsAck, 0, func(seq uint32) []byte {
		return wire.ListRoomsAckBody{Seq: seq, Rooms: summaries}.Marshal()
	}, now)
}

func (s *Shard) handleEvent(addr *net.UDPAddr, body []byte, now time.Time) {
	peer, ok := s.registry.Lookup(addr)
	if !ok || peer.RoomID == 0 {
		s.metrics.PacketsDropped.WithLabelValues(metrics.DropReasonOutOfState).Inc()
		return
	}
	ev, err := wire.UnmarshalEvent(body)
	if err != nil {
		s.metrics.PacketsDropped.WithLabelValues(metrics.DropReasonMalformed).Inc()
		return
	}
	s.replication.HandleCellAcquisition(wire.RoomID(peer.RoomID), peer.PlayerID, wire.LocalID(peer.LocalID), ev.CellIdx, now)
}

func (s *Shard) handleUpdatesAck(addr *net.UDPAddr, headerSnapshotID uint32, body []byte, now time.Time) {
	peer, ok := s.registry.Lookup(addr)
	if !ok || peer.RoomID == 0 {
		return
	}
	ack, err := wire.UnmarshalSeqAck(body)
	if err != nil {
		s.metrics.PacketsDropped.WithLabelValues(metrics.DropReasonMalformed).Inc()
		return
	}
	s.replication.OnUpdatesAck(peer.PlayerID, wire.RoomID(peer.RoomID), headerSnapshotID, ack.Seq, now)
}

func (s *Shard) handleSnapshotAck(addr *net.UDPAddr, headerSnapshotID uint32, body []byte, now time.Time) {
	peer, ok := s.registry.Lookup(addr)
	if !ok || peer.RoomID == 0 {
		return
	}
	ack, err := wire.UnmarshalSeqAck(body)
	if err != nil {
		s.metrics.PacketsDropped.WithLabelValues(metrics.DropReasonMalformed).Inc()
		return
	}
	s.replication.OnSnapshotAck(peer.PlayerID, wire.RoomID(peer.RoomID), headerSnapshotID, ack.Seq, now)
}

// handleDisconnect implements spec §4.1/§4.9's teardown path: leave the
// room (fanning LEAVE_ACK to the remaining members), purge reassembly
// and unacknowledged entries, then remove the peer entirely.
func (s *Shard) handleDisconnect(addr *net.UDPAddr) {
	peer, err := s.registry.Remove(addr)
	if err != nil {
		return
	}
	if peer.RoomID != 0 {
		roster, err := s.rooms.Leave(wire.RoomID(peer.RoomID), wire.LocalID(peer.LocalID))
		if err == nil {
			wireMembers := toWireMembers(roster)
			for _, m := range roster {
				s.sendRedundantReply(m.PlayerID, wire.MsgLeaveAck, 0, func(seq uint32) []byte {
					return wire.LeaveAckBody{Seq: seq, Members: wireMembers}.Marshal()
				}, time.Now())
			}
		}
	}
	s.reassembler.PurgePeer(addr)
	s.reliability.PurgePeer(peer.PlayerID)
}

func toWireMembers(members []room.Member) []wire.Member {
	out := make([]wire.Member, len(members))
	for i, m := range members {
		out[i] = wire.Member{PlayerID: m.PlayerID, LocalID: m.LocalID, Color: m.Color}
	}
	return out
}
