// Package client implements the ESP client runtime: a single-peer
// session driving the state reconciler (C8) over its own cooperative
// event loop (C9), symmetric to the server's internal/server.Shard but
// scoped to exactly one peer talking to exactly one server.
//
// Grounded in the teacher's client-facing half of
// ventosilenzioso-go-raknet/source/protocol/raknet.go (a Session is a
// peer-scoped state machine driving one socket), adapted from a
// server-hosted per-connection object into a standalone client runtime.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/eventloop"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/pkg/reassembly"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/pkg/reliability"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/pkg/wire"
)

// pollTimeout is the client-side event-loop poll interval (spec §4.9:
// "10 ms for client").
const pollTimeout = 10 * time.Millisecond

// retryTick is how often pending cell requests are swept for the 100 ms
// retry rule (spec §4.8).
const retryTick = 20 * time.Millisecond

// RoomSummary mirrors wire.RoomSummary for callers outside pkg/wire.
type RoomSummary = wire.RoomSummary

// Member mirrors wire.Member for callers outside pkg/wire.
type Member = wire.Member

// Callbacks are invoked from the event-loop goroutine as replies arrive.
// Every field is optional; a nil callback is simply skipped.
type Callbacks struct {
	OnConnected  func(playerID uint32)
	OnRoomList   func(rooms []RoomSummary)
	OnJoined     func(roomID wire.RoomID, yourLocalID wire.LocalID, members []Member)
	OnLeft       func(members []Member)
	OnGridChange func()
}

// Session is one client's connection to one ESP server.
type Session struct {
	conn   *net.UDPConn
	server *net.UDPAddr
	log    *logrus.Entry
	cb     Callbacks

	reassembler *reassembly.Reassembler
	Reconciler  *Reconciler

	loop *eventloop.Loop

	nextSeq   uint32
	nextPktID uint32
}

// Dial opens a UDP socket connected to serverAddr and builds a Session
// ready to have its event loop run.
func Dial(serverAddr string, cb Callbacks, log *logrus.Entry) (*Session, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("client: resolve %s: %w", serverAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", serverAddr, err)
	}

	s := &Session{
		conn:        conn,
		server:      addr,
		log:         log,
		cb:          cb,
		reassembler: reassembly.New(),
		Reconciler:  New(),
		nextSeq:     1,
		nextPktID:   1,
	}
	s.loop = eventloop.New(conn, pollTimeout, s.handleDatagram)
	s.loop.AddTask(retryTick, s.retryPendingCells)
	return s, nil
}

// Run drives the session's event loop until ctx is canceled.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()
	return s.loop.Run(ctx)
}

// PlayerID returns the id assigned by the server's INIT_ACK, or 0 before
// the handshake completes.
func (s *Session) PlayerID() uint32 { return s.Reconciler.PlayerID }

func (s *Session) allocPktID() uint32 {
	id := s.nextPktID
	s.nextPktID++
	return id
}

// send fragments body under msgType, reserving consecutive sequence
// numbers from the session's own counter, and fires every fragment
// K-redundantly (spec §4.3's fire-and-forget mode — every client-
// originated request in this protocol is either idempotent or, for cell
// acquisition, covered by the pending/retry mechanism in Reconciler).
func (s *Session) send(msgType wire.MessageType, body []byte) {
	pktID := s.allocPktID()
	snapshotID := s.Reconciler.SnapshotID()
	packets := wire.Fragment(msgType, s.nextSeq, pktID, snapshotID, uint64(time.Now().UnixNano()), body)
	s.nextSeq += uint32(len(packets))

	for _, p := range packets {
		encoded := wire.Encode(p)
		reliability.SendRedundant(func(data []byte) {
			if _, err := s.conn.Write(data); err != nil {
				s.log.WithError(err).Debug("send failed")
			}
		}, encoded)
	}
}

// Init sends the INIT handshake (spec §8 scenario (a)).
func (s *Session) Init() { s.send(wire.MsgInit, nil) }

// CreateRoom requests a new room.
func (s *Session) CreateRoom(name string) { s.send(wire.MsgCreateRoom, []byte(name)) }

// JoinRoom requests to join roomID.
func (s *Session) JoinRoom(roomID wire.RoomID) {
	s.send(wire.MsgJoinRoom, wire.JoinRoomBody{RoomID: roomID}.Marshal())
}

// LeaveRoom requests to leave the current room.
func (s *Session) LeaveRoom() { s.send(wire.MsgLeaveRoom, nil) }

// ListRooms requests the current room listing.
func (s *Session) ListRooms() { s.send(wire.MsgListRooms, nil) }

// Disconnect sends a graceful DISCONNECT (spec §8 scenario (f)).
func (s *Session) Disconnect() { s.send(wire.MsgDisconnect, nil) }

// RequestCell attempts to claim cellIdx, deduplicating against an
// already-pending or already-occupied cell locally (spec §4.8).
func (s *Session) RequestCell(cellIdx uint16) {
	if !s.Reconciler.RequestCell(cellIdx, time.Now()) {
		return
	}
	s.sendCellRequest(cellIdx)
}

func (s *Session) sendCellRequest(cellIdx uint16) {
	body := wire.EventBody{EventType: wire.EventCellAcquired, RoomID: s.Reconciler.RoomID, LocalID: s.Reconciler.LocalID, CellIdx: cellIdx}.Marshal()
	s.send(wire.MsgEvent, body)
}

func (s *Session) retryPendingCells(now time.Time) {
	for _, cellIdx := range s.Reconciler.RetryDue(now) {
		s.sendCellRequest(cellIdx)
	}
}

func (s *Session) ackSeq(msgType wire.MessageType, seqs []uint32) {
	for _, seq := range seqs {
		s.send(msgType, wire.SeqAckBody{Seq: seq}.Marshal())
	}
}

func (s *Session) handleDatagram(data []byte, addr *net.UDPAddr) {
	now := time.Now()

	pkt, err := wire.Decode(data)
	if err != nil {
		return
	}

	result, complete := s.reassembler.Add(addr, pkt, now)
	if !complete {
		return
	}

	switch pkt.Header.Type {
	case wire.MsgInitAck:
		body, err := wire.UnmarshalInitAck(result.Body)
		if err != nil {
			return
		}
		s.Reconciler.PlayerID = body.PlayerID
		if s.cb.OnConnected != nil {
			s.cb.OnConnected(body.PlayerID)
		}

	case wire.MsgJoinAck:
		body, err := wire.UnmarshalJoinAck(result.Body)
		if err != nil {
			return
		}
		s.Reconciler.RoomID = body.RoomID
		s.Reconciler.LocalID = body.YourLocalID
		if s.cb.OnJoined != nil {
			s.cb.OnJoined(body.RoomID, body.YourLocalID, body.Members)
		}

	case wire.MsgLeaveAck:
		body, err := wire.UnmarshalLeaveAck(result.Body)
		if err != nil {
			return
		}
		s.Reconciler.RoomID = 0
		s.Reconciler.LocalID = 0
		if s.cb.OnLeft != nil {
			s.cb.OnLeft(body.Members)
		}

	case wire.MsgListRoomsAck:
		body, err := wire.UnmarshalListRoomsAck(result.Body)
		if err != nil {
			return
		}
		if s.cb.OnRoomList != nil {
			s.cb.OnRoomList(body.Rooms)
		}

	case wire.MsgEvent:
		body, err := wire.UnmarshalEvent(result.Body)
		if err != nil {
			return
		}
		s.Reconciler.ApplyEvent(body, pkt.Header.SnapshotID)
		s.notifyGridChange()

	case wire.MsgUpdates:
		body, err := wire.UnmarshalUpdates(result.Body)
		if err != nil {
			return
		}
		s.Reconciler.ApplyUpdates(pkt.Header.SnapshotID, body.Updates)
		s.ackSeq(wire.MsgUpdatesAck, result.SeqNums)
		s.notifyGridChange()

	case wire.MsgSnapshot:
		body, err := wire.UnmarshalSnapshot(result.Body)
		if err != nil {
			return
		}
		s.Reconciler.ApplySnapshot(pkt.Header.SnapshotID, body.Grid)
		s.ackSeq(wire.MsgSnapshotAck, result.SeqNums)
		s.notifyGridChange()
	}
}

func (s *Session) notifyGridChange() {
	if s.cb.OnGridChange != nil {
		s.cb.OnGridChange()
	}
}
