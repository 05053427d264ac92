package replication

import (
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/registry"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/room"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/pkg/reliability"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/pkg/wire"
)

type recordedSend struct {
	addr *net.UDPAddr
	pkt  wire.Packet
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []recordedSend
}

func (f *fakeTransport) WriteTo(data []byte, addr *net.UDPAddr) (int, error) {
	p, err := wire.Decode(data)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	f.sent = append(f.sent, recordedSend{addr: addr, pkt: p})
	f.mu.Unlock()
	return len(data), nil
}

func (f *fakeTransport) byType(t wire.MessageType) []recordedSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedSend
	for _, s := range f.sent {
		if s.pkt.Header.Type == t {
			out = append(out, s)
		}
	}
	return out
}

func testAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func setup(t *testing.T, requiredPlayers int) (*Engine, *room.Manager, *registry.Registry, *fakeTransport) {
	t.Helper()
	reg := registry.New()
	rooms := room.NewManager(requiredPlayers, room.RandomColorPicker(rand.New(rand.NewSource(1))))
	rel := reliability.NewTable()
	transport := &fakeTransport{}
	eng := New(rooms, reg, rel, transport, nil)
	return eng, rooms, reg, transport
}

func joinN(t *testing.T, rooms *room.Manager, reg *registry.Registry, id wire.RoomID, n int) []uint32 {
	t.Helper()
	playerIDs := make([]uint32, n)
	for i := 0; i < n; i++ {
		peer := reg.Init(testAddr(1000 + i))
		_, member, _, err := rooms.Join(id, peer.PlayerID)
		require.NoError(t, err)
		require.NoError(t, reg.SetRoom(peer.PlayerID, uint8(id), uint8(member.LocalID)))
		playerIDs[i] = peer.PlayerID
	}
	return playerIDs
}

func TestBroadcastSkipsRoomBelowCapacity(t *testing.T) {
	eng, rooms, reg, transport := setup(t, 4)
	id, _ := rooms.CreateRoom("room")
	joinN(t, rooms, reg, id, 2)

	r, _ := rooms.Get(id)
	r.AcquireCell(1, 5)

	eng.Broadcast(time.Now())
	require.Empty(t, transport.byType(wire.MsgUpdates))
}

func TestBroadcastSendsUpdatesToEveryMember(t *testing.T) {
	eng, rooms, reg, transport := setup(t, 2)
	id, _ := rooms.CreateRoom("room")
	joinN(t, rooms, reg, id, 2)

	r, _ := rooms.Get(id)
	r.AcquireCell(1, 5)

	eng.Broadcast(time.Now())
	sent := transport.byType(wire.MsgUpdates)
	require.Len(t, sent, 2, "both members should receive the broadcast")
}

func TestOnUpdatesAckSendsTargetedDeltaWithinWindow(t *testing.T) {
	eng, rooms, reg, transport := setup(t, 1)
	id, _ := rooms.CreateRoom("room")
	players := joinN(t, rooms, reg, id, 1)

	r, _ := rooms.Get(id)
	for i := uint16(0); i < 5; i++ {
		r.AcquireCell(1, i)
	}

	eng.OnUpdatesAck(players[0], id, 2, 1, time.Now())

	sent := transport.byType(wire.MsgUpdates)
	require.Len(t, sent, 1)
	body, err := wire.UnmarshalUpdates(sent[0].pkt.Body)
	require.NoError(t, err)
	require.Len(t, body.Updates, 3, "lag of 3 should yield exactly 3 trailing updates")
}

func TestOnUpdatesAckBeyondWindowSendsSnapshot(t *testing.T) {
	eng, rooms, reg, transport := setup(t, 1)
	id, _ := rooms.CreateRoom("room")
	players := joinN(t, rooms, reg, id, 1)

	r, _ := rooms.Get(id)
	for i := uint16(0); i < uint16(room.MaxUpdates+5); i++ {
		r.AcquireCell(1, i)
	}

	eng.OnUpdatesAck(players[0], id, 0, 1, time.Now())

	require.Empty(t, transport.byType(wire.MsgUpdates))
	sent := transport.byType(wire.MsgSnapshot)
	require.Len(t, sent, 1)
}

func TestOnUpdatesAckZeroLagSendsNothing(t *testing.T) {
	eng, rooms, reg, transport := setup(t, 1)
	id, _ := rooms.CreateRoom("room")
	players := joinN(t, rooms, reg, id, 1)

	r, _ := rooms.Get(id)
	r.AcquireCell(1, 1)

	eng.OnUpdatesAck(players[0], id, r.SnapshotID(), 1, time.Now())

	require.Empty(t, transport.byType(wire.MsgUpdates))
	require.Empty(t, transport.byType(wire.MsgSnapshot))
}

func TestOnSnapshotAckResendsIfRoomAdvanced(t *testing.T) {
	eng, rooms, reg, transport := setup(t, 1)
	id, _ := rooms.CreateRoom("room")
	players := joinN(t, rooms, reg, id, 1)

	r, _ := rooms.Get(id)
	r.AcquireCell(1, 9)

	eng.OnSnapshotAck(players[0], id, 0, 1, time.Now())
	require.Len(t, transport.byType(wire.MsgSnapshot), 1)
}

func TestOnSnapshotAckCurrentSendsNothing(t *testing.T) {
	eng, rooms, reg, transport := setup(t, 1)
	id, _ := rooms.CreateRoom("room")
	players := joinN(t, rooms, reg, id, 1)

	r, _ := rooms.Get(id)
	r.AcquireCell(1, 9)

	eng.OnSnapshotAck(players[0], id, r.SnapshotID(), 1, time.Now())
	require.Empty(t, transport.byType(wire.MsgSnapshot))
}

func TestHandleCellAcquisitionRejectedWhenRoomNotFull(t *testing.T) {
	eng, rooms, reg, transport := setup(t, 4)
	id, _ := rooms.CreateRoom("room")
	players := joinN(t, rooms, reg, id, 2)

	eng.HandleCellAcquisition(id, players[0], 1, 7, time.Now())

	events := transport.byType(wire.MsgEvent)
	require.NotEmpty(t, events)
	for _, e := range events {
		require.Equal(t, players[0], mustLookupPlayerID(t, reg, e.addr))
		body, err := wire.UnmarshalEvent(e.pkt.Body)
		require.NoError(t, err)
		require.Equal(t, wire.LocalID(0), body.LocalID, "rejection must carry local_id=0")
	}
}

func TestHandleCellAcquisitionBroadcastsOnSuccess(t *testing.T) {
	eng, rooms, reg, transport := setup(t, 2)
	id, _ := rooms.CreateRoom("room")
	players := joinN(t, rooms, reg, id, 2)

	eng.HandleCellAcquisition(id, players[0], 1, 7, time.Now())

	events := transport.byType(wire.MsgEvent)
	require.NotEmpty(t, events)

	seenAddrs := make(map[string]bool)
	for _, e := range events {
		body, err := wire.UnmarshalEvent(e.pkt.Body)
		require.NoError(t, err)
		require.Equal(t, wire.LocalID(1), body.LocalID)
		seenAddrs[e.addr.String()] = true
	}
	require.Len(t, seenAddrs, 2, "both members should see the successful acquisition")
}

func TestHandleCellAcquisitionConflictKeepsFirstOwner(t *testing.T) {
	eng, rooms, reg, transport := setup(t, 2)
	id, _ := rooms.CreateRoom("room")
	players := joinN(t, rooms, reg, id, 2)

	eng.HandleCellAcquisition(id, players[0], 1, 7, time.Now())
	eng.HandleCellAcquisition(id, players[1], 2, 7, time.Now())

	events := transport.byType(wire.MsgEvent)
	for _, e := range events {
		body, err := wire.UnmarshalEvent(e.pkt.Body)
		require.NoError(t, err)
		require.Equal(t, wire.LocalID(1), body.LocalID, "second request must not change the owner")
	}
}

func mustLookupPlayerID(t *testing.T, reg *registry.Registry, addr *net.UDPAddr) uint32 {
	t.Helper()
	p, ok := reg.Lookup(addr)
	require.True(t, ok)
	return p.PlayerID
}
