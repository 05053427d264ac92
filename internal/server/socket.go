// Socket setup: every shard binds its own *net.UDPConn to the same
// listen address with SO_REUSEPORT, so the kernel load-balances inbound
// datagrams across shards by source address/port instead of a single
// goroutine draining one socket. Grounded in
// _examples/facebook-time/ptp/ptp4u/server/worker.go, which opens one
// socket per worker with unix.SetsockoptInt(..., unix.SO_REUSEPORT, 1)
// before binding.
package server

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// recvBufferBytes is the socket receive (and send) buffer size requested
// on every shard listener through net.UDPConn's SetReadBuffer/
// SetWriteBuffer, the way facebook-time's ptp4u workers size their UDP
// sockets for bursty datagram arrival.
const recvBufferBytes = 4 << 20 // 4 MiB

// listenReusePort opens a UDP socket bound to addr with SO_REUSEPORT set,
// so a second, third, ... shard can bind the identical address.
func listenReusePort(addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: listen %s: %w", addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("server: listen %s: not a UDP socket", addr)
	}

	// IPv4 control messages are an optional tuning knob, unavailable on
	// some platforms/address families (e.g. IPv6) — errors ignored.
	pconn := ipv4.NewPacketConn(conn)
	_ = pconn.SetControlMessage(ipv4.FlagDst, false)

	if err := conn.SetReadBuffer(recvBufferBytes); err != nil {
		conn.Close()
		return nil, fmt.Errorf("server: set read buffer on %s: %w", addr, err)
	}
	if err := conn.SetWriteBuffer(recvBufferBytes); err != nil {
		conn.Close()
		return nil, fmt.Errorf("server: set write buffer on %s: %w", addr, err)
	}

	return conn, nil
}
