// Package eventloop implements the ESP cooperative event loop (C9, spec
// §4.9/§5): one goroutine polling a single datagram endpoint with a
// short non-blocking timeout, draining every readable datagram, then
// running due periodic tasks in insertion order.
//
// Adapted from the teacher's listen()/updateLoop()/sessionCleanupLoop()
// trio of independently-ticking goroutines in
// ventosilenzioso-go-raknet/source/server/server.go, collapsed into the
// single loop spec §5 requires — this is the one place the teacher's
// concurrency model actively contradicts the target model, so the three
// loops become one, and periodic tasks that used to each own a
// time.Ticker become entries in a single ordered timer wheel instead.
package eventloop

import (
	"context"
	"net"
	"time"
)

// PacketHandler processes one inbound datagram.
type PacketHandler func(data []byte, addr *net.UDPAddr)

// Task is one periodic job: interval, and the function to run when due.
type Task struct {
	Interval time.Duration
	Fn       func(now time.Time)
	lastRun  time.Time
}

// Loop is a single-threaded cooperative scheduler over one UDP socket.
type Loop struct {
	conn        *net.UDPConn
	pollTimeout time.Duration
	handler     PacketHandler
	tasks       []*Task
	bufSize     int
}

// New returns a Loop bound to conn. pollTimeout is the per-iteration
// socket read deadline (spec §4.9: "~10 µs for server, 10 ms for
// client"); handler is invoked once per successfully-read datagram.
func New(conn *net.UDPConn, pollTimeout time.Duration, handler PacketHandler) *Loop {
	return &Loop{
		conn:        conn,
		pollTimeout: pollTimeout,
		handler:     handler,
		bufSize:     2048,
	}
}

// AddTask registers a periodic task, run in the order tasks were added
// whenever due (spec §4.9: "in insertion order"). The first run happens
// after one full interval has elapsed from registration.
func (l *Loop) AddTask(interval time.Duration, fn func(now time.Time)) {
	l.tasks = append(l.tasks, &Task{Interval: interval, Fn: fn, lastRun: time.Now()})
}

// Run executes the loop until ctx is canceled. Each iteration: poll the
// socket with pollTimeout, drain every datagram currently queued, then
// run every due periodic task. No task blocks — handler and task
// functions are expected to be non-blocking per spec §5.
func (l *Loop) Run(ctx context.Context) error {
	buf := make([]byte, l.bufSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(l.pollTimeout)); err != nil {
			return err
		}

		for {
			n, addr, err := l.conn.ReadFromUDP(buf)
			if err != nil {
				break
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			l.handler(data, addr)
		}

		now := time.Now()
		for _, t := range l.tasks {
			if now.Sub(t.lastRun) >= t.Interval {
				t.Fn(now)
				t.lastRun = now
			}
		}
	}
}
