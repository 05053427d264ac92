package eventloop

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	return conn
}

func TestLoopDispatchesReceivedDatagrams(t *testing.T) {
	conn := listenLoopback(t)
	defer conn.Close()

	var mu sync.Mutex
	var received [][]byte

	loop := New(conn, time.Millisecond, func(data []byte, addr *net.UDPAddr) {
		mu.Lock()
		received = append(received, append([]byte{}, data...))
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	sender, err := net.DialUDP("udp", nil, conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer sender.Close()
	sender.Write([]byte("hello"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || string(received[0]) != "hello" {
		t.Fatalf("expected to receive one 'hello' datagram, got %v", received)
	}
}

func TestLoopRunsDueTasksInInsertionOrder(t *testing.T) {
	conn := listenLoopback(t)
	defer conn.Close()

	var mu sync.Mutex
	var order []string

	loop := New(conn, time.Millisecond, func(data []byte, addr *net.UDPAddr) {})
	loop.AddTask(2*time.Millisecond, func(now time.Time) {
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
	})
	loop.AddTask(2*time.Millisecond, func(now time.Time) {
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(order) < 2 {
		t.Fatalf("expected both tasks to have run at least once, got %v", order)
	}
	if order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected insertion order a,b on the first round, got %v", order[:2])
	}
}

func TestLoopStopsOnContextCancel(t *testing.T) {
	conn := listenLoopback(t)
	defer conn.Close()

	loop := New(conn, time.Millisecond, func(data []byte, addr *net.UDPAddr) {})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after context cancellation")
	}
}
