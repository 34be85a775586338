// ABOUTME: Tests for exchange loop error handling against a scripted socket
// ABOUTME: Covers send failures, transient and fatal read errors, and per-datagram errors
package server

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/tspd/pkg/protocol"
)

type readResult struct {
	data []byte
	err  error
}

// scriptedConn replays reads in order, then reports the socket closed
type scriptedConn struct {
	mu       sync.Mutex
	reads    []readResult
	writeErr error
	writes   int
	closed   bool
}

var scriptedPeer = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}

func (c *scriptedConn) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.reads) == 0 {
		return 0, nil, net.ErrClosed
	}
	next := c.reads[0]
	c.reads = c.reads[1:]
	if next.err != nil {
		return 0, nil, next.err
	}
	return copy(b, next.data), scriptedPeer, nil
}

func (c *scriptedConn) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writes++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return len(b), nil
}

func (c *scriptedConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4zero, Port: 4014}
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptedConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func request() readResult {
	return readResult{data: protocol.DefaultCodec.EncodeRequest(protocol.NewRequest(1))}
}

func readErr(err error) readResult {
	return readResult{err: &net.OpError{Op: "read", Net: "udp", Err: err}}
}

func repeat(n int, r readResult) []readResult {
	out := make([]readResult, n)
	for i := range out {
		out[i] = r
	}
	return out
}

func script(parts ...[]readResult) []readResult {
	var out []readResult
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func newScriptedServer(t *testing.T, conn *scriptedConn) *Server {
	t.Helper()

	srv, err := New(Config{})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	srv.conn = conn
	return srv
}

func TestServeErrorHandling(t *testing.T) {
	transient := readErr(errors.New("temporary receive failure"))

	var perDatagram readResult
	if len(datagramErrors) > 0 {
		perDatagram = readErr(datagramErrors[0])
	}

	tests := []struct {
		name       string
		reads      []readResult
		writeErr   error
		skip       bool
		expectErr  bool
		served     uint64
		sendErrors uint64
		readErrors uint64
		malformed  uint64
	}{
		{
			name:       "send failure is counted and serving continues",
			reads:      script(repeat(3, request())),
			writeErr:   errors.New("no route to host"),
			served:     3,
			sendErrors: 3,
		},
		{
			name:       "read errors below the limit are transient",
			reads:      script(repeat(maxConsecutiveReadErrors-1, transient), repeat(1, request())),
			served:     1,
			readErrors: maxConsecutiveReadErrors - 1,
		},
		{
			name:       "consecutive read errors end the loop",
			reads:      script(repeat(maxConsecutiveReadErrors, transient), repeat(1, request())),
			expectErr:  true,
			readErrors: maxConsecutiveReadErrors,
		},
		{
			name: "successful read resets the error count",
			reads: script(
				repeat(maxConsecutiveReadErrors-1, transient),
				repeat(1, request()),
				repeat(maxConsecutiveReadErrors-1, transient),
				repeat(1, request()),
			),
			served:     2,
			readErrors: 2 * (maxConsecutiveReadErrors - 1),
		},
		{
			name:       "per-datagram receive errors are never fatal",
			reads:      script(repeat(3*maxConsecutiveReadErrors, perDatagram), repeat(1, request())),
			skip:       len(datagramErrors) == 0,
			served:     1,
			readErrors: 3 * maxConsecutiveReadErrors,
		},
		{
			name:      "oversized datagrams are malformed",
			reads:     script(repeat(3*maxConsecutiveReadErrors, readErr(errDatagramTooLarge)), repeat(1, request())),
			skip:      errDatagramTooLarge == nil,
			served:    1,
			malformed: 3 * maxConsecutiveReadErrors,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.skip {
				t.Skip("no per-datagram receive errors on this platform")
			}

			conn := &scriptedConn{reads: tt.reads, writeErr: tt.writeErr}
			srv := newScriptedServer(t, conn)

			err := srv.serve()
			if tt.expectErr && err == nil {
				t.Fatal("expected socket-fatal error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			stats := srv.Stats()
			if stats.Served != tt.served {
				t.Errorf("expected %d served, got %d", tt.served, stats.Served)
			}
			if stats.SendErrors != tt.sendErrors {
				t.Errorf("expected %d send errors, got %d", tt.sendErrors, stats.SendErrors)
			}
			if stats.ReadErrors != tt.readErrors {
				t.Errorf("expected %d read errors, got %d", tt.readErrors, stats.ReadErrors)
			}
			if stats.Malformed != tt.malformed {
				t.Errorf("expected %d malformed, got %d", tt.malformed, stats.Malformed)
			}
			if int(tt.served) != conn.writes {
				t.Errorf("expected %d send attempts, got %d", tt.served, conn.writes)
			}
		})
	}
}

func TestServeReleasesStopWatcherOnFatalError(t *testing.T) {
	conn := &scriptedConn{reads: repeat(maxConsecutiveReadErrors, readErr(errors.New("socket gone")))}
	srv := newScriptedServer(t, conn)

	if err := srv.Serve(); err == nil {
		t.Fatal("expected socket-fatal error, got nil")
	}

	// A watcher still waiting on Stop would close the socket now
	srv.Stop()
	time.Sleep(50 * time.Millisecond)

	if conn.isClosed() {
		t.Error("stop watcher outlived Serve")
	}
}

func TestUptimeStartsWithServe(t *testing.T) {
	srv, err := New(Config{})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if uptime := srv.Stats().Uptime; uptime != 0 {
		t.Errorf("expected zero uptime before serving, got %v", uptime)
	}

	srv = startServer(t, Config{})
	time.Sleep(20 * time.Millisecond)

	if uptime := srv.Stats().Uptime; uptime < 20*time.Millisecond {
		t.Errorf("expected uptime of at least 20ms, got %v", uptime)
	}
}
