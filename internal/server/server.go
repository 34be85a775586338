// ABOUTME: Main server implementation for the TSP time-stamp responder
// ABOUTME: Owns the UDP socket and runs the receive, stamp, reply loop
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/tspd/internal/discovery"
	"github.com/Resonate-Protocol/tspd/internal/version"
	"github.com/Resonate-Protocol/tspd/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	// Large enough that an oversized datagram is never silently truncated to 16 bytes
	maxDatagramSize = 512

	// Read errors in a row before the socket is considered unusable
	maxConsecutiveReadErrors = 8

	statusInterval = time.Second
)

// Config holds server configuration
type Config struct {
	Port          int
	Name          string
	Debug         bool
	Strict        bool   // Drop requests whose tag or version do not match
	ByteOrder     string // "big" (default) or "little"
	EnableMDNS    bool
	WebSocketPort int // 0 disables the WebSocket bridge
	UseTUI        bool

	// Now returns the wall clock used to stamp replies. Defaults to time.Now.
	Now func() time.Time
}

// Stats is a snapshot of the exchange counters
type Stats struct {
	Served     uint64 // Replies stamped, including ones whose send failed
	Malformed  uint64
	Rejected   uint64
	SendErrors uint64
	ReadErrors uint64
	LastClient string
	Uptime     time.Duration
}

// packetConn is the part of *net.UDPConn the exchange loop uses
type packetConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	LocalAddr() net.Addr
	Close() error
}

type counters struct {
	served     atomic.Uint64
	malformed  atomic.Uint64
	rejected   atomic.Uint64
	sendErrors atomic.Uint64
	readErrors atomic.Uint64
	lastClient atomic.Pointer[string]
}

// Server answers TSP time requests on a single UDP socket
type Server struct {
	config   Config
	serverID string
	codec    protocol.Codec
	now      func() time.Time

	// UDP socket, owned by the exchange loop once Serve starts
	conn   packetConn
	connMu sync.Mutex

	// WebSocket bridge
	upgrader   websocket.Upgrader
	httpServer *http.Server
	wsConns    map[*websocket.Conn]struct{}
	wsMu       sync.Mutex

	mdnsManager *discovery.Manager

	tui       *ServerTUI
	startTime atomic.Pointer[time.Time] // Set when the exchange loop starts

	stats counters

	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a new server instance
func New(config Config) (*Server, error) {
	codec, err := protocol.CodecFor(config.ByteOrder)
	if err != nil {
		return nil, err
	}

	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", config.Port)
	}

	if config.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		config.Name = fmt.Sprintf("%s-tspd", hostname)
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Server{
		config:   config,
		serverID: uuid.New().String(),
		codec:    codec,
		now:      now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxDatagramSize,
			WriteBufferSize: maxDatagramSize,
			// Time stamps are public; any origin may ask for one
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		wsConns:  make(map[*websocket.Conn]struct{}),
		stopChan: make(chan struct{}),
	}, nil
}

// ID returns the server instance identifier
func (s *Server) ID() string {
	return s.serverID
}

// Listen binds the UDP socket on all IPv4 interfaces with address reuse enabled
func (s *Server) Listen() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		return nil
	}

	lc := net.ListenConfig{Control: reuseAddrControl}
	addr := fmt.Sprintf("0.0.0.0:%d", s.config.Port)

	pc, err := lc.ListenPacket(context.Background(), "udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	s.conn = pc.(*net.UDPConn)
	return nil
}

// Addr returns the bound UDP address, or nil before Listen
func (s *Server) Addr() *net.UDPAddr {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Start binds the socket if needed and serves until Stop is called or the
// socket fails. The WebSocket bridge, mDNS and TUI run alongside when enabled.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	log.Printf("Started time sync server %s (ID: %s) on udp %s", s.config.Name, s.serverID, s.Addr())
	if s.config.Debug {
		log.Printf("[DEBUG] Byte order: %s, strict: %v", s.codec.Order, s.config.Strict)
	}

	if s.config.UseTUI {
		s.tui = NewServerTUI(s.config.Name, s.Addr().Port)
	}

	s.markStarted()
	g, ctx := errgroup.WithContext(context.Background())

	g.Go(s.serve)

	// Unblock the exchange loop on Stop or when another component fails
	g.Go(func() error {
		select {
		case <-s.stopChan:
		case <-ctx.Done():
		}
		s.closeConn()
		if s.tui != nil {
			s.tui.Stop()
		}
		return nil
	})

	if s.config.WebSocketPort != 0 {
		g.Go(func() error {
			return s.serveWebSocket(ctx)
		})
	}

	if s.config.EnableMDNS {
		s.startMDNS()
	}

	if s.tui != nil {
		g.Go(func() error {
			if err := s.tui.Start(); err != nil {
				log.Printf("TUI error: %v", err)
			}
			return nil
		})

		g.Go(func() error {
			s.statusLoop(ctx)
			return nil
		})
	}

	err := g.Wait()

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	log.Printf("Stopped %s", s.config.Name)
	return err
}

// Serve runs the exchange loop on a socket bound by Listen
func (s *Server) Serve() error {
	if s.Addr() == nil {
		return errors.New("server is not listening")
	}

	s.markStarted()

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-s.stopChan:
			s.closeConn()
		case <-done:
		}
	}()

	return s.serve()
}

// Stop stops the server. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// Stats returns a snapshot of the exchange counters
func (s *Server) Stats() Stats {
	stats := Stats{
		Served:     s.stats.served.Load(),
		Malformed:  s.stats.malformed.Load(),
		Rejected:   s.stats.rejected.Load(),
		SendErrors: s.stats.sendErrors.Load(),
		ReadErrors: s.stats.readErrors.Load(),
	}
	if started := s.startTime.Load(); started != nil {
		stats.Uptime = time.Since(*started)
	}
	if last := s.stats.lastClient.Load(); last != nil {
		stats.LastClient = *last
	}
	return stats
}

// serve is the receive, stamp, reply loop. Only this goroutine reads from or
// writes to the UDP socket.
func (s *Server) serve() error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	buf := make([]byte, maxDatagramSize)
	out := make([]byte, 0, protocol.TimeReplyPacketSize)
	consecutiveErrors := 0

	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if s.stopped() || errors.Is(err, net.ErrClosed) {
				return nil
			}

			// Errors caused by one client's datagram say nothing about the socket
			if errors.Is(err, errDatagramTooLarge) {
				s.stats.malformed.Add(1)
				log.Printf("Dropping oversized datagram: %v", err)
				continue
			}

			s.stats.readErrors.Add(1)

			if isDatagramError(err) {
				log.Printf("Dropping datagram after receive error: %v", err)
				continue
			}

			consecutiveErrors++
			log.Printf("Error receiving datagram: %v", err)

			if consecutiveErrors >= maxConsecutiveReadErrors {
				return fmt.Errorf("udp socket failed after %d consecutive read errors: %w", consecutiveErrors, err)
			}
			continue
		}
		consecutiveErrors = 0

		client := addr.String()
		s.stats.lastClient.Store(&client)

		reply, ok := s.exchange(out, buf[:n], client)
		if !ok {
			continue
		}

		s.stats.served.Add(1)

		if _, err := conn.WriteToUDP(reply, addr); err != nil {
			if s.stopped() {
				return nil
			}
			s.stats.sendErrors.Add(1)
			log.Printf("Error sending reply to %s: %v", client, err)
		}
	}
}

// exchange decodes one request and appends the stamped reply to dst.
// It reports false when the request must be dropped without a reply.
func (s *Server) exchange(dst, datagram []byte, from string) ([]byte, bool) {
	req, err := s.codec.DecodeRequest(datagram)
	if err != nil {
		s.stats.malformed.Add(1)
		log.Printf("Dropping datagram from %s: %v", from, err)
		return nil, false
	}

	if s.config.Strict {
		if err := req.Validate(); err != nil {
			s.stats.rejected.Add(1)
			log.Printf("Rejecting request from %s: %v", from, err)
			return nil, false
		}
	}

	nowMs := protocol.EpochMillis(s.now())

	if s.config.Debug {
		log.Printf("[DEBUG] Request from %s: cookie=%#x, now=%d", from, req.Cookie, nowMs)
	}

	return s.codec.AppendReply(dst[:0], protocol.BuildReply(req, nowMs)), true
}

func isDatagramError(err error) bool {
	for _, target := range datagramErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Server) markStarted() {
	now := time.Now()
	s.startTime.CompareAndSwap(nil, &now)
}

func (s *Server) stopped() bool {
	select {
	case <-s.stopChan:
		return true
	default:
		return false
	}
}

func (s *Server) closeConn() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		s.conn.Close()
	}
}

// startMDNS advertises the UDP service. Failure is logged, not fatal.
func (s *Server) startMDNS() {
	port := s.config.Port
	if addr := s.Addr(); addr != nil {
		port = addr.Port
	}

	s.mdnsManager = discovery.NewManager(discovery.Config{
		ServiceName:  s.config.Name,
		Port:         port,
		ServerID:     s.serverID,
		Manufacturer: version.Manufacturer,
	})

	if err := s.mdnsManager.Advertise(); err != nil {
		log.Printf("Failed to start mDNS advertisement: %v", err)
	} else {
		log.Printf("mDNS advertisement started")
	}
}
