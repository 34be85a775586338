// ABOUTME: UDP client for TSP time servers
// ABOUTME: Sends requests, matches replies by cookie, and measures round-trip time
package tsp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/tspd/pkg/protocol"
)

const (
	// DefaultTimeout bounds a single query when the context has no earlier deadline
	DefaultTimeout = time.Second

	// Room for oversized junk so it is detected rather than truncated
	readBufferSize = 512
)

// ClientConfig holds client configuration
type ClientConfig struct {
	// ServerAddr is the server address (host:port)
	ServerAddr string

	// Timeout bounds each query (default: 1s)
	Timeout time.Duration

	// ByteOrder must match the server: "big" (default) or "little"
	ByteOrder string

	// Debug logs skipped replies
	Debug bool
}

// Result describes one completed exchange
type Result struct {
	Reply      protocol.TimeReply
	Sent       time.Time // Local time the request was written
	Received   time.Time // Local time the reply was read
	RTT        time.Duration
	ServerTime time.Time
}

// Client queries a single TSP server
type Client struct {
	config ClientConfig
	codec  protocol.Codec
	conn   *net.UDPConn

	// One exchange at a time; replies are read from a shared socket
	mu         sync.Mutex
	nextCookie atomic.Uint64
}

// Dial resolves the server address and opens a connected UDP socket
func Dial(config ClientConfig) (*Client, error) {
	if config.ServerAddr == "" {
		return nil, errors.New("server address is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	codec, err := protocol.CodecFor(config.ByteOrder)
	if err != nil {
		return nil, err
	}

	raddr, err := net.ResolveUDPAddr("udp", config.ServerAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", config.ServerAddr, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	c := &Client{
		config: config,
		codec:  codec,
		conn:   conn,
	}
	c.nextCookie.Store(rand.Uint64())

	return c, nil
}

// Next queries with a fresh cookie
func (c *Client) Next(ctx context.Context) (Result, error) {
	return c.Query(ctx, c.nextCookie.Add(1))
}

// Query sends a request carrying cookie and waits for its reply
func (c *Client) Query(ctx context.Context, cookie uint64) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return Result{}, fmt.Errorf("failed to set deadline: %w", err)
	}

	// Wake the blocked read if ctx is cancelled before the deadline
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	request := c.codec.EncodeRequest(protocol.NewRequest(cookie))

	sent := time.Now()
	if _, err := c.conn.Write(request); err != nil {
		return Result{}, fmt.Errorf("failed to send request: %w", err)
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			return Result{}, fmt.Errorf("failed to read reply: %w", err)
		}
		received := time.Now()

		reply, err := c.codec.DecodeReply(buf[:n])
		if err != nil {
			if c.config.Debug {
				log.Printf("[DEBUG] Ignoring reply: %v", err)
			}
			continue
		}

		if reply.Cookie != cookie {
			if c.config.Debug {
				log.Printf("[DEBUG] Ignoring reply for cookie %#x, waiting for %#x", reply.Cookie, cookie)
			}
			continue
		}

		return Result{
			Reply:      reply,
			Sent:       sent,
			Received:   received,
			RTT:        received.Sub(sent),
			ServerTime: reply.Time(),
		}, nil
	}
}

// RemoteAddr returns the server address
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the socket
func (c *Client) Close() error {
	return c.conn.Close()
}
