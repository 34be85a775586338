// ABOUTME: Tests for the WebSocket bridge
// ABOUTME: Exchanges binary request/reply frames over an httptest server
package server

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/tspd/pkg/protocol"
	"github.com/gorilla/websocket"
)

func dialBridge(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + WebSocketPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketExchange(t *testing.T) {
	srv, err := New(Config{})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	conn := dialBridge(t, srv)

	wire := protocol.DefaultCodec.EncodeRequest(protocol.NewRequest(0x55))
	if err := conn.WriteMessage(websocket.BinaryMessage, wire); err != nil {
		t.Fatalf("failed to send: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read reply: %v", err)
	}

	if msgType != websocket.BinaryMessage {
		t.Errorf("expected binary reply, got type %d", msgType)
	}
	if len(data) != protocol.TimeReplyPacketSize {
		t.Fatalf("expected %d byte reply, got %d", protocol.TimeReplyPacketSize, len(data))
	}
	if !bytes.Equal(data[:16], wire) {
		t.Errorf("header not echoed: %x", data[:16])
	}
	if srv.Stats().Served != 1 {
		t.Errorf("expected 1 served, got %d", srv.Stats().Served)
	}
}

func TestWebSocketIgnoresMalformed(t *testing.T) {
	srv, err := New(Config{})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	conn := dialBridge(t, srv)

	conn.WriteMessage(websocket.TextMessage, []byte("what time is it"))
	conn.WriteMessage(websocket.BinaryMessage, make([]byte, 10))
	conn.WriteMessage(websocket.BinaryMessage, protocol.DefaultCodec.EncodeRequest(protocol.NewRequest(7)))

	// Only the valid request is answered
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read reply: %v", err)
	}

	reply, err := protocol.DefaultCodec.DecodeReply(data)
	if err != nil {
		t.Fatalf("failed to decode reply: %v", err)
	}
	if reply.Cookie != 7 {
		t.Errorf("expected cookie 7, got %d", reply.Cookie)
	}

	if got := srv.Stats().Malformed; got != 2 {
		t.Errorf("expected 2 malformed, got %d", got)
	}
}
