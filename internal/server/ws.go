// ABOUTME: WebSocket bridge for browser clients
// ABOUTME: Carries the same 16-byte requests and 24-byte replies as binary messages
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// WebSocketPath is where the bridge accepts upgrades
	WebSocketPath = "/tsp"

	wsWriteDeadline = 10 * time.Second
)

// Handler returns the HTTP handler serving the WebSocket bridge
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, s.handleWebSocket)
	return mux
}

// serveWebSocket runs the bridge until ctx is done or the server stops
func (s *Server) serveWebSocket(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.WebSocketPort)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	log.Printf("WebSocket bridge listening on %s%s", addr, WebSocketPath)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
	case <-s.stopChan:
	case err := <-errChan:
		return fmt.Errorf("websocket server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("WebSocket server shutdown error: %v", err)
	}
	s.closeWebSockets()
	return nil
}

// handleWebSocket answers each binary request message with a binary reply
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	s.wsMu.Lock()
	s.wsConns[conn] = struct{}{}
	s.wsMu.Unlock()

	defer func() {
		s.wsMu.Lock()
		delete(s.wsConns, conn)
		s.wsMu.Unlock()
	}()

	if s.config.Debug {
		log.Printf("[DEBUG] WebSocket client connected: %s", r.RemoteAddr)
	}

	conn.SetReadLimit(maxDatagramSize)
	out := make([]byte, 0, maxDatagramSize)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error from %s: %v", r.RemoteAddr, err)
			}
			return
		}

		s.stats.lastClient.Store(&r.RemoteAddr)

		if msgType != websocket.BinaryMessage {
			s.stats.malformed.Add(1)
			log.Printf("Dropping non-binary WebSocket message from %s", r.RemoteAddr)
			continue
		}

		reply, ok := s.exchange(out, data, r.RemoteAddr)
		if !ok {
			continue
		}

		s.stats.served.Add(1)

		conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
			s.stats.sendErrors.Add(1)
			log.Printf("Error writing WebSocket reply to %s: %v", r.RemoteAddr, err)
			return
		}
	}
}

// closeWebSockets closes hijacked connections that Shutdown does not track
func (s *Server) closeWebSockets() {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	for conn := range s.wsConns {
		conn.Close()
	}
}
