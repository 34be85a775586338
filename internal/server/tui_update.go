// ABOUTME: TUI update helpers for server
// ABOUTME: Periodically pushes exchange counters to the TUI
package server

import (
	"context"
	"time"
)

// statusLoop refreshes the TUI and stops the server when the user quits it
func (s *Server) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	s.updateTUI()

	for {
		select {
		case <-ticker.C:
			s.updateTUI()
		case <-s.tui.QuitChan():
			s.Stop()
			return
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// updateTUI sends current server state to TUI
func (s *Server) updateTUI() {
	if s.tui == nil {
		return
	}

	s.tui.Update(ServerStatus{
		Name:     s.config.Name,
		ServerID: s.serverID,
		Port:     s.Addr().Port,
		WSPort:   s.config.WebSocketPort,
		Stats:    s.Stats(),
	})
}
