// ABOUTME: Tests for the server TUI model
// ABOUTME: Tests status updates, quit handling, and rendering
package server

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestTUIModelStatusUpdate(t *testing.T) {
	m := tuiModel{quitChan: make(chan struct{}, 1)}

	updated, _ := m.Update(statusMsg(ServerStatus{
		Name: "office",
		Port: 4014,
		Stats: Stats{
			Served:     12,
			Malformed:  3,
			LastClient: "10.0.0.5:5000",
		},
	}))

	view := updated.View()
	for _, want := range []string{"office", "4014", "12", "3", "10.0.0.5:5000"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}
}

func TestTUIModelNoClientYet(t *testing.T) {
	m := tuiModel{quitChan: make(chan struct{}, 1)}

	if !strings.Contains(m.View(), "none yet") {
		t.Error("expected placeholder for missing last client")
	}
}

func TestTUIModelQuit(t *testing.T) {
	quit := make(chan struct{}, 1)
	m := tuiModel{quitChan: quit}

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}

	select {
	case <-quit:
	default:
		t.Error("expected quit signal to be sent")
	}

	if !strings.Contains(updated.View(), "Shutting down") {
		t.Error("expected shutdown view after quit")
	}
}

func TestServerTUIUpdateDoesNotBlock(t *testing.T) {
	tui := NewServerTUI("office", 4014)

	for i := 0; i < 100; i++ {
		tui.Update(ServerStatus{Name: "office"})
	}
}
