// ABOUTME: Server TUI for displaying exchange counters
// ABOUTME: Real-time server status display using bubbletea
package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ServerTUI manages the server TUI
type ServerTUI struct {
	program  *tea.Program
	updates  chan ServerStatus
	quitChan chan struct{} // Signal to stop the server
	done     chan struct{}
	stopOnce sync.Once
}

// ServerStatus holds server state for TUI
type ServerStatus struct {
	Name     string
	ServerID string
	Port     int
	WSPort   int
	Stats    Stats
}

// tuiModel is the bubbletea model for server TUI
type tuiModel struct {
	status    ServerStatus
	startTime time.Time
	quitting  bool
	quitChan  chan struct{} // Channel to signal server stop
}

type tickMsg time.Time
type statusMsg ServerStatus

func (m tuiModel) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickEvery()

	case statusMsg:
		m.status = ServerStatus(msg)
		return m, nil
	}

	return m, nil
}

func (m tuiModel) View() string {
	if m.quitting {
		return "Shutting down server...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	counterHeaderStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	var b strings.Builder

	b.WriteString(titleStyle.Render("TSP Time Server"))
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(headerStyle.Render(label + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	row("Server", m.status.Name)
	row("ID", m.status.ServerID)
	row("UDP port", fmt.Sprintf("%d", m.status.Port))
	if m.status.WSPort != 0 {
		row("WebSocket port", fmt.Sprintf("%d", m.status.WSPort))
	}
	row("Uptime", time.Since(m.startTime).Round(time.Second).String())
	b.WriteString("\n")

	stats := m.status.Stats
	b.WriteString(counterHeaderStyle.Render("Exchanges"))
	b.WriteString("\n\n")
	row("  Served", fmt.Sprintf("%d", stats.Served))
	row("  Malformed", fmt.Sprintf("%d", stats.Malformed))
	row("  Rejected", fmt.Sprintf("%d", stats.Rejected))
	row("  Send errors", fmt.Sprintf("%d", stats.SendErrors))
	row("  Read errors", fmt.Sprintf("%d", stats.ReadErrors))

	lastClient := stats.LastClient
	if lastClient == "" {
		lastClient = "none yet"
	}
	row("  Last client", lastClient)

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

// NewServerTUI creates a new server TUI
func NewServerTUI(serverName string, port int) *ServerTUI {
	quitChan := make(chan struct{}, 1)

	m := tuiModel{
		status: ServerStatus{
			Name: serverName,
			Port: port,
		},
		startTime: time.Now(),
		quitChan:  quitChan,
	}

	return &ServerTUI{
		program:  tea.NewProgram(m, tea.WithAltScreen()),
		updates:  make(chan ServerStatus, 10),
		quitChan: quitChan,
		done:     make(chan struct{}),
	}
}

// Start runs the TUI until it quits
func (t *ServerTUI) Start() error {
	go func() {
		for {
			select {
			case status := <-t.updates:
				t.program.Send(statusMsg(status))
			case <-t.done:
				return
			}
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update to the TUI
func (t *ServerTUI) Update(status ServerStatus) {
	select {
	case t.updates <- status:
	default:
		// Don't block if channel is full
	}
}

// Stop stops the TUI
func (t *ServerTUI) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		t.program.Quit()
	})
}

// QuitChan returns the channel that signals when user wants to quit
func (t *ServerTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
