// Package dashboard is an operator-facing bubbletea TUI showing live
// fleet status: a table of workers and a scrolling activity log,
// refreshed by polling GatewayFacade's status command over the same
// control connection every client speaks (spec.md §6's HTTP surface made
// this possible; this renders it).
package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
)

const pollInterval = 2 * time.Second
const maxLogLines = 200

// Model is the root bubbletea model.
type Model struct {
	client *client
	styles styles
	table  table.Model

	gatewayURL string
	connected  bool
	lastErr    error
	logs       []string

	width  int
	height int
}

// Config configures a dashboard run.
type Config struct {
	GatewayURL string // e.g. ws://127.0.0.1:3001/stream
}

// New constructs the dashboard model.
func New(cfg Config) Model {
	columns := []table.Column{
		{Title: "ID", Width: 22},
		{Title: "Provider", Width: 10},
		{Title: "Port", Width: 6},
		{Title: "Status", Width: 10},
		{Title: "Health", Width: 10},
		{Title: "Model", Width: 18},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(true), table.WithHeight(12))

	return Model{
		client:     newClient(cfg.GatewayURL),
		styles:     newStyles(),
		table:      t,
		gatewayURL: cfg.GatewayURL,
	}
}

func (m Model) Init() tea.Cmd {
	return m.client.connectCmd()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.client.close()
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case ConnectedMsg:
		m.connected = true
		m.lastErr = nil
		m.logs = append(m.logs, "connected to "+m.gatewayURL)
		return m, tea.Batch(m.client.listenCmd(), m.client.pollStatusCmd(0))

	case DisconnectedMsg:
		m.connected = false
		m.lastErr = msg.Err
		if msg.Err != nil {
			m.logs = append(m.logs, fmt.Sprintf("disconnected: %v", msg.Err))
		}
		return m, nil

	case StatusMsg:
		m.applyStatus(msg)
		return m, m.client.listenCmd()

	case LogLineMsg:
		m.appendLog(string(msg))
		return m, m.client.listenCmd()

	case pollTickMsg:
		return m, m.client.pollStatusCmd(pollInterval)
	}

	return m, nil
}

func (m *Model) applyStatus(s StatusMsg) {
	rows := make([]table.Row, 0, len(s.Processes))
	for _, p := range s.Processes {
		rows = append(rows, table.Row{p.ID, p.Provider, fmt.Sprintf("%d", p.Port), p.Status, p.Health, p.Model})
	}
	m.table.SetRows(rows)
	m.appendLog(fmt.Sprintf("status: %d workers, %d clients, uptime %.0fs", s.WorkerCount, s.ClientCount, s.UptimeSeconds))
}

func (m *Model) appendLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
}

func (m Model) View() string {
	var status string
	if m.connected {
		status = m.styles.Connected.Render("● connected") + m.styles.StatusBar.Render(" "+m.gatewayURL)
	} else {
		status = m.styles.Disconnect.Render("● disconnected")
	}

	logTail := m.logs
	if n := 10; len(logTail) > n {
		logTail = logTail[len(logTail)-n:]
	}

	body := strings.Builder{}
	body.WriteString(m.styles.Title.Render("zeus fleet dashboard") + "\n")
	body.WriteString(status + "\n\n")
	body.WriteString(m.table.View() + "\n\n")
	body.WriteString(m.styles.LogPane.Render(strings.Join(logTail, "\n")))
	body.WriteString("\n\n" + m.styles.Muted.Render("q to quit"))

	return m.styles.App.Render(body.String())
}
