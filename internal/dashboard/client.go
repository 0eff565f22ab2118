package dashboard

import (
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"zeusgateway/pkg/protocol"
)

// workerRow is one line of the fleet table, decoded from a status reply's
// "processes" field.
type workerRow struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Port     int    `json:"port"`
	Status   string `json:"status"`
	Health   string `json:"health"`
	Model    string `json:"model,omitempty"`
}

// StatusMsg is a decoded status reply, delivered to the bubbletea program.
type StatusMsg struct {
	UptimeSeconds float64     `json:"uptimeSeconds"`
	ClientCount   int         `json:"clientCount"`
	WorkerCount   int         `json:"workerCount"`
	Providers     []string    `json:"providers"`
	Processes     []workerRow `json:"processes"`
}

// ConnectedMsg reports a successful dial.
type ConnectedMsg struct{}

// DisconnectedMsg reports a closed or failed connection.
type DisconnectedMsg struct{ Err error }

// LogLineMsg is one line appended to the dashboard's scrolling activity
// pane, built from non-status events the stream also carries.
type LogLineMsg string

// client owns the websocket control connection the dashboard polls status
// over, grounded on the teacher's WSClient ConnectCmd/ListenCmd shape.
type client struct {
	url string

	mu   sync.RWMutex
	conn *websocket.Conn

	inbox chan tea.Msg
	done  chan struct{}
}

func newClient(url string) *client {
	return &client{url: url, inbox: make(chan tea.Msg, 64), done: make(chan struct{})}
}

func (c *client) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dashboard: dial %s: %w", c.url, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	go c.readPump()
	return nil
}

func (c *client) readPump() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.inbox <- DisconnectedMsg{Err: err}
			close(c.done)
			return
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			continue
		}
		if env.Type == protocol.EvtStatus {
			c.inbox <- decodeStatus(env.Payload)
			continue
		}
		c.inbox <- LogLineMsg(fmt.Sprintf("[%s] %s", env.Type, env.GetString("message")))
	}
}

func decodeStatus(payload map[string]any) StatusMsg {
	msg := StatusMsg{}
	if v, ok := payload["uptimeSeconds"].(float64); ok {
		msg.UptimeSeconds = v
	}
	if v, ok := payload["clientCount"].(float64); ok {
		msg.ClientCount = int(v)
	}
	if v, ok := payload["workerCount"].(float64); ok {
		msg.WorkerCount = int(v)
	}
	if providers, ok := payload["providers"].([]any); ok {
		for _, p := range providers {
			if s, ok := p.(string); ok {
				msg.Providers = append(msg.Providers, s)
			}
		}
	}
	if procs, ok := payload["processes"].([]any); ok {
		for _, raw := range procs {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			row := workerRow{}
			if v, ok := m["id"].(string); ok {
				row.ID = v
			}
			if v, ok := m["provider"].(string); ok {
				row.Provider = v
			}
			if v, ok := m["port"].(float64); ok {
				row.Port = int(v)
			}
			if v, ok := m["status"].(string); ok {
				row.Status = v
			}
			if v, ok := m["health"].(string); ok {
				row.Health = v
			}
			if v, ok := m["model"].(string); ok {
				row.Model = v
			}
			msg.Processes = append(msg.Processes, row)
		}
	}
	return msg
}

// connectCmd dials the gateway and reports the outcome as a tea.Msg.
func (c *client) connectCmd() tea.Cmd {
	return func() tea.Msg {
		if err := c.connect(); err != nil {
			return DisconnectedMsg{Err: err}
		}
		return ConnectedMsg{}
	}
}

// listenCmd blocks for the next inbox message.
func (c *client) listenCmd() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-c.inbox:
			return msg
		case <-c.done:
			return DisconnectedMsg{}
		}
	}
}

// pollStatusCmd sends a status command after d elapses, driving the
// refresh cycle spec.md's dashboard is meant to poll at.
func (c *client) pollStatusCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return nil
		}
		_ = conn.WriteMessage(websocket.TextMessage, protocol.MustOutbound(protocol.CmdStatus, nil))
		return pollTickMsg{}
	})
}

type pollTickMsg struct{}

func (c *client) close() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		_ = conn.Close()
	}
}
