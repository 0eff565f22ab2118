package dashboard

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the dashboard TUI against the gateway at gatewayURL (its
// /stream websocket endpoint).
func Run(gatewayURL string) error {
	m := New(Config{GatewayURL: gatewayURL})
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
