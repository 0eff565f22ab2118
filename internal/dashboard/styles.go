package dashboard

import "github.com/charmbracelet/lipgloss"

// styles holds the dashboard's lipgloss styling, trimmed down from the
// chat client's much larger style set to what a fleet-status view needs.
type styles struct {
	App        lipgloss.Style
	Title      lipgloss.Style
	StatusBar  lipgloss.Style
	Connected  lipgloss.Style
	Disconnect lipgloss.Style
	LogPane    lipgloss.Style
	Muted      lipgloss.Style
	HealthOK   lipgloss.Style
	HealthBad  lipgloss.Style
}

func newStyles() styles {
	return styles{
		App:        lipgloss.NewStyle().Padding(1, 2),
		Title:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		StatusBar:  lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		Connected:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		Disconnect: lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
		LogPane:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		Muted:      lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		HealthOK:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		HealthBad:  lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
	}
}
