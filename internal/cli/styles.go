package cli

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	commandStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	explanationStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("241"))
	warningTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	successStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dimStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	promptStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))

	warningBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 1)
)

// riskStyle colours a 0..1 risk score
func riskStyle(score float64) lipgloss.Style {
	switch {
	case score >= 0.7:
		return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	case score >= 0.4:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	}
}
