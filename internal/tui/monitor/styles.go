package monitor

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/stockly-app/stockly/internal/models"
)

var (
	// Base colors
	primaryColor   = lipgloss.Color("212")
	secondaryColor = lipgloss.Color("141")
	mutedColor     = lipgloss.Color("241")
	successColor   = lipgloss.Color("42")
	warningColor   = lipgloss.Color("214")
	errorColor     = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	errorStyle     = lipgloss.NewStyle().Foreground(errorColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	spinnerStyle   = lipgloss.NewStyle().Foreground(primaryColor)

	statusStyles = map[models.SyncStatus]lipgloss.Style{
		models.StatusPending:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusSynced:   lipgloss.NewStyle().Foreground(successColor),
		models.StatusConflict: lipgloss.NewStyle().Foreground(warningColor),
		models.StatusFailed:   lipgloss.NewStyle().Foreground(errorColor),
	}

	pushBadge = lipgloss.NewStyle().Foreground(secondaryColor)
	pullBadge = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
)

// formatStatus renders a status with color
func formatStatus(s models.SyncStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// formatDirectionBadge renders a push or pull badge
func formatDirectionBadge(direction string) string {
	switch direction {
	case "push":
		return pushBadge.Render("[PUSH]")
	case "pull":
		return pullBadge.Render("[PULL]")
	default:
		return subtleStyle.Render("[????]")
	}
}
