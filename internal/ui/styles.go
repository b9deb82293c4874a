// Package ui provides consistent styling for the Modeset CLI
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Color palette - consistent across the application
var (
	ColorPrimary = lipgloss.Color("39")  // Bright blue
	ColorSuccess = lipgloss.Color("82")  // Green
	ColorError   = lipgloss.Color("196") // Red

	ColorText   = lipgloss.Color("252") // Light gray
	ColorSubtle = lipgloss.Color("241") // Medium gray

	ColorConnected    = ColorSuccess
	ColorDisconnected = ColorError
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)
)

// FormatAppHeader renders the title line used by CLI commands.
func FormatAppHeader(title, subtitle string) string {
	out := HeaderStyle.Render(title)
	if subtitle != "" {
		out += "\n" + SubtleStyle.Render(subtitle)
	}
	return out
}

// FormatStatus renders a colored connection indicator with its label.
func FormatStatus(connected bool, status string) string {
	if connected {
		return SuccessStyle.Render("● " + status)
	}
	return ErrorStyle.Render("○ " + status)
}
