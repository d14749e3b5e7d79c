// Package style centralizes lipgloss styles for CLI output.
package style

import "github.com/charmbracelet/lipgloss"

var (
	// Bold is used for headers and emphasis.
	Bold = lipgloss.NewStyle().Bold(true)

	// Dim is used for secondary detail and soft warnings.
	Dim = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	// Success marks good outcomes (completed features, merged branches).
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	// Warning marks states that need operator attention.
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	// Error marks failures.
	Error = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)
