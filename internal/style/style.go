// Package style centralizes lipgloss styles for CLI output.
package style

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func init() {
	lipgloss.SetColorProfile(termenv.ColorProfile())
}

var (
	Bold = lipgloss.NewStyle().Bold(true)
	Dim  = lipgloss.NewStyle().Faint(true)

	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	Error   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	Header  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
)

var (
	SuccessPrefix = Success.Render("✓")
	ErrorPrefix   = Error.Render("✗")
	WarningPrefix = Warning.Render("⚠")
)
