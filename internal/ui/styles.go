// Package ui provides consistent styling for the wlproto CLI
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - consistent across the application
var (
	// Primary colors
	ColorPrimary   = lipgloss.Color("39")  // Bright blue
	ColorSecondary = lipgloss.Color("205") // Pink/magenta
	ColorSuccess   = lipgloss.Color("82")  // Green
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorError     = lipgloss.Color("196") // Red
	ColorInfo      = lipgloss.Color("86")  // Cyan

	// Neutral colors
	ColorText   = lipgloss.Color("252") // Light gray
	ColorSubtle = lipgloss.Color("241") // Medium gray
)

// Base styles - building blocks for other styles
var (
	TextStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)
)

// Protocol tree styles
var (
	InterfaceStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary)

	SectionStyle = lipgloss.NewStyle().
			Foreground(ColorInfo)

	DestructorStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)
)

// Icons used in command output
var (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "!"
)

func FormatSuccess(msg string) string {
	return SuccessStyle.Render(IconSuccess) + " " + msg
}

func FormatWarning(msg string) string {
	return WarningStyle.Render(IconWarning) + " " + msg
}

func FormatError(msg string) string {
	return ErrorStyle.Render(IconError) + " " + msg
}

// CreateSeparator creates a horizontal line separator
func CreateSeparator(width int, char string) string {
	if width <= 0 {
		width = 50 // Default width
	}
	if char == "" {
		char = "─" // Default to horizontal line
	}

	return SubtleStyle.Render(strings.Repeat(char, width))
}
