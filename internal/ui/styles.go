// Package ui holds the terminal styles shared by the CLI commands.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#E2B714"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#7FD07F"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#E65100", Dark: "#FFB74D"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#B71C1C", Dark: "#CA4754"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#646669"}
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// ShouldUseColor reports whether stdout gets ANSI colors. NO_COLOR disables
// them, CLICOLOR_FORCE forces them, otherwise stdout must be a terminal.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if v := os.Getenv("CLICOLOR_FORCE"); v != "" && v != "0" {
		return true
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// RenderAccent highlights headings and progress markers.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass marks success.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn marks warnings.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail marks failures.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted dims secondary detail.
func RenderMuted(s string) string { return mutedStyle.Render(s) }
