package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorAccent = lipgloss.Color("#22d3ee")
	colorGood   = lipgloss.Color("#10B981")
	colorBad    = lipgloss.Color("#EF4444")
	colorFaint  = lipgloss.Color("#6B7280")
	colorText   = lipgloss.Color("#F9FAFB")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent).
			MarginBottom(1)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(colorGood).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(colorBad).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(colorFaint)

	BoldStyle = lipgloss.NewStyle().
			Bold(true)

	// StatusStyle renders the connection status badge in the room view.
	StatusStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorAccent).
			Padding(0, 1).
			Bold(true)

	SpinnerStyle = lipgloss.NewStyle().Foreground(colorAccent)
)

const (
	IconSuccess = "✅"
	IconError   = "❌"
	IconWarning = "⚠️"
	IconInfo    = "ℹ️"
	IconRoom    = "🚪"
	IconPeer    = "👤"
	IconMic     = "🎙️"
	IconCamera  = "🎥"
	IconConnect = "🔌"
)

func PrintError(msg string) {
	fmt.Printf("%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

func PrintSuccess(msg string) {
	fmt.Printf("%s %s\n", SuccessStyle.Render(IconSuccess), msg)
}

func PrintSuccessf(format string, args ...any) {
	PrintSuccess(fmt.Sprintf(format, args...))
}

func PrintInfo(msg string) {
	fmt.Printf("%s %s\n", IconInfo, msg)
}

func PrintInfof(format string, args ...any) {
	PrintInfo(fmt.Sprintf(format, args...))
}

func FormatError(err error) string {
	return fmt.Sprintf("%s %s", ErrorStyle.Render(IconError), ErrorStyle.Render(err.Error()))
}
