package output

import (
	"github.com/charmbracelet/lipgloss"
)

// Colors
var (
	ColorSuccess = lipgloss.Color("#04B575") // green
	ColorNotice  = lipgloss.Color("#FFB800") // yellow
	ColorFailure = lipgloss.Color("#FF4040") // red
	ColorInfo    = lipgloss.Color("#00BFFF") // cyan
	ColorMuted   = lipgloss.Color("#666666") // gray
	ColorLabel   = lipgloss.Color("#AAAAAA") // light gray for labels
)

const boxWidth = 64

func box(border lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1).
		Width(boxWidth)
}

// Box styles
var (
	BoxStyle        = box(ColorInfo)
	SuccessBoxStyle = box(ColorSuccess)
	NoticeBoxStyle  = box(ColorNotice)
	FailureBoxStyle = box(ColorFailure)
)

// Text styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorInfo)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorLabel).
			Width(16)

	SuccessText = lipgloss.NewStyle().
			Foreground(ColorSuccess).
			Bold(true)

	NoticeText = lipgloss.NewStyle().
			Foreground(ColorNotice).
			Bold(true)

	FailureText = lipgloss.NewStyle().
			Foreground(ColorFailure).
			Bold(true)

	MutedText = lipgloss.NewStyle().
			Foreground(ColorMuted)

	CodeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E0E0E0"))
)

// Indicators
const (
	IconSuccess = "✅"
	IconNotice  = "⚠"
	IconFailure = "❌"
)
