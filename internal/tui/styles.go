package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#54a0ff")
	colorAccent  = lipgloss.Color("#1dd1a1")
	colorError   = lipgloss.Color("#ff6b6b")
	colorText    = lipgloss.Color("252")
	colorTextDim = lipgloss.Color("8")
	colorBorder  = lipgloss.Color("240")
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	subtitleStyle = lipgloss.NewStyle().Foreground(colorTextDim)
	summaryStyle  = lipgloss.NewStyle().Foreground(colorTextDim).Italic(true)

	messagesAreaStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorBorder).Padding(0, 1)
	inputPanelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorPrimary).Padding(0, 1)

	userLabelStyle       = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	userBubbleStyle      = lipgloss.NewStyle().Foreground(colorText).PaddingLeft(2)
	assistantLabelStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	assistantBubbleStyle = lipgloss.NewStyle().PaddingLeft(2)

	sourceStyle    = lipgloss.NewStyle().Foreground(colorTextDim).PaddingLeft(2)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)

	loadingStyle = lipgloss.NewStyle().Foreground(colorAccent)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	statusStyle  = lipgloss.NewStyle().Foreground(colorTextDim)

	statusKeyStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	statusDescStyle = lipgloss.NewStyle().Foreground(colorTextDim)
)
