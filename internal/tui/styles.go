package tui

import "github.com/charmbracelet/lipgloss"

const sidebarWidth = 32

var (
	sidebarPane = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	chatPane = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))

	focusedBorder = lipgloss.Color("170")

	titleStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5"))
	itemStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("#AFAFAF"))
	cursorItemStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFDF5")).Background(lipgloss.Color("62"))
	activeMarkerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170")).Bold(true)

	userLabelStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	bodyStyle           = lipgloss.NewStyle().PaddingLeft(2)
	failedStyle         = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("196"))
	hintStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	statusStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("#AFAFAF")).Padding(0, 1)
	errorStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Padding(0, 1)
)
