// Package tui renders the live server dashboard shown by "netfeed serve --dashboard".
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"netfeed/internal/analysis"
)

// Status describes the capture session at one instant.
type Status struct {
	Interface   string
	Running     bool
	Subscribers int
}

// StatusFunc reports the current capture session.
type StatusFunc func() Status

// TickMsg triggers a refresh.
type TickMsg time.Time

type DashboardModel struct {
	stats  *analysis.TrafficStats
	status StatusFunc
	listen string

	bps        float64
	pps        float64
	totals     analysis.Totals
	current    Status
	topTalkers []analysis.IPStat
	protocols  []analysis.ProtocolStat
	services   []analysis.ServiceStat
	anomalies  []analysis.AnomalyEntry
	table      table.Model
}

func NewDashboardModel(stats *analysis.TrafficStats, status StatusFunc, listen string) DashboardModel {
	columns := []table.Column{
		{Title: "Source IP", Width: 20},
		{Title: "Bytes", Width: 15},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return DashboardModel{
		stats:  stats,
		status: status,
		listen: listen,
		table:  t,
	}
}

func (m DashboardModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
