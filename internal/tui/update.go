package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
)

func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case TickMsg:
		m.refresh()
		return m, tickCmd()
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *DashboardModel) refresh() {
	m.bps, m.pps = m.stats.GetRates()
	m.totals = m.stats.GetTotals()
	m.topTalkers = m.stats.GetTopTalkers(10)
	m.protocols = m.stats.GetProtocolStats()
	m.services = m.stats.GetTopServices(5)
	m.anomalies = m.stats.GetRecentAnomalies(8)
	if m.status != nil {
		m.current = m.status()
	}

	rows := make([]table.Row, len(m.topTalkers))
	for i, stat := range m.topTalkers {
		rows[i] = table.Row{stat.IP, fmt.Sprintf("%d", stat.Bytes)}
	}
	m.table.SetRows(rows)
}
