package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"netfeed/internal/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFF7DB")).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Margin(0, 1)

	severityStyles = map[models.Severity]lipgloss.Style{
		models.SeverityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")).Bold(true),
		models.SeverityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00")),
		models.SeverityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF")),
	}
)

func (m DashboardModel) View() string {
	headerText := fmt.Sprintf("netfeed - listening on %s", m.listen)
	if m.current.Running {
		headerText += fmt.Sprintf(" [capturing %s]", m.current.Interface)
	} else {
		headerText += " [idle]"
	}
	title := titleStyle.Render(headerText)

	// Rates and totals
	qos := fmt.Sprintf("Bandwidth: %s\nPacket Rate: %.2f PPS\nSubscribers: %d\nDelivered: %d packets / %d batches",
		formatBps(m.bps), m.pps, m.current.Subscribers, m.totals.Packets, m.totals.Batches)
	qosBox := infoStyle.Render(qos)

	var protoStrs []string
	for i, p := range m.protocols {
		if i == 5 {
			break
		}
		protoStrs = append(protoStrs, fmt.Sprintf("%s: %d", p.Protocol, p.Count))
	}
	if len(protoStrs) == 0 {
		protoStrs = append(protoStrs, "Waiting for data...")
	}
	protoBox := infoStyle.Render("Protocols:\n" + strings.Join(protoStrs, "\n"))

	var svcStrs []string
	for _, s := range m.services {
		svcStrs = append(svcStrs, fmt.Sprintf("%s: %d", s.Service, s.Count))
	}
	if len(svcStrs) == 0 {
		svcStrs = append(svcStrs, "-")
	}
	svcBox := infoStyle.Render("Services:\n" + strings.Join(svcStrs, "\n"))

	ttBox := infoStyle.Render("Top Talkers\n" + m.table.View())

	var anomalyStrs []string
	for i := len(m.anomalies) - 1; i >= 0; i-- {
		a := m.anomalies[i]
		line := fmt.Sprintf("%s %-6s %s", a.Timestamp.Format("15:04:05"), a.Severity, a.Message)
		if style, ok := severityStyles[a.Severity]; ok {
			line = style.Render(line)
		}
		anomalyStrs = append(anomalyStrs, line)
	}
	if len(anomalyStrs) == 0 {
		anomalyStrs = append(anomalyStrs, "No anomalies detected.")
	}
	anomalyBox := infoStyle.Render(fmt.Sprintf("Anomalies (%d total):\n", m.totals.Anomalies) + strings.Join(anomalyStrs, "\n"))

	// Layout
	row1 := lipgloss.JoinHorizontal(lipgloss.Top, qosBox, protoBox, svcBox)
	row2 := lipgloss.JoinHorizontal(lipgloss.Top, ttBox, anomalyBox)
	body := lipgloss.JoinVertical(lipgloss.Left, title, row1, row2)

	return body + "\nPress q to quit."
}

func formatBps(bps float64) string {
	if bps >= 1e6 {
		return fmt.Sprintf("%.2f Mbps", bps/1e6)
	}
	if bps >= 1e3 {
		return fmt.Sprintf("%.2f Kbps", bps/1e3)
	}
	return fmt.Sprintf("%.2f bps", bps)
}
