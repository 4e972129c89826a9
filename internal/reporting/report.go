// Package reporting renders a summary of the traffic observed since the server started.
package reporting

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"netfeed/internal/analysis"
)

// Report is the data behind the HTML session report.
type Report struct {
	Generated time.Time
	Totals    analysis.Totals
	Uptime    time.Duration
	Protocols []analysis.ProtocolStat
	Talkers   []analysis.IPStat
	Services  []analysis.ServiceStat
	Anomalies []analysis.AnomalyEntry
}

// Build snapshots stats as of now.
func Build(stats *analysis.TrafficStats, now time.Time) Report {
	totals := stats.GetTotals()
	return Report{
		Generated: now,
		Totals:    totals,
		Uptime:    now.Sub(totals.Started).Truncate(time.Second),
		Protocols: stats.GetProtocolStats(),
		Talkers:   stats.GetTopTalkers(10),
		Services:  stats.GetTopServices(10),
		Anomalies: stats.GetRecentAnomalies(50),
	}
}

// GenerateSessionReport writes the HTML session report for stats to w.
// Nothing is written to disk.
func GenerateSessionReport(w io.Writer, stats *analysis.TrafficStats, now time.Time) error {
	if err := reportTemplate.Execute(w, Build(stats, now)); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"bytes": formatBytes,
	"clock": func(t time.Time) string { return t.Format("15:04:05") },
	"date":  func(t time.Time) string { return t.Format(time.RFC1123) },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>netfeed Session Report</title>
    <style>
        body { font-family: sans-serif; margin: 20px; color: #333; }
        h1, h2 { color: #2c3e50; }
        table { width: 100%; border-collapse: collapse; margin-bottom: 20px; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #f2f2f2; }
        tr:nth-child(even) { background-color: #f9f9f9; }
        .summary { background: #eef; padding: 15px; border-radius: 5px; margin-bottom: 20px; }
        .HIGH { color: #d9534f; font-weight: bold; }
        .MEDIUM { color: #f0ad4e; font-weight: bold; }
        .LOW { color: #5bc0de; }
    </style>
</head>
<body>
    <h1>netfeed Session Report</h1>
    <div class="summary">
        <p><strong>Generated:</strong> {{date .Generated}}</p>
        <p><strong>Running since:</strong> {{date .Totals.Started}} ({{.Uptime}})</p>
        <p><strong>Packets delivered:</strong> {{.Totals.Packets}} in {{.Totals.Batches}} batches</p>
        <p><strong>Total Data Transferred:</strong> {{bytes .Totals.Bytes}}</p>
        <p><strong>Anomalies:</strong> {{.Totals.Anomalies}}</p>
    </div>

    <h2>Protocols</h2>
    <table>
        <thead><tr><th>Protocol</th><th>Packets</th></tr></thead>
        <tbody>
{{- range .Protocols}}
            <tr><td>{{.Protocol}}</td><td>{{.Count}}</td></tr>
{{- else}}
            <tr><td colspan="2">No packets delivered.</td></tr>
{{- end}}
        </tbody>
    </table>

    <h2>Top 10 Talkers</h2>
    <table>
        <thead><tr><th>IP Address</th><th>Data Transferred (Bytes)</th></tr></thead>
        <tbody>
{{- range .Talkers}}
            <tr><td>{{.IP}}</td><td>{{.Bytes}}</td></tr>
{{- else}}
            <tr><td colspan="2">No addressed traffic.</td></tr>
{{- end}}
        </tbody>
    </table>

    <h2>Top Services</h2>
    <table>
        <thead><tr><th>Service</th><th>Packets</th></tr></thead>
        <tbody>
{{- range .Services}}
            <tr><td>{{.Service}}</td><td>{{.Count}}</td></tr>
{{- else}}
            <tr><td colspan="2">No services seen.</td></tr>
{{- end}}
        </tbody>
    </table>

    <h2>Anomalies</h2>
    <table>
        <thead><tr><th>Time</th><th>Type</th><th>Severity</th><th>Message</th></tr></thead>
        <tbody>
{{- range .Anomalies}}
            <tr><td>{{clock .Timestamp}}</td><td>{{.Kind}}</td><td class="{{.Severity}}">{{.Severity}}</td><td>{{.Message}}</td></tr>
{{- else}}
            <tr><td colspan="4">No anomalies detected during this session.</td></tr>
{{- end}}
        </tbody>
    </table>
</body>
</html>
`))

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
