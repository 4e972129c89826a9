package analysis

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netfeed/internal/models"
)

func TestTrafficStatsObserveBatch(t *testing.T) {
	clk := clockwork.NewFakeClockAt(epoch)
	stats := NewTrafficStats(clk)

	finding := models.AnomalyFinding{Kind: models.AnomalyUnusualPort, Message: "Unusual port in use: 8443", Severity: models.SeverityMedium}
	batch := models.NewBatch([]models.PacketRecord{
		{Protocol: models.ProtocolHTTPS, SrcIP: "10.0.0.2", DstPort: 443, Length: 500},
		{Protocol: models.ProtocolHTTPS, SrcIP: "10.0.0.2", DstPort: 443, Length: 300},
		{Protocol: models.ProtocolUDP, SrcIP: "10.0.0.3", DstPort: 8443, Length: 100, Anomalies: []models.AnomalyFinding{finding}},
		{Protocol: models.ProtocolARP, SrcIP: "10.0.0.4", Length: 42},
	})
	stats.ObserveBatch(batch)

	talkers := stats.GetTopTalkers(2)
	require.Len(t, talkers, 2)
	assert.Equal(t, IPStat{IP: "10.0.0.2", Bytes: 800}, talkers[0])
	assert.Equal(t, IPStat{IP: "10.0.0.3", Bytes: 100}, talkers[1])

	protos := stats.GetProtocolStats()
	require.NotEmpty(t, protos)
	assert.Equal(t, ProtocolStat{Protocol: models.ProtocolHTTPS, Count: 2}, protos[0])

	services := stats.GetTopServices(5)
	assert.Equal(t, []ServiceStat{{Service: "HTTPS", Count: 2}, {Service: "8443", Count: 1}}, services)

	recent := stats.GetRecentAnomalies(5)
	require.Len(t, recent, 1)
	assert.Equal(t, finding, recent[0].AnomalyFinding)

	totals := stats.GetTotals()
	assert.Equal(t, int64(942), totals.Bytes)
	assert.Equal(t, int64(4), totals.Packets)
	assert.Equal(t, int64(1), totals.Batches)
	assert.Equal(t, int64(1), totals.Anomalies)
}

func TestTrafficStatsRates(t *testing.T) {
	clk := clockwork.NewFakeClockAt(epoch)
	stats := NewTrafficStats(clk)

	stats.ObserveBatch(models.NewBatch([]models.PacketRecord{{Length: 1000}, {Length: 1000}}))
	clk.Advance(2 * time.Second)

	bps, pps := stats.GetRates()
	assert.InDelta(t, 8000.0, bps, 0.001)
	assert.InDelta(t, 1.0, pps, 0.001)

	bps, pps = stats.GetRates()
	assert.Zero(t, bps, "window resets after each read")
	assert.Zero(t, pps)
}

func TestTrafficStatsAnomalyLogBounded(t *testing.T) {
	stats := NewTrafficStats(clockwork.NewFakeClockAt(epoch))
	f := models.AnomalyFinding{Kind: models.AnomalyIPFlood, Severity: models.SeverityHigh}

	recs := make([]models.PacketRecord, 80)
	for i := range recs {
		recs[i] = models.PacketRecord{Anomalies: []models.AnomalyFinding{f}}
	}
	stats.ObserveBatch(models.NewBatch(recs))

	assert.Len(t, stats.GetRecentAnomalies(100), 50)
	assert.Equal(t, int64(80), stats.GetTotals().Anomalies)
}

func TestGetServiceName(t *testing.T) {
	assert.Equal(t, "SSH", GetServiceName(22))
	assert.Equal(t, "49152", GetServiceName(49152))
}
