package analysis

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"netfeed/internal/models"
)

// IPStat holds stats for a single IP.
type IPStat struct {
	IP    string
	Bytes int
}

// ProtocolStat holds stats for a single protocol.
type ProtocolStat struct {
	Protocol models.Protocol
	Count    int64
}

// ServiceStat holds packet counts for a destination service.
type ServiceStat struct {
	Service string
	Count   int64
}

// AnomalyEntry is a finding as it was delivered, with the time it was seen.
type AnomalyEntry struct {
	models.AnomalyFinding
	Timestamp time.Time
}

// TrafficStats aggregates delivered batches for the dashboard and the session report.
type TrafficStats struct {
	mu             sync.Mutex
	clock          clockwork.Clock
	started        time.Time
	totalBytes     int64
	totalPackets   int64
	totalBatches   int64
	windowBytes    int64
	windowPackets  int64
	lastTick       time.Time
	ipBytes        map[string]int
	protocolCounts map[models.Protocol]int64
	serviceCounts  map[string]int64

	anomalyLog    []AnomalyEntry
	maxAnomalyLog int
	anomalyTotal  int64
}

// NewTrafficStats creates a new TrafficStats instance.
func NewTrafficStats(clk clockwork.Clock) *TrafficStats {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	now := clk.Now()
	return &TrafficStats{
		clock:          clk,
		started:        now,
		lastTick:       now,
		ipBytes:        make(map[string]int),
		protocolCounts: make(map[models.Protocol]int64),
		serviceCounts:  make(map[string]int64),
		anomalyLog:     make([]AnomalyEntry, 0),
		maxAnomalyLog:  50, // Keep last 50 findings
	}
}

// ObserveBatch updates stats with one delivered batch.
func (s *TrafficStats) ObserveBatch(batch models.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.totalBatches++

	for _, rec := range batch.Records {
		s.totalBytes += int64(rec.Length)
		s.windowBytes += int64(rec.Length)
		s.totalPackets++
		s.windowPackets++

		// Top talkers by source address
		if rec.SrcIP != "" {
			s.ipBytes[rec.SrcIP] += rec.Length
		}

		proto := rec.Protocol
		if proto == "" {
			proto = models.ProtocolUnknown
		}
		s.protocolCounts[proto]++

		if rec.DstPort != 0 {
			s.serviceCounts[GetServiceName(rec.DstPort)]++
		}
	}

	for _, f := range batch.Anomalies {
		s.anomalyTotal++
		s.anomalyLog = append(s.anomalyLog, AnomalyEntry{AnomalyFinding: f, Timestamp: now})
	}
	// Keep circular buffer (last N entries)
	if len(s.anomalyLog) > s.maxAnomalyLog {
		s.anomalyLog = s.anomalyLog[len(s.anomalyLog)-s.maxAnomalyLog:]
	}
}

// GetRates returns the bandwidth (bps) and packet rate (pps) since the last call.
func (s *TrafficStats) GetRates() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	duration := now.Sub(s.lastTick).Seconds()
	if duration <= 0 {
		return 0, 0
	}

	// Bytes * 8 = Bits
	bps := (float64(s.windowBytes) * 8) / duration
	pps := float64(s.windowPackets) / duration

	// Reset window
	s.windowBytes = 0
	s.windowPackets = 0
	s.lastTick = now

	return bps, pps
}

// GetTopTalkers returns the top N IPs by volume.
func (s *TrafficStats) GetTopTalkers(limit int) []IPStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]IPStat, 0, len(s.ipBytes))
	for ip, bytes := range s.ipBytes {
		stats = append(stats, IPStat{IP: ip, Bytes: bytes})
	}

	// Sort descending by bytes, ties by address for stable output
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Bytes == stats[j].Bytes {
			return stats[i].IP < stats[j].IP
		}
		return stats[i].Bytes > stats[j].Bytes
	})

	if len(stats) > limit {
		return stats[:limit]
	}
	return stats
}

// GetProtocolStats returns the protocol distribution.
func (s *TrafficStats) GetProtocolStats() []ProtocolStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]ProtocolStat, 0, len(s.protocolCounts))
	for proto, count := range s.protocolCounts {
		stats = append(stats, ProtocolStat{Protocol: proto, Count: count})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count == stats[j].Count {
			return stats[i].Protocol < stats[j].Protocol
		}
		return stats[i].Count > stats[j].Count
	})

	return stats
}

// GetTopServices returns the most contacted destination services.
func (s *TrafficStats) GetTopServices(limit int) []ServiceStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]ServiceStat, 0, len(s.serviceCounts))
	for svc, count := range s.serviceCounts {
		stats = append(stats, ServiceStat{Service: svc, Count: count})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count == stats[j].Count {
			return stats[i].Service < stats[j].Service
		}
		return stats[i].Count > stats[j].Count
	})

	if len(stats) > limit {
		return stats[:limit]
	}
	return stats
}

// GetRecentAnomalies returns up to limit of the newest findings (newest last).
func (s *TrafficStats) GetRecentAnomalies(limit int) []AnomalyEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if len(s.anomalyLog) > limit {
		start = len(s.anomalyLog) - limit
	}

	// Make a copy to avoid race conditions
	result := make([]AnomalyEntry, len(s.anomalyLog)-start)
	copy(result, s.anomalyLog[start:])
	return result
}

// Totals is a point-in-time summary of the whole process lifetime.
type Totals struct {
	Started   time.Time
	Bytes     int64
	Packets   int64
	Batches   int64
	Anomalies int64
}

// GetTotals returns lifetime counters.
func (s *TrafficStats) GetTotals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Totals{
		Started:   s.started,
		Bytes:     s.totalBytes,
		Packets:   s.totalPackets,
		Batches:   s.totalBatches,
		Anomalies: s.anomalyTotal,
	}
}
