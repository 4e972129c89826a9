package analysis

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"netfeed/internal/models"
)

// Config holds configuration for the anomaly detector.
type Config struct {
	WindowInterval      time.Duration // Counters are cleared once this much time has passed since the last reset
	TimestampCapacity   int           // Max timestamps kept for rate measurement
	RateWindow          time.Duration // Span used to measure the packet rate
	RateMinSamples      int           // Timestamps needed before the rate rule is evaluated
	PacketRateThreshold int           // Packets per RateWindow
	UnusualPortFloor    int           // Destination ports above this are tracked as unusual on first sight
	IPFloodThreshold    int           // Packets per source address per window
	SuspiciousPorts     []int         // TCP destination ports flagged as suspicious
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		WindowInterval:      60 * time.Second,
		TimestampCapacity:   1000,
		RateWindow:          time.Second,
		RateMinSamples:      10,
		PacketRateThreshold: 100,
		UnusualPortFloor:    1024,
		IPFloodThreshold:    50,
		SuspiciousPorts:     []int{22, 23, 3389},
	}
}

// WindowStats is a copy of the detector's current window.
type WindowStats struct {
	Start      time.Time
	Timestamps int
	Protocols  map[models.Protocol]int
	Ports      map[int]int
	Sources    map[string]int
}

// AnomalyDetector keeps rolling per-window counters and evaluates every packet against them.
type AnomalyDetector struct {
	mu sync.Mutex

	config Config
	clock  clockwork.Clock

	// Rate measurement (ring buffer, oldest overwritten)
	timestamps []time.Time
	head       int
	size       int

	protocolCounts map[models.Protocol]int
	portCounts     map[int]int
	ipCounts       map[string]int
	lastReset      time.Time

	suspicious map[int]bool
}

// NewAnomalyDetector creates a detector with an empty window starting now.
func NewAnomalyDetector(cfg Config, clk clockwork.Clock) *AnomalyDetector {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if cfg.TimestampCapacity <= 0 {
		cfg.TimestampCapacity = DefaultConfig().TimestampCapacity
	}

	suspicious := make(map[int]bool, len(cfg.SuspiciousPorts))
	for _, p := range cfg.SuspiciousPorts {
		suspicious[p] = true
	}

	return &AnomalyDetector{
		config:         cfg,
		clock:          clk,
		timestamps:     make([]time.Time, cfg.TimestampCapacity),
		protocolCounts: make(map[models.Protocol]int),
		portCounts:     make(map[int]int),
		ipCounts:       make(map[string]int),
		lastReset:      clk.Now(),
		suspicious:     suspicious,
	}
}

// Analyze updates the window with rec and returns its findings in rule order.
func (ad *AnomalyDetector) Analyze(rec models.PacketRecord) []models.AnomalyFinding {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	now := ad.clock.Now()

	if now.Sub(ad.lastReset) > ad.config.WindowInterval {
		ad.resetWindow(now)
	}

	ad.track(rec, now)

	var findings []models.AnomalyFinding

	// Rule 1: High packet rate
	if f, ok := ad.detectHighRate(now); ok {
		findings = append(findings, f)
	}

	// Rule 2: First sighting of a high destination port
	if f, ok := ad.detectUnusualPort(rec); ok {
		findings = append(findings, f)
	}

	// Rule 3: Single source flooding the window
	if f, ok := ad.detectIPFlood(rec); ok {
		findings = append(findings, f)
	}

	// Rule 4: TCP to remote-access ports
	if f, ok := ad.detectSuspicious(rec); ok {
		findings = append(findings, f)
	}

	return findings
}

func (ad *AnomalyDetector) resetWindow(now time.Time) {
	clear(ad.protocolCounts)
	clear(ad.portCounts)
	clear(ad.ipCounts)
	ad.lastReset = now
}

func (ad *AnomalyDetector) track(rec models.PacketRecord, now time.Time) {
	capacity := len(ad.timestamps)
	ad.timestamps[(ad.head+ad.size)%capacity] = now
	if ad.size < capacity {
		ad.size++
	} else {
		ad.head = (ad.head + 1) % capacity
	}

	if rec.Protocol != "" {
		ad.protocolCounts[rec.Protocol]++
	}
	if rec.DstPort != 0 {
		ad.portCounts[rec.DstPort]++
	}
	if rec.SrcIP != "" {
		ad.ipCounts[rec.SrcIP]++
	}
}

func (ad *AnomalyDetector) detectHighRate(now time.Time) (models.AnomalyFinding, bool) {
	if ad.size < ad.config.RateMinSamples {
		return models.AnomalyFinding{}, false
	}

	recent := 0
	for i := 0; i < ad.size; i++ {
		ts := ad.timestamps[(ad.head+i)%len(ad.timestamps)]
		if now.Sub(ts) < ad.config.RateWindow {
			recent++
		}
	}

	if recent <= ad.config.PacketRateThreshold {
		return models.AnomalyFinding{}, false
	}
	return models.AnomalyFinding{
		Kind:     models.AnomalyHighPacketRate,
		Message:  fmt.Sprintf("High packet rate detected: %d packets/second", recent),
		Severity: models.SeverityHigh,
	}, true
}

func (ad *AnomalyDetector) detectUnusualPort(rec models.PacketRecord) (models.AnomalyFinding, bool) {
	port := rec.DstPort
	if port == 0 || port <= ad.config.UnusualPortFloor || ad.portCounts[port] != 1 {
		return models.AnomalyFinding{}, false
	}
	return models.AnomalyFinding{
		Kind:     models.AnomalyUnusualPort,
		Message:  fmt.Sprintf("Unusual port in use: %d", port),
		Severity: models.SeverityMedium,
	}, true
}

func (ad *AnomalyDetector) detectIPFlood(rec models.PacketRecord) (models.AnomalyFinding, bool) {
	if rec.SrcIP == "" {
		return models.AnomalyFinding{}, false
	}
	count := ad.ipCounts[rec.SrcIP]
	if count <= ad.config.IPFloodThreshold {
		return models.AnomalyFinding{}, false
	}
	return models.AnomalyFinding{
		Kind:     models.AnomalyIPFlood,
		Message:  fmt.Sprintf("IP flood detected: %s (%d packets)", rec.SrcIP, count),
		Severity: models.SeverityHigh,
	}, true
}

// detectSuspicious checks the label as finally assigned, so HTTPS/HTTP relabelled
// connections never match.
func (ad *AnomalyDetector) detectSuspicious(rec models.PacketRecord) (models.AnomalyFinding, bool) {
	if rec.Protocol != models.ProtocolTCP || !ad.suspicious[rec.DstPort] {
		return models.AnomalyFinding{}, false
	}
	return models.AnomalyFinding{
		Kind:     models.AnomalySuspiciousConnection,
		Message:  fmt.Sprintf("Suspicious connection attempt: %s port %d", rec.Protocol, rec.DstPort),
		Severity: models.SeverityMedium,
	}, true
}

// Window returns a copy of the current window counters.
func (ad *AnomalyDetector) Window() WindowStats {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	stats := WindowStats{
		Start:      ad.lastReset,
		Timestamps: ad.size,
		Protocols:  make(map[models.Protocol]int, len(ad.protocolCounts)),
		Ports:      make(map[int]int, len(ad.portCounts)),
		Sources:    make(map[string]int, len(ad.ipCounts)),
	}
	for k, v := range ad.protocolCounts {
		stats.Protocols[k] = v
	}
	for k, v := range ad.portCounts {
		stats.Ports[k] = v
	}
	for k, v := range ad.ipCounts {
		stats.Sources[k] = v
	}
	return stats
}
