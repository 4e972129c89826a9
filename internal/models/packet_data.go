package models

import (
	"encoding/json"
	"time"
)

// Protocol is the single label a classified packet carries.
type Protocol string

const (
	ProtocolUnknown Protocol = "UNKNOWN"
	ProtocolTCP     Protocol = "TCP"
	ProtocolHTTPS   Protocol = "HTTPS"
	ProtocolHTTP    Protocol = "HTTP"
	ProtocolUDP     Protocol = "UDP"
	ProtocolICMP    Protocol = "ICMP"
	ProtocolDNS     Protocol = "DNS"
	ProtocolARP     Protocol = "ARP"
)

// FilterAll is the wire value meaning "no protocol filter".
const FilterAll = "ALL"

// ParseFilter turns a wire filter value into a Protocol. "ALL" and "" mean no filter.
func ParseFilter(s string) Protocol {
	if s == "" || s == FilterAll {
		return ""
	}
	return Protocol(s)
}

// Severity of an AnomalyFinding.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// AnomalyKind enumerates the detector rules.
type AnomalyKind string

const (
	AnomalyHighPacketRate       AnomalyKind = "HIGH_PACKET_RATE"
	AnomalyUnusualPort          AnomalyKind = "UNUSUAL_PORT"
	AnomalyIPFlood              AnomalyKind = "IP_FLOOD"
	AnomalySuspiciousConnection AnomalyKind = "SUSPICIOUS_CONNECTION"
)

// AnomalyFinding is one detected condition, attached to the record that triggered it.
type AnomalyFinding struct {
	Kind     AnomalyKind `json:"type"`
	Message  string      `json:"message"`
	Severity Severity    `json:"severity"`
}

// PacketRecord holds the classified view of one captured frame.
// Zero ports and empty addresses mean the field is absent.
type PacketRecord struct {
	Timestamp time.Time
	Protocol  Protocol
	SrcIP     string
	DstIP     string
	SrcPort   int
	DstPort   int
	Length    int
	Info      string
	Anomalies []AnomalyFinding
}

type packetRecordJSON struct {
	Time      string           `json:"time"`
	Protocol  Protocol         `json:"protocol"`
	SrcIP     *string          `json:"source_ip"`
	SrcPort   *int             `json:"source_port"`
	DstIP     *string          `json:"dest_ip"`
	DstPort   *int             `json:"dest_port"`
	Info      string           `json:"info"`
	Length    int              `json:"length"`
	Anomalies []AnomalyFinding `json:"anomalies"`
}

// MarshalJSON renders the record in the shape observers consume; absent fields are null.
func (p PacketRecord) MarshalJSON() ([]byte, error) {
	out := packetRecordJSON{
		Time:      p.Timestamp.Format("15:04:05"),
		Protocol:  p.Protocol,
		SrcIP:     optString(p.SrcIP),
		SrcPort:   optInt(p.SrcPort),
		DstIP:     optString(p.DstIP),
		DstPort:   optInt(p.DstPort),
		Info:      p.Info,
		Length:    p.Length,
		Anomalies: p.Anomalies,
	}
	if out.Anomalies == nil {
		out.Anomalies = []AnomalyFinding{}
	}
	return json.Marshal(out)
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

// Batch is the set of records accumulated between two delivery triggers.
type Batch struct {
	Records   []PacketRecord
	Anomalies []AnomalyFinding
}

// NewBatch builds a Batch whose Anomalies is the union of its records' findings, in record order.
func NewBatch(records []PacketRecord) Batch {
	return Batch{Records: records, Anomalies: CollectAnomalies(records)}
}

// CollectAnomalies flattens the findings of records in order.
func CollectAnomalies(records []PacketRecord) []AnomalyFinding {
	var out []AnomalyFinding
	for _, r := range records {
		out = append(out, r.Anomalies...)
	}
	return out
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	return len(b.Records)
}
