// Package classifier turns decoded frames into PacketRecords.
//
// Labels come from an ordered table of stages. Within a stage the first rule whose layer is
// present in the frame wins; a later stage overrides the label set by an earlier one. That
// is how a DNS message riding on UDP ends up labelled DNS.
package classifier

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"netfeed/internal/models"
)

type rule struct {
	layer gopacket.LayerType
	apply func(l gopacket.Layer, rec *models.PacketRecord)
}

type stage []rule

var stages = []stage{
	// transport
	{
		{layers.LayerTypeTCP, applyTCP},
		{layers.LayerTypeUDP, applyUDP},
		{layers.LayerTypeICMPv4, applyICMPv4},
		{layers.LayerTypeICMPv6, applyICMPv6},
	},
	// application / link control
	{
		{layers.LayerTypeDNS, applyDNS},
		{layers.LayerTypeARP, applyARP},
	},
}

// Classify builds a record for pkt. When filter is non-empty and the resolved label differs
// from it, ok is false and the frame produces no record. Classify is pure: identical frames
// give identical records.
func Classify(pkt gopacket.Packet, filter models.Protocol) (rec models.PacketRecord, ok bool) {
	rec = models.PacketRecord{
		Protocol: models.ProtocolUnknown,
		Length:   len(pkt.Data()),
	}
	if md := pkt.Metadata(); md != nil {
		rec.Timestamp = md.Timestamp
	}

	applyNetwork(pkt, &rec)

	for _, st := range stages {
		for _, r := range st {
			if l := pkt.Layer(r.layer); l != nil {
				r.apply(l, &rec)
				break
			}
		}
	}

	if filter != "" && rec.Protocol != filter {
		return models.PacketRecord{}, false
	}
	return rec, true
}

func applyNetwork(pkt gopacket.Packet, rec *models.PacketRecord) {
	switch nl := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		rec.SrcIP = nl.SrcIP.String()
		rec.DstIP = nl.DstIP.String()
	case *layers.IPv6:
		rec.SrcIP = nl.SrcIP.String()
		rec.DstIP = nl.DstIP.String()
	}
}

func applyTCP(l gopacket.Layer, rec *models.PacketRecord) {
	tcp := l.(*layers.TCP)
	rec.SrcPort = int(tcp.SrcPort)
	rec.DstPort = int(tcp.DstPort)

	switch {
	case rec.SrcPort == 443 || rec.DstPort == 443:
		rec.Protocol = models.ProtocolHTTPS
	case rec.SrcPort == 80 || rec.DstPort == 80:
		rec.Protocol = models.ProtocolHTTP
	default:
		rec.Protocol = models.ProtocolTCP
	}
	rec.Info = fmt.Sprintf("%s %d → %d", rec.Protocol, rec.SrcPort, rec.DstPort)
}

func applyUDP(l gopacket.Layer, rec *models.PacketRecord) {
	udp := l.(*layers.UDP)
	rec.Protocol = models.ProtocolUDP
	rec.SrcPort = int(udp.SrcPort)
	rec.DstPort = int(udp.DstPort)
	rec.Info = fmt.Sprintf("UDP %d → %d", rec.SrcPort, rec.DstPort)
}

func applyICMPv4(l gopacket.Layer, rec *models.PacketRecord) {
	icmp := l.(*layers.ICMPv4)
	rec.Protocol = models.ProtocolICMP
	switch icmp.TypeCode.Type() {
	case layers.ICMPv4TypeEchoRequest, layers.ICMPv4TypeEchoReply:
		rec.Info = "ICMP Echo"
	default:
		rec.Info = "ICMP " + icmp.TypeCode.String()
	}
}

func applyICMPv6(l gopacket.Layer, rec *models.PacketRecord) {
	icmp := l.(*layers.ICMPv6)
	rec.Protocol = models.ProtocolICMP
	switch icmp.TypeCode.Type() {
	case layers.ICMPv6TypeEchoRequest, layers.ICMPv6TypeEchoReply:
		rec.Info = "ICMP Echo"
	default:
		rec.Info = "ICMP " + icmp.TypeCode.String()
	}
}

func applyDNS(l gopacket.Layer, rec *models.PacketRecord) {
	dns := l.(*layers.DNS)
	rec.Protocol = models.ProtocolDNS
	if dns.QR {
		rec.Info = "DNS Response"
		return
	}
	if len(dns.Questions) > 0 {
		rec.Info = "DNS Query: " + string(dns.Questions[0].Name)
		return
	}
	rec.Info = "DNS Query"
}

func applyARP(l gopacket.Layer, rec *models.PacketRecord) {
	arp := l.(*layers.ARP)
	rec.Protocol = models.ProtocolARP
	rec.SrcIP = net.IP(arp.SourceProtAddress).String()
	rec.DstIP = net.IP(arp.DstProtAddress).String()
	if arp.Operation == layers.ARPRequest {
		rec.Info = "ARP Request"
	} else {
		rec.Info = "ARP Reply"
	}
}
