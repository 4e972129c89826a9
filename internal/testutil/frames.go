// Package testutil builds decoded frames for tests without a live capture handle.
package testutil

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	hostMAC    = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	gatewayMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	broadcast  = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

func ethernet(t layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: hostMAC, DstMAC: gatewayMAC, EthernetType: t}
}

func ipv4(src, dst string, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
}

// Build serializes the layers and decodes them back into a packet stamped with ts.
func Build(t testing.TB, ts time.Time, ls ...gopacket.SerializableLayer) gopacket.Packet {
	t.Helper()

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("serialize frame: %v", err)
	}

	pkt := gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
	pkt.Metadata().Timestamp = ts
	pkt.Metadata().CaptureLength = len(buf.Bytes())
	pkt.Metadata().Length = len(buf.Bytes())
	return pkt
}

// TCPFrame builds an Ethernet/IPv4/TCP frame with no payload.
func TCPFrame(t testing.TB, src, dst string, sport, dport int) gopacket.Packet {
	ip := ipv4(src, dst, layers.IPProtocolTCP)
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), SYN: true, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("tcp checksum layer: %v", err)
	}
	return Build(t, time.Time{}, ethernet(layers.EthernetTypeIPv4), ip, tcp)
}

// UDPFrame builds an Ethernet/IPv4/UDP frame carrying payload.
func UDPFrame(t testing.TB, src, dst string, sport, dport int, payload []byte) gopacket.Packet {
	ip := ipv4(src, dst, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("udp checksum layer: %v", err)
	}
	return Build(t, time.Time{}, ethernet(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload(payload))
}

func dnsFrame(t testing.TB, src, dst string, sport, dport int, msg *layers.DNS) gopacket.Packet {
	ip := ipv4(src, dst, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("udp checksum layer: %v", err)
	}
	return Build(t, time.Time{}, ethernet(layers.EthernetTypeIPv4), ip, udp, msg)
}

// DNSQueryFrame builds a UDP/53 query for name.
func DNSQueryFrame(t testing.TB, src, dst string, name string) gopacket.Packet {
	msg := &layers.DNS{
		ID:     0x1234,
		RD:     true,
		OpCode: layers.DNSOpCodeQuery,
		Questions: []layers.DNSQuestion{
			{Name: []byte(name), Type: layers.DNSTypeA, Class: layers.DNSClassIN},
		},
	}
	return dnsFrame(t, src, dst, 53000, 53, msg)
}

// DNSResponseFrame builds a UDP/53 response answering name with addr.
func DNSResponseFrame(t testing.TB, src, dst string, name, addr string) gopacket.Packet {
	msg := &layers.DNS{
		ID:     0x1234,
		QR:     true,
		RD:     true,
		RA:     true,
		OpCode: layers.DNSOpCodeQuery,
		Questions: []layers.DNSQuestion{
			{Name: []byte(name), Type: layers.DNSTypeA, Class: layers.DNSClassIN},
		},
		Answers: []layers.DNSResourceRecord{
			{Name: []byte(name), Type: layers.DNSTypeA, Class: layers.DNSClassIN, TTL: 60, IP: net.ParseIP(addr).To4()},
		},
	}
	return dnsFrame(t, src, dst, 53, 53000, msg)
}

// ARPFrame builds an ARP frame with the given operation (1 request, 2 reply).
func ARPFrame(t testing.TB, op uint16, senderIP, targetIP string) gopacket.Packet {
	eth := &layers.Ethernet{SrcMAC: hostMAC, DstMAC: broadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   []byte(hostMAC),
		SourceProtAddress: []byte(net.ParseIP(senderIP).To4()),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte(net.ParseIP(targetIP).To4()),
	}
	return Build(t, time.Time{}, eth, arp)
}

// ICMPEchoFrame builds an ICMPv4 echo request.
func ICMPEchoFrame(t testing.TB, src, dst string) gopacket.Packet {
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       7,
		Seq:      1,
	}
	return Build(t, time.Time{}, ethernet(layers.EthernetTypeIPv4), ipv4(src, dst, layers.IPProtocolICMPv4), icmp)
}

// ICMPUnreachableFrame builds an ICMPv4 port-unreachable message.
func ICMPUnreachableFrame(t testing.TB, src, dst string) gopacket.Packet {
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodePort),
	}
	return Build(t, time.Time{}, ethernet(layers.EthernetTypeIPv4), ipv4(src, dst, layers.IPProtocolICMPv4), icmp)
}

// RawFrame builds an Ethernet frame whose EtherType the decoder does not understand.
func RawFrame(t testing.TB) gopacket.Packet {
	return Build(t, time.Time{}, ethernet(layers.EthernetType(0x88b5)), gopacket.Payload([]byte("local experimental")))
}
