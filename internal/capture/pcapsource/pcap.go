// Package pcapsource implements capture.Source on top of libpcap.
package pcapsource

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"netfeed/internal/capture"
)

// Config controls how live handles are opened.
type Config struct {
	Snaplen     int32
	Promisc     bool
	ReadTimeout time.Duration // Bounds how long a read blocks, so stop requests are seen promptly
	BPFFilter   string
}

// Source opens pcap live handles.
type Source struct {
	cfg Config
}

// New returns a Source using cfg.
func New(cfg Config) *Source {
	if cfg.Snaplen <= 0 {
		cfg.Snaplen = 65536
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	return &Source{cfg: cfg}
}

// Open starts a live capture on iface.
func (s *Source) Open(iface string) (capture.Handle, error) {
	h, err := pcap.OpenLive(iface, s.cfg.Snaplen, s.cfg.Promisc, s.cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("could not open handle on %s: %w", iface, err)
	}

	if s.cfg.BPFFilter != "" {
		if err := h.SetBPFFilter(s.cfg.BPFFilter); err != nil {
			h.Close()
			return nil, fmt.Errorf("could not set BPF filter %q: %w", s.cfg.BPFFilter, err)
		}
	}

	return &handle{
		pcap: h,
		src:  gopacket.NewPacketSource(h, h.LinkType()),
	}, nil
}

type handle struct {
	pcap *pcap.Handle
	src  *gopacket.PacketSource
}

func (h *handle) ReadPacket() (gopacket.Packet, error) {
	pkt, err := h.src.NextPacket()
	if err == pcap.NextErrorTimeoutExpired {
		return nil, capture.ErrReadTimeout
	}
	if err != nil {
		return nil, err
	}
	return pkt, nil
}

func (h *handle) Close() {
	h.pcap.Close()
}
