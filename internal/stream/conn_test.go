package stream

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"

	"netfeed/internal/capture"
	"netfeed/internal/models"
)

var errClosed = errors.New("use of closed connection")

// fakeConn records every message written to it and serves queued inbound messages.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	failWrites atomic.Bool
	closeGate  chan struct{} // when set, Close waits for it

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, errClosed
	default:
	}
	select {
	case data := <-c.in:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errClosed
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	if c.IsClosed() {
		return errClosed
	}
	if c.failWrites.Load() {
		return errors.New("broken pipe")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	if c.closeGate != nil {
		<-c.closeGate
	}
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) send(s string) { c.in <- []byte(s) }

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *fakeConn) messages() []wireMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wireMessage, 0, len(c.written))
	for _, data := range c.written {
		var m wireMessage
		if err := json.Unmarshal(data, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) types() []string {
	var out []string
	for _, m := range c.messages() {
		out = append(out, m.Type)
	}
	return out
}

// infos returns the info field of every record in every packets message, in order.
func (c *fakeConn) infos() []string {
	var out []string
	for _, m := range c.messages() {
		if m.Type != models.MessagePackets {
			continue
		}
		var recs []struct {
			Info string `json:"info"`
		}
		if err := json.Unmarshal(m.Data, &recs); err == nil {
			for _, r := range recs {
				out = append(out, r.Info)
			}
		}
	}
	return out
}

// stubSource feeds frames pushed on its channel to every handle it opens.
type stubSource struct {
	frames  chan gopacket.Packet
	openErr atomic.Value // error
	opens   atomic.Int32
}

func newStubSource() *stubSource {
	return &stubSource{frames: make(chan gopacket.Packet, 64)}
}

func (s *stubSource) failOpens(err error) { s.openErr.Store(&err) }

func (s *stubSource) Open(iface string) (capture.Handle, error) {
	s.opens.Add(1)
	if v, ok := s.openErr.Load().(*error); ok && *v != nil {
		return nil, *v
	}
	return &stubHandle{src: s}, nil
}

type stubHandle struct{ src *stubSource }

func (h *stubHandle) ReadPacket() (gopacket.Packet, error) {
	select {
	case p := <-h.src.frames:
		return p, nil
	case <-time.After(2 * time.Millisecond):
		return nil, capture.ErrReadTimeout
	}
}

func (h *stubHandle) Close() {}

func record(proto models.Protocol, info string, anomalies ...models.AnomalyFinding) models.PacketRecord {
	return models.PacketRecord{
		Timestamp: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Protocol:  proto,
		SrcIP:     "10.0.0.2",
		DstIP:     "10.0.0.3",
		Length:    60,
		Info:      info,
		Anomalies: anomalies,
	}
}
