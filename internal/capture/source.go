package capture

import (
	"errors"

	"github.com/google/gopacket"

	"netfeed/internal/models"
)

// ErrReadTimeout is returned by Handle.ReadPacket when no frame arrived within the
// handle's read timeout. The loop uses it to check the stop flag and flush idle batches.
var ErrReadTimeout = errors.New("capture: read timeout")

// Source opens live frame streams.
type Source interface {
	Open(iface string) (Handle, error)
}

// Handle is an open capture on one interface. ReadPacket is only called from the
// capture goroutine; Close is called once, from the same goroutine, after the last read.
type Handle interface {
	ReadPacket() (gopacket.Packet, error)
	Close()
}

// Sink receives completed batches. Enqueue must not block; it reports false when the batch
// was dropped.
type Sink interface {
	Enqueue(batch models.Batch) bool
}
