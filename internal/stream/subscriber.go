// Package stream fans captured batches out to live subscribers and manages the shared
// capture session they all read from.
package stream

import (
	"sync/atomic"

	"netfeed/internal/models"
)

// Conn is the subscriber transport. *websocket.Conn satisfies it; only the broadcaster
// writes, only the owning Session reads.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// Subscriber is the per-connection state the broadcaster consults on every delivery.
// Flags are updated atomically and independently of each other.
type Subscriber struct {
	ID        string
	Interface string

	conn   Conn
	paused atomic.Bool
	filter atomic.Value // models.Protocol
}

// NewSubscriber creates a subscriber with its initial pause flag and filter.
func NewSubscriber(id string, conn Conn, iface string, paused bool, filter models.Protocol) *Subscriber {
	s := &Subscriber{ID: id, Interface: iface, conn: conn}
	s.paused.Store(paused)
	s.filter.Store(filter)
	return s
}

func (s *Subscriber) Pause()         { s.paused.Store(true) }
func (s *Subscriber) Resume()        { s.paused.Store(false) }
func (s *Subscriber) IsPaused() bool { return s.paused.Load() }

// SetFilter sets the label this subscriber wants to see; "" means all.
func (s *Subscriber) SetFilter(p models.Protocol) { s.filter.Store(p) }

// Filter returns the subscriber's filter.
func (s *Subscriber) Filter() models.Protocol { return s.filter.Load().(models.Protocol) }

// view narrows a batch to the records matching the subscriber's own filter.
func (s *Subscriber) view(batch models.Batch) models.Batch {
	filter := s.Filter()
	if filter == "" {
		return batch
	}

	records := make([]models.PacketRecord, 0, len(batch.Records))
	for _, r := range batch.Records {
		if r.Protocol == filter {
			records = append(records, r)
		}
	}
	return models.NewBatch(records)
}
