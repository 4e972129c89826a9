package stream

import (
	"context"
	"sync"

	"go.uber.org/zap"

	nferr "netfeed/internal/errors"
	"netfeed/internal/metrics"
	"netfeed/internal/models"
)

// Broadcaster owns the subscriber set. The capture goroutine hands batches over with
// Enqueue; a single Run goroutine performs every fan-out, so each subscriber sees batches
// in production order.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber

	queue     chan models.Batch
	observers []func(models.Batch)

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewBroadcaster creates a broadcaster whose hand-off queue holds queueSize batches.
func NewBroadcaster(queueSize int, logger *zap.Logger, m *metrics.Metrics) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Broadcaster{
		subs:    make(map[string]*Subscriber),
		queue:   make(chan models.Batch, queueSize),
		logger:  logger.Named("broadcast"),
		metrics: m,
	}
}

// Observe registers fn to see every delivered batch before fan-out. Call before Run.
func (b *Broadcaster) Observe(fn func(models.Batch)) {
	b.observers = append(b.observers, fn)
}

// Add registers a subscriber.
func (b *Broadcaster) Add(sub *Subscriber) {
	b.mu.Lock()
	b.subs[sub.ID] = sub
	n := len(b.subs)
	b.mu.Unlock()

	b.metrics.Subscribers.Set(float64(n))
	b.logger.Info("Subscriber connected",
		zap.String("subscriber", sub.ID),
		zap.String("interface", sub.Interface),
		zap.Int("subscribers", n))
}

// Remove drops a subscriber and reports whether it was present.
func (b *Broadcaster) Remove(id string) bool {
	b.mu.Lock()
	_, ok := b.subs[id]
	delete(b.subs, id)
	n := len(b.subs)
	b.mu.Unlock()

	if ok {
		b.metrics.Subscribers.Set(float64(n))
		b.logger.Info("Subscriber disconnected", zap.String("subscriber", id), zap.Int("subscribers", n))
	}
	return ok
}

// Get returns the subscriber with id.
func (b *Broadcaster) Get(id string) (*Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sub, ok := b.subs[id]
	return sub, ok
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Enqueue hands a batch to the fan-out goroutine without blocking. It returns false and
// drops the batch when the queue is full.
func (b *Broadcaster) Enqueue(batch models.Batch) bool {
	select {
	case b.queue <- batch:
		return true
	default:
		return false
	}
}

// Run delivers queued batches until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-b.queue:
			b.Deliver(batch)
		}
	}
}

// Deliver fans one batch out to every subscriber that is not paused. The packets message
// always precedes the anomalies message. Subscribers whose writes fail are removed once
// the whole pass is done and closed in the background.
func (b *Broadcaster) Deliver(batch models.Batch) {
	if batch.Len() == 0 {
		return
	}

	for _, fn := range b.observers {
		fn(batch)
	}

	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var failed []*Subscriber
	for _, sub := range subs {
		if sub.IsPaused() {
			continue
		}
		if err := b.send(sub, sub.view(batch)); err != nil {
			b.metrics.SendErrors.Inc()
			b.logger.Warn("Send failed, dropping subscriber",
				zap.String("subscriber", sub.ID),
				zap.Error(err))
			failed = append(failed, sub)
		}
	}

	// Close can wait out a write deadline on a dead peer.
	for _, sub := range failed {
		b.Remove(sub.ID)
		go sub.conn.Close()
	}
	b.metrics.BatchesDelivered.Inc()
}

func (b *Broadcaster) send(sub *Subscriber, view models.Batch) error {
	if view.Len() == 0 {
		return nil
	}

	msg := models.PacketsMessage{Type: models.MessagePackets, Data: view.Records}
	if err := sub.conn.WriteJSON(msg); err != nil {
		return nferr.Wrap(err, nferr.KindTransport, "send packets")
	}
	b.metrics.MessagesSent.WithLabelValues(models.MessagePackets).Inc()

	if len(view.Anomalies) == 0 {
		return nil
	}
	anomalies := models.AnomaliesMessage{Type: models.MessageAnomalies, Data: view.Anomalies}
	if err := sub.conn.WriteJSON(anomalies); err != nil {
		return nferr.Wrap(err, nferr.KindTransport, "send anomalies")
	}
	b.metrics.MessagesSent.WithLabelValues(models.MessageAnomalies).Inc()
	return nil
}

// CloseAll removes and closes every subscriber.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscriber)
	b.mu.Unlock()

	b.metrics.Subscribers.Set(0)
	for _, sub := range subs {
		sub.conn.Close()
	}
}
