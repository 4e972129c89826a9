// Package capture runs the background loop that reads frames, classifies them, runs the
// anomaly detector and hands completed batches to a Sink.
package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"netfeed/internal/analysis"
	"netfeed/internal/classifier"
	nferr "netfeed/internal/errors"
	"netfeed/internal/metrics"
	"netfeed/internal/models"
)

// Config controls batching and shutdown.
type Config struct {
	BatchSize    int           // Deliver once this many records are buffered
	SendInterval time.Duration // Deliver once this much time has passed since the last delivery
	StopTimeout  time.Duration // How long Stop waits for the capture goroutine
	Detector     analysis.Config
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:    50,
		SendInterval: 2 * time.Second,
		StopTimeout:  time.Second,
		Detector:     analysis.DefaultConfig(),
	}
}

// State of a Loop.
type State int32

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(lp *Loop) { lp.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(lp *Loop) { lp.metrics = m }
}

// WithClock sets the clock used for batching, detection and the stop timeout.
func WithClock(c clockwork.Clock) Option {
	return func(lp *Loop) { lp.clock = c }
}

// run is one Start..Stop cycle. Its buffer belongs to the goroutine executing it.
type run struct {
	iface string
	done  chan struct{}
	err   error // written before done is closed

	// mu orders the stop flag against sink hand-offs: once Stop has set stop, the run
	// never enqueues again.
	mu   sync.Mutex
	stop atomic.Bool

	buffer       []models.PacketRecord
	count        int
	lastDelivery time.Time
}

// Loop is a single capture session: one goroutine, one detector, one shared filter.
type Loop struct {
	cfg      Config
	source   Source
	sink     Sink
	detector *analysis.AnomalyDetector
	clock    clockwork.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics

	filter atomic.Value // models.Protocol

	mu    sync.Mutex
	state State
	run   *run
}

// NewLoop creates a stopped loop with a fresh detector window.
func NewLoop(cfg Config, source Source, sink Sink, opts ...Option) *Loop {
	l := &Loop{
		cfg:     cfg,
		source:  source,
		sink:    sink,
		clock:   clockwork.NewRealClock(),
		logger:  zap.NewNop(),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("capture")
	l.detector = analysis.NewAnomalyDetector(cfg.Detector, l.clock)
	l.filter.Store(models.Protocol(""))
	return l
}

// Start begins capturing on iface in a new goroutine. It is a no-op while running.
// Open and read failures end the run; watch Done and Err for them.
func (l *Loop) Start(iface string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateRunning {
		return
	}

	r := &run{
		iface:        iface,
		done:         make(chan struct{}),
		lastDelivery: l.clock.Now(),
	}
	l.run = r
	l.state = StateRunning
	l.metrics.CaptureRunning.Set(1)

	l.logger.Info("Starting packet capture", zap.String("interface", iface))
	go l.capture(r)
}

// Stop asks the capture goroutine to halt and waits up to StopTimeout for it. A goroutine
// that does not return in time is abandoned; it exits after its current read. No-op when stopped.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.state != StateRunning {
		l.mu.Unlock()
		return
	}
	r := l.run
	l.state = StateStopped
	l.metrics.CaptureRunning.Set(0)
	l.mu.Unlock()

	r.mu.Lock()
	r.stop.Store(true)
	r.mu.Unlock()

	timer := l.clock.NewTimer(l.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-r.done:
		l.logger.Info("Packet capture stopped", zap.String("interface", r.iface))
	case <-timer.Chan():
		l.logger.Warn("Capture goroutine did not stop in time, abandoning it",
			zap.String("interface", r.iface),
			zap.Duration("timeout", l.cfg.StopTimeout))
	}
}

// State reports whether the loop is running.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed when the current (or most recent) run ends, by Stop or by failure.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.run == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return l.run.done
}

// Err returns the failure that ended the most recent run, or nil if it is still running
// or was stopped normally.
func (l *Loop) Err() error {
	l.mu.Lock()
	r := l.run
	l.mu.Unlock()

	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// SetProtocolFilter sets the label every following frame must carry; "" clears it.
func (l *Loop) SetProtocolFilter(p models.Protocol) {
	l.filter.Store(p)
	if p == "" {
		l.logger.Info("Protocol filter cleared")
		return
	}
	l.logger.Info("Protocol filter set", zap.String("protocol", string(p)))
}

// ProtocolFilter returns the active filter, "" when none.
func (l *Loop) ProtocolFilter() models.Protocol {
	return l.filter.Load().(models.Protocol)
}

// Detector exposes the loop's detector.
func (l *Loop) Detector() *analysis.AnomalyDetector {
	return l.detector
}

func (l *Loop) capture(r *run) {
	defer close(r.done)
	defer l.finish(r)

	handle, err := l.source.Open(r.iface)
	if err != nil {
		r.err = nferr.Wrapf(err, nferr.KindCapture, "open capture on %s", r.iface)
		l.logger.Error("Packet capture failed", zap.Error(r.err))
		return
	}
	defer handle.Close()

	for !r.stop.Load() {
		pkt, err := handle.ReadPacket()
		// A frame read across Stop belongs to the stopped run.
		if r.stop.Load() {
			return
		}
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				l.maybeDeliver(r)
				continue
			}
			r.err = nferr.Wrapf(err, nferr.KindCapture, "read frame on %s", r.iface)
			l.logger.Error("Packet capture failed", zap.Error(r.err))
			return
		}

		if err := l.processFrame(r, pkt); err != nil {
			l.metrics.FrameErrors.Inc()
			l.logger.Warn("Packet processing error", zap.Error(err))
		}
	}
}

func (l *Loop) finish(r *run) {
	r.buffer = nil
	r.count = 0

	l.mu.Lock()
	if l.run == r && l.state == StateRunning {
		l.state = StateStopped
		l.metrics.CaptureRunning.Set(0)
	}
	l.mu.Unlock()

	if r.err != nil {
		l.metrics.CaptureFailures.Inc()
	}
}

func (l *Loop) processFrame(r *run, pkt gopacket.Packet) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = nferr.Errorf(nferr.KindFrame, "process frame: %v", p)
		}
	}()

	l.metrics.Frames.Inc()

	rec, ok := classifier.Classify(pkt, l.ProtocolFilter())
	if !ok {
		l.metrics.FramesFiltered.Inc()
		return nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.clock.Now()
	}

	rec.Anomalies = l.detector.Analyze(rec)
	l.metrics.ObserveRecord(rec)

	r.buffer = append(r.buffer, rec)
	r.count++

	l.maybeDeliver(r)
	return nil
}

// maybeDeliver hands the buffer to the sink once the interval has elapsed or the batch is
// full. An empty buffer still resets the interval but sends nothing. A stopped run sends
// nothing.
func (l *Loop) maybeDeliver(r *run) {
	now := l.clock.Now()
	if now.Sub(r.lastDelivery) < l.cfg.SendInterval && r.count < l.cfg.BatchSize {
		return
	}

	r.lastDelivery = now
	if len(r.buffer) == 0 {
		return
	}

	batch := models.NewBatch(r.buffer)
	r.buffer = make([]models.PacketRecord, 0, l.cfg.BatchSize)
	r.count = 0

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop.Load() {
		return
	}
	if !l.sink.Enqueue(batch) {
		l.metrics.BatchesDropped.Inc()
		l.logger.Debug("Delivery queue full, batch dropped", zap.Int("records", batch.Len()))
	}
}
